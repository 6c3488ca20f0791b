package bo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() Options {
	opts := DefaultOptions()
	opts.Domain = []Variable{
		{Name: "x1", Kind: Continuous, Min: 0, Max: 1},
		{Name: "x2", Kind: Continuous, Min: -5, Max: 5},
	}
	return opts
}

func TestDefaultOptionsAreValid(t *testing.T) {
	opts := validOptions()
	require.NoError(t, opts.Validate())
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		kind   Kind
	}{
		{
			name:   "empty domain",
			mutate: func(o *Options) { o.Domain = nil },
			kind:   KindConfiguration,
		},
		{
			name: "malformed variable",
			mutate: func(o *Options) {
				o.Domain = []Variable{{Name: "x", Kind: Continuous, Min: 1, Max: 0}}
			},
			kind: KindConfiguration,
		},
		{
			name:   "unknown model",
			mutate: func(o *Options) { o.ModelType = "SVM" },
			kind:   KindConfiguration,
		},
		{
			name:   "unknown acquisition",
			mutate: func(o *Options) { o.AcquisitionType = "entropy" },
			kind:   KindConfiguration,
		},
		{
			name:   "unknown acquisition optimizer",
			mutate: func(o *Options) { o.AcquisitionOptimizerType = "adam" },
			kind:   KindConfiguration,
		},
		{
			name:   "unknown evaluator",
			mutate: func(o *Options) { o.EvaluatorType = "greedy" },
			kind:   KindConfiguration,
		},
		{
			name:   "unknown design",
			mutate: func(o *Options) { o.InitialDesignType = DesignType("sobol") },
			kind:   KindConfiguration,
		},
		{
			name:   "MCMC acquisition over point-estimate model",
			mutate: func(o *Options) { o.AcquisitionType = AcqEIMCMC; o.ModelType = ModelGP },
			kind:   KindIncompatibleModel,
		},
		{
			name:   "sequential with batch",
			mutate: func(o *Options) { o.BatchSize = 4 },
			kind:   KindConfiguration,
		},
		{
			name: "thompson sampling over RF",
			mutate: func(o *Options) {
				o.EvaluatorType = EvalThompsonSampling
				o.ModelType = ModelRF
			},
			kind: KindConfiguration,
		},
		{
			name:   "zero iterations",
			mutate: func(o *Options) { o.MaxIterations = 0 },
			kind:   KindConfiguration,
		},
		{
			name:   "negative cores",
			mutate: func(o *Options) { o.NumCores = -1 },
			kind:   KindConfiguration,
		},
		{
			name: "X and Y not co-indexed",
			mutate: func(o *Options) {
				o.X = [][]float64{{0.1, 0.1}}
				o.Y = []float64{1, 2}
			},
			kind: KindConfiguration,
		},
		{
			name: "X row dimension mismatch",
			mutate: func(o *Options) {
				o.X = [][]float64{{0.1}}
			},
			kind: KindConfiguration,
		},
		{
			name: "cost function and cost type together",
			mutate: func(o *Options) {
				o.CostWithGradients = func(x []float64) (float64, []float64) { return 1, nil }
				o.CostType = CostEvaluationTime
			},
			kind: KindConfiguration,
		},
		{
			name:   "unknown cost type",
			mutate: func(o *Options) { o.CostType = "carbon" },
			kind:   KindConfiguration,
		},
		{
			name:   "unknown discrete handling",
			mutate: func(o *Options) { o.DiscreteHandling = "snap" },
			kind:   KindConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "expected kind %v, got %v", tt.kind, err)
		})
	}
}

func TestOptionsValidateMCMCPairing(t *testing.T) {
	opts := validOptions()
	opts.ModelType = ModelGPMCMC
	opts.AcquisitionType = AcqLCBMCMC
	assert.NoError(t, opts.Validate())
}

func TestMCMCAcquisition(t *testing.T) {
	assert.True(t, MCMCAcquisition(AcqEIMCMC))
	assert.True(t, MCMCAcquisition(AcqMPIMCMC))
	assert.True(t, MCMCAcquisition(AcqLCBMCMC))
	assert.False(t, MCMCAcquisition(AcqEI))
	assert.False(t, MCMCAcquisition(AcqLCB))
}

func TestOptionsAcceptsSeededObservations(t *testing.T) {
	opts := validOptions()
	opts.X = [][]float64{{0.1, 0.5}, {0.9, -2}}
	opts.Y = []float64{1.5, 0.3}
	assert.NoError(t, opts.Validate())
}
