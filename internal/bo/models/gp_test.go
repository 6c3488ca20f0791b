package models

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/kernels"
)

func newTestGP(t *testing.T) *GP {
	t.Helper()
	k, err := kernels.NewMatern52(1.0, 1.0)
	require.NoError(t, err)
	return NewGP(k, 1e-8, nil)
}

// trainingSet1D builds observations of f(x) = sin(x) on a small grid.
func trainingSet1D() (*mat.Dense, *mat.VecDense) {
	xs := []float64{-2, -1, 0, 1, 2, 3}
	X := mat.NewDense(len(xs), 1, nil)
	y := mat.NewVecDense(len(xs), nil)
	for i, x := range xs {
		X.Set(i, 0, x)
		y.SetVec(i, math.Sin(x))
	}
	return X, y
}

func TestGPFitValidation(t *testing.T) {
	gp := newTestGP(t)

	tests := []struct {
		name string
		X    *mat.Dense
		y    *mat.VecDense
	}{
		{"nil inputs", nil, nil},
		{"dimension mismatch", mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewVecDense(2, []float64{1, 2})},
		{"too few observations", mat.NewDense(1, 1, []float64{1}), mat.NewVecDense(1, []float64{1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gp.Fit(tt.X, tt.y)
			require.Error(t, err)
			assert.True(t, bo.IsModelFitError(err), "expected model-fit error, got %v", err)
		})
	}
	assert.False(t, gp.Fitted())
}

func TestGPPredictBeforeFit(t *testing.T) {
	gp := newTestGP(t)
	_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
	require.Error(t, err)
	assert.True(t, bo.IsModelFitError(err))
}

func TestGPInterpolatesTrainingPoints(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))
	require.True(t, gp.Fitted())

	mean, variance, err := gp.Predict(X)
	require.NoError(t, err)

	for i := 0; i < y.Len(); i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 1e-3,
			"posterior mean should pass near training point %d", i)
		assert.Less(t, variance.AtVec(i), 1e-3,
			"posterior variance should collapse at training point %d", i)
	}
}

func TestGPVarianceGrowsAwayFromData(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))

	test := mat.NewDense(2, 1, []float64{0.5, 10})
	_, variance, err := gp.Predict(test)
	require.NoError(t, err)

	assert.Less(t, variance.AtVec(0), variance.AtVec(1),
		"uncertainty far from the data must exceed uncertainty inside it")
	assert.InDelta(t, 1.0, variance.AtVec(1), 0.05,
		"far from the data the variance reverts to the prior")
}

func TestGPPredictWithGradients(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))

	x := []float64{0.7}
	mu, sigma, dmu, dsigma, err := gp.PredictWithGradients(x)
	require.NoError(t, err)
	require.Len(t, dmu, 1)
	require.Len(t, dsigma, 1)
	assert.Greater(t, sigma, 0.0)

	const h = 1e-6
	muP, sigmaP, _, _, err := gp.PredictWithGradients([]float64{x[0] + h})
	require.NoError(t, err)
	muM, sigmaM, _, _, err := gp.PredictWithGradients([]float64{x[0] - h})
	require.NoError(t, err)

	assert.InDelta(t, (muP-muM)/(2*h), dmu[0], 1e-4, "mean gradient")
	assert.InDelta(t, (sigmaP-sigmaM)/(2*h), dsigma[0], 1e-4, "sigma gradient")
	_ = mu
}

func TestGPPredictWithGradientsDimCheck(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))

	_, _, _, _, err := gp.PredictWithGradients([]float64{0, 0})
	require.Error(t, err)
	assert.True(t, bo.IsModelFitError(err))
}

func TestGPFailedRefitKeepsState(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))

	err := gp.Fit(mat.NewDense(1, 1, []float64{0}), mat.NewVecDense(1, []float64{0}))
	require.Error(t, err)

	// The previous fit must still answer predictions.
	mean, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
	require.NoError(t, err)
	assert.InDelta(t, 0, mean.AtVec(0), 1e-3)
}

func TestGPSample(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))

	grid := mat.NewDense(4, 1, []float64{-1, 0, 1, 2})
	rng := rand.New(rand.NewSource(7))
	samples, err := gp.Sample(grid, 3, rng)
	require.NoError(t, err)

	rows, cols := samples.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 3, cols)

	// Near the data the draws hug the mean.
	mean, _, err := gp.Predict(grid)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.InDelta(t, mean.AtVec(i), samples.At(i, j), 0.5)
		}
	}

	_, err = gp.Sample(grid, 0, rng)
	assert.Error(t, err)
}

func TestGPLogMarginalLikelihood(t *testing.T) {
	X, y := trainingSet1D()

	good := newTestGP(t)
	lmlGood, err := good.LogMarginalLikelihood(X, y)
	require.NoError(t, err)

	// A badly mis-scaled kernel should explain the data worse.
	k, err := kernels.NewMatern52(100, 1e-4)
	require.NoError(t, err)
	bad := NewGP(k, 1e-8, nil)
	lmlBad, err := bad.LogMarginalLikelihood(X, y)
	require.NoError(t, err)

	assert.Greater(t, lmlGood, lmlBad)
}

func TestGPHyperparameterOptimizationImprovesLikelihood(t *testing.T) {
	X, y := trainingSet1D()

	// A mis-scaled starting kernel: lengthscale far too wide, variance far
	// too small for sin data.
	k, err := kernels.NewMatern52(10, 0.1)
	require.NoError(t, err)
	gp := NewGP(k, 1e-8, nil)

	before, err := gp.LogMarginalLikelihood(X, y)
	require.NoError(t, err)

	gp.OptimizeHyperparameters()
	require.NoError(t, gp.Fit(X, y))

	after, err := gp.LogMarginalLikelihood(X, y)
	require.NoError(t, err)
	assert.Greater(t, after, before, "marginal likelihood must improve from a mis-scaled start")

	// The optimized fit still interpolates the data.
	mean, _, err := gp.Predict(X)
	require.NoError(t, err)
	for i := 0; i < y.Len(); i++ {
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 0.2)
	}
}

func TestGPHyperparameterOptimizationOffByDefault(t *testing.T) {
	gp := newTestGP(t)
	X, y := trainingSet1D()
	require.NoError(t, gp.Fit(X, y))
	assert.Equal(t, []float64{1, 1}, gp.Kernel().Hyperparameters())
}

func TestGPDuplicateRowsStillSolvable(t *testing.T) {
	// Duplicate rows make the kernel matrix singular without noise; the
	// jitter escalation has to cope.
	gp := newTestGP(t)
	X := mat.NewDense(4, 1, []float64{1, 1, 2, 3})
	y := mat.NewVecDense(4, []float64{0.5, 0.5, 1.0, 1.5})

	require.NoError(t, gp.Fit(X, y))
	mean, _, err := gp.Predict(mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mean.AtVec(0), 0.1)
}
