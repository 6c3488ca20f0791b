package bo

import (
	"strings"
	"time"
)

// Component tags. The sets are closed: configuration is validated against
// them eagerly, before any component is built.
const (
	ModelGP            = "GP"
	ModelGPMCMC        = "GP_MCMC"
	ModelSparseGP      = "sparseGP"
	ModelWarpedGP      = "warpedGP"
	ModelInputWarpedGP = "InputWarpedGP"
	ModelRF            = "RF"

	AcqEI      = "EI"
	AcqEIMCMC  = "EI_MCMC"
	AcqMPI     = "MPI"
	AcqMPIMCMC = "MPI_MCMC"
	AcqLCB     = "LCB"
	AcqLCBMCMC = "LCB_MCMC"

	OptLBFGS  = "lbfgs"
	OptDirect = "DIRECT"
	OptCMA    = "CMA"

	EvalSequential        = "sequential"
	EvalRandom            = "random"
	EvalLocalPenalization = "local_penalization"
	EvalThompsonSampling  = "thompson_sampling"
)

var (
	modelTags     = []string{ModelGP, ModelGPMCMC, ModelSparseGP, ModelWarpedGP, ModelInputWarpedGP, ModelRF}
	acqTags       = []string{AcqEI, AcqEIMCMC, AcqMPI, AcqMPIMCMC, AcqLCB, AcqLCBMCMC}
	optTags       = []string{OptLBFGS, OptDirect, OptCMA}
	evaluatorTags = []string{EvalSequential, EvalRandom, EvalLocalPenalization, EvalThompsonSampling}
	designTags    = []string{string(DesignRandom), string(DesignLatin)}
)

// Options is the construction-time configuration of an optimization run.
// Everything here is validated at creation, not at use.
type Options struct {
	// Domain describes the design space, one descriptor per dimension.
	Domain []Variable
	// Constraints restrict the feasible region.
	Constraints []Constraint

	ModelType                string
	AcquisitionType          string
	AcquisitionOptimizerType string
	EvaluatorType            string

	InitialDesignType    DesignType
	InitialDesignNumData int

	BatchSize           int
	NumCores            int
	ModelUpdateInterval int

	// MaxIterations bounds the number of loop iterations per Run call.
	MaxIterations int
	// MaxTime bounds the wall clock per Run call; zero means unbounded.
	MaxTime time.Duration
	// Eps stops the loop once the distance between the last two evaluated
	// points falls below it; zero disables the check.
	Eps float64

	NormalizeY    bool
	ExactFeval    bool
	Maximize      bool
	DeDuplication bool

	// X, Y optionally seed the observation set (co-indexed, equal row
	// count). When both are supplied, initial design sampling is skipped
	// entirely and InitialDesignNumData is ignored. When only X is given,
	// the objective is evaluated at its rows during initialization.
	X [][]float64
	Y []float64

	// CostWithGradients is an explicit evaluation cost. Mutually exclusive
	// with CostType.
	CostWithGradients CostFunc
	// CostType may be set to CostEvaluationTime to learn a cost surrogate
	// from observed wall-clock durations.
	CostType string

	// Jitter is the exploration margin of EI and MPI.
	Jitter float64
	// ExplorationWeight is the uncertainty weight of LCB.
	ExplorationWeight float64

	// DiscreteHandling selects how the acquisition optimizer treats
	// discrete dimensions: "round" projects the continuous optimum,
	// "polish" re-optimizes the continuous dimensions after projecting.
	DiscreteHandling string

	// RandomSeed makes the run reproducible; zero seeds from the clock.
	RandomSeed int64
}

// DefaultOptions mirrors the defaults of the reference configuration
// surface.
func DefaultOptions() Options {
	return Options{
		ModelType:                ModelGP,
		AcquisitionType:          AcqEI,
		AcquisitionOptimizerType: OptLBFGS,
		EvaluatorType:            EvalSequential,
		InitialDesignType:        DesignRandom,
		InitialDesignNumData:     7,
		BatchSize:                1,
		NumCores:                 1,
		ModelUpdateInterval:      1,
		MaxIterations:            50,
		NormalizeY:               true,
		Jitter:                   0.01,
		ExplorationWeight:        2,
		DiscreteHandling:         "round",
	}
}

// MCMCAcquisition reports whether the tag names an MCMC-integrated
// acquisition.
func MCMCAcquisition(tag string) bool { return strings.HasSuffix(tag, "_MCMC") }

func oneOf(tag string, set []string) bool {
	for _, t := range set {
		if tag == t {
			return true
		}
	}
	return false
}

// Validate checks the whole construction surface and returns a
// configuration error (or an incompatible-model error) on the first
// violation.
func (o *Options) Validate() error {
	const op = "Options.Validate"
	fail := func(e *Error) error { return e.WithOperation(op).WithComponent("options") }

	if len(o.Domain) == 0 {
		return fail(NewError(KindConfiguration, "domain is required"))
	}
	for _, v := range o.Domain {
		if err := v.validate(); err != nil {
			return err
		}
	}
	if !oneOf(o.ModelType, modelTags) {
		return fail(NewErrorf(KindConfiguration, "unknown model type %q", o.ModelType))
	}
	if !oneOf(o.AcquisitionType, acqTags) {
		return fail(NewErrorf(KindConfiguration, "unknown acquisition type %q", o.AcquisitionType))
	}
	if !oneOf(o.AcquisitionOptimizerType, optTags) {
		return fail(NewErrorf(KindConfiguration, "unknown acquisition optimizer type %q", o.AcquisitionOptimizerType))
	}
	if !oneOf(o.EvaluatorType, evaluatorTags) {
		return fail(NewErrorf(KindConfiguration, "unknown evaluator type %q", o.EvaluatorType))
	}
	if !oneOf(string(o.InitialDesignType), designTags) {
		return fail(NewErrorf(KindConfiguration, "unknown initial design type %q", o.InitialDesignType))
	}

	// MCMC-integrated acquisitions average over hyperparameter samples that
	// only MCMC models expose. Checked here so the failure happens before
	// any evaluation.
	if MCMCAcquisition(o.AcquisitionType) && o.ModelType != ModelGPMCMC {
		return fail(NewErrorf(KindIncompatibleModel,
			"acquisition %q requires model %q, got %q", o.AcquisitionType, ModelGPMCMC, o.ModelType))
	}
	if o.EvaluatorType == EvalSequential && o.BatchSize > 1 {
		return fail(NewErrorf(KindConfiguration,
			"sequential evaluator requires batch_size=1, got %d", o.BatchSize))
	}
	if o.EvaluatorType == EvalThompsonSampling && o.ModelType == ModelRF {
		return fail(NewError(KindConfiguration,
			"thompson_sampling needs a model with posterior sampling; RF has none"))
	}

	for name, v := range map[string]int{
		"initial_design_numdata": o.InitialDesignNumData,
		"batch_size":             o.BatchSize,
		"num_cores":              o.NumCores,
		"model_update_interval":  o.ModelUpdateInterval,
		"max_iterations":         o.MaxIterations,
	} {
		if v < 1 {
			return fail(NewErrorf(KindConfiguration, "%s must be a positive integer, got %d", name, v))
		}
	}

	if len(o.Y) > 0 && len(o.X) != len(o.Y) {
		return fail(NewErrorf(KindConfiguration,
			"X and Y must be co-indexed: %d rows vs %d values", len(o.X), len(o.Y)))
	}
	for _, row := range o.X {
		if len(row) != len(o.Domain) {
			return fail(NewErrorf(KindConfiguration,
				"X row has %d columns, domain has %d variables", len(row), len(o.Domain)))
		}
	}

	if o.CostWithGradients != nil && o.CostType != "" {
		return fail(NewError(KindConfiguration, "cost function and cost type are mutually exclusive"))
	}
	if o.CostType != "" && o.CostType != CostEvaluationTime {
		return fail(NewErrorf(KindConfiguration, "unknown cost type %q", o.CostType))
	}

	switch o.DiscreteHandling {
	case "", "round", "polish":
	default:
		return fail(NewErrorf(KindConfiguration, "unknown discrete handling policy %q", o.DiscreteHandling))
	}
	return nil
}
