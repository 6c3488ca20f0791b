// Package registry assembles an optimization driver from a validated
// options struct, mapping each configuration tag onto its concrete
// component.
package registry

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/acquisition"
	"github.com/covariant-dev/bayopt/internal/bo/evaluators"
	"github.com/covariant-dev/bayopt/internal/bo/kernels"
	"github.com/covariant-dev/bayopt/internal/bo/models"
	"github.com/covariant-dev/bayopt/internal/bo/optimizer"
)

const (
	// exactNoise is the observation noise variance for noiseless objectives;
	// it stays slightly positive for numerical stability.
	exactNoise = 1e-10
	// noisyNoise is the default observation noise variance.
	noisyNoise = 1e-6

	mcmcSamples  = 10
	sparseCap    = 50
	forestTrees  = 30
	defaultScale = 1.0
)

// NewDriver validates opts and wires a full driver around the objective.
func NewDriver(opts bo.Options, objective bo.Objective, logger *zap.Logger, hooks bo.Hooks) (*bo.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if objective == nil {
		return nil, bo.NewError(bo.KindConfiguration, "objective is required").WithComponent("registry")
	}

	space, err := bo.NewSpace(opts.Domain, opts.Constraints)
	if err != nil {
		return nil, err
	}

	seed := opts.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	model, err := buildModel(opts, space, rng, logger)
	if err != nil {
		return nil, err
	}
	cost, err := buildCost(opts, logger)
	if err != nil {
		return nil, err
	}
	acq, err := buildAcquisition(opts, model, cost)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(optimizer.Config{
		Method:           opts.AcquisitionOptimizerType,
		Space:            space,
		DiscreteHandling: opts.DiscreteHandling,
		RNG:              rng,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	evaluator, err := buildEvaluator(opts, model, acq, opt, space, rng, logger)
	if err != nil {
		return nil, err
	}

	return bo.NewDriver(bo.DriverConfig{
		Space:     space,
		Model:     model,
		Acq:       acq,
		Evaluator: evaluator,
		Cost:      cost,
		Objective: objective,
		Options:   opts,
		Logger:    logger,
		Hooks:     hooks,
		RNG:       rng,
	})
}

// noiseVar picks the observation noise from the exact_feval flag.
func noiseVar(opts bo.Options) float64 {
	if opts.ExactFeval {
		return exactNoise
	}
	return noisyNoise
}

func defaultKernel() (kernels.Kernel, error) {
	return kernels.NewMatern52(defaultScale, defaultScale)
}

func buildModel(opts bo.Options, space *bo.Space, rng *rand.Rand, logger *zap.Logger) (bo.Model, error) {
	switch opts.ModelType {
	case bo.ModelGP, bo.ModelSparseGP, bo.ModelWarpedGP, bo.ModelInputWarpedGP:
		k, err := defaultKernel()
		if err != nil {
			return nil, err
		}
		gp := models.NewGP(k, noiseVar(opts), logger).OptimizeHyperparameters()
		switch opts.ModelType {
		case bo.ModelSparseGP:
			return models.NewSubsetGP(gp, sparseCap, rng), nil
		case bo.ModelWarpedGP:
			return models.NewWarpedGP(gp), nil
		case bo.ModelInputWarpedGP:
			return models.NewInputWarpedGP(gp, space.Bounds()), nil
		}
		return gp, nil
	case bo.ModelGPMCMC:
		return models.NewGPMCMC(noiseVar(opts), mcmcSamples, rng, logger), nil
	case bo.ModelRF:
		return models.NewRandomForest(forestTrees, rng, logger), nil
	}
	return nil, bo.NewErrorf(bo.KindConfiguration, "unknown model type %q", opts.ModelType).WithComponent("registry")
}

func buildCost(opts bo.Options, logger *zap.Logger) (*bo.CostModel, error) {
	switch {
	case opts.CostWithGradients != nil:
		return bo.NewCostModel(opts.CostWithGradients, nil, logger), nil
	case opts.CostType == bo.CostEvaluationTime:
		k, err := defaultKernel()
		if err != nil {
			return nil, err
		}
		surrogate := models.NewGP(k, noisyNoise, logger).OptimizeHyperparameters()
		return bo.NewCostModel(nil, surrogate, logger), nil
	default:
		return bo.NewCostModel(nil, nil, logger), nil
	}
}

func buildAcquisition(opts bo.Options, model bo.Model, cost *bo.CostModel) (bo.Acquisition, error) {
	var weight acquisition.CostWeight
	if w := cost.Weight(); w != nil {
		weight = acquisition.CostWeight(w)
	}

	base := func(m bo.Model) bo.Acquisition {
		switch opts.AcquisitionType {
		case bo.AcqMPI, bo.AcqMPIMCMC:
			return acquisition.NewMaxProbabilityOfImprovement(m, opts.Jitter, weight)
		case bo.AcqLCB, bo.AcqLCBMCMC:
			return acquisition.NewLowerConfidenceBound(m, opts.ExplorationWeight, weight)
		default:
			return acquisition.NewExpectedImprovement(m, opts.Jitter, weight)
		}
	}

	if bo.MCMCAcquisition(opts.AcquisitionType) {
		return acquisition.NewIntegrated(model, base)
	}
	return base(model), nil
}

func buildEvaluator(opts bo.Options, model bo.Model, acq bo.Acquisition, opt bo.AcquisitionOptimizer, space *bo.Space, rng *rand.Rand, logger *zap.Logger) (bo.Evaluator, error) {
	switch opts.EvaluatorType {
	case bo.EvalSequential:
		return evaluators.NewSequential(acq, opt), nil
	case bo.EvalRandom:
		return evaluators.NewRandomBatch(acq, opt, space, rng), nil
	case bo.EvalLocalPenalization:
		pen := acquisition.NewLocalPenalizer(acq, model, space, rng)
		return evaluators.NewLocalPenalization(pen, opt, logger), nil
	case bo.EvalThompsonSampling:
		return evaluators.NewThompsonSampling(model, space, rng)
	}
	return nil, bo.NewErrorf(bo.KindConfiguration, "unknown evaluator type %q", opts.EvaluatorType).WithComponent("registry")
}
