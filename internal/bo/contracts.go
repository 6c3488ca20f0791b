package bo

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Model is the surrogate model contract. Predictions are valid only after at
// least one successful Fit; the driver refits on its own cadence and treats
// the model as stale in between.
type Model interface {
	// Fit trains the model on the observation set (one row of X per
	// observation).
	Fit(X *mat.Dense, y *mat.VecDense) error

	// Predict returns the predictive mean and variance at each row of X.
	Predict(X *mat.Dense) (mean, variance *mat.VecDense, err error)
}

// GradientModel is implemented by surrogates that can differentiate their
// predictive distribution at a single point.
type GradientModel interface {
	Model

	// PredictWithGradients returns mean, standard deviation and their
	// gradients with respect to x.
	PredictWithGradients(x []float64) (mu, sigma float64, dmu, dsigma []float64, err error)
}

// PosteriorSampler is implemented by surrogates that can draw joint sample
// functions from their posterior, evaluated at the rows of X. The result has
// one column per sample.
type PosteriorSampler interface {
	Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error)
}

// MCMCModel is implemented by surrogates that marginalize hyperparameters
// over a sample set. Sampled(i) exposes the fitted model under the i-th
// hyperparameter sample, for MCMC-integrated acquisitions.
type MCMCModel interface {
	Model

	NumSamples() int
	Sampled(i int) Model
}

// Acquisition scores a candidate point using the surrogate's predictive
// distribution. Higher is better; the optimizer maximizes it.
type Acquisition interface {
	Evaluate(x []float64) (float64, error)

	// UpdateIncumbent passes the best observed value, in the same units the
	// model was fitted on. Acquisitions that do not use an incumbent ignore
	// it.
	UpdateIncumbent(best float64)
}

// AcquisitionWithGradients is implemented by acquisitions that expose an
// analytic gradient.
type AcquisitionWithGradients interface {
	Acquisition

	EvaluateWithGradients(x []float64) (score float64, grad []float64, err error)
}

// AcquisitionOptimizer finds a maximizer of an acquisition surface over the
// design space.
type AcquisitionOptimizer interface {
	Maximize(a Acquisition) (x []float64, score float64, err error)
}

// Evaluator decides how many and which points to propose per iteration.
type Evaluator interface {
	// Propose returns up to batchSize candidate points. Proposals account
	// for one another (by penalization, posterior sampling or random
	// diversity) but never for unevaluated true objective values.
	Propose(batchSize int) ([][]float64, error)
}

// IncumbentAware is implemented by evaluators that need the current best
// observed value (for penalization). The driver forwards it before each
// Propose call.
type IncumbentAware interface {
	UpdateIncumbent(best float64)
}
