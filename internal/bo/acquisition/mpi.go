package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// MaxProbabilityOfImprovement scores a point by the probability that it
// improves on the incumbent by at least the jitter margin.
type MaxProbabilityOfImprovement struct {
	model     bo.Model
	jitter    float64
	incumbent float64
	cost      CostWeight
}

// NewMaxProbabilityOfImprovement creates an MPI acquisition.
func NewMaxProbabilityOfImprovement(model bo.Model, jitter float64, cost CostWeight) *MaxProbabilityOfImprovement {
	return &MaxProbabilityOfImprovement{
		model:     model,
		jitter:    jitter,
		incumbent: math.Inf(1),
		cost:      cost,
	}
}

// UpdateIncumbent records the best observed value.
func (mpi *MaxProbabilityOfImprovement) UpdateIncumbent(best float64) { mpi.incumbent = best }

// Evaluate computes the probability of improvement at x.
func (mpi *MaxProbabilityOfImprovement) Evaluate(x []float64) (float64, error) {
	mu, sigma, err := predictPoint(mpi.model, x)
	if err != nil {
		return 0, err
	}
	improvement := mpi.incumbent - mu - mpi.jitter
	if sigma <= sigmaFloor {
		if improvement > 0 {
			return weighted(1, mpi.cost, x), nil
		}
		return 0, nil
	}
	return weighted(distuv.UnitNormal.CDF(improvement/sigma), mpi.cost, x), nil
}

// EvaluateWithGradients computes MPI and its gradient. The model must
// expose predictive gradients.
func (mpi *MaxProbabilityOfImprovement) EvaluateWithGradients(x []float64) (float64, []float64, error) {
	gm, ok := mpi.model.(bo.GradientModel)
	if !ok {
		return 0, nil, bo.NewError(bo.KindModelFit, "model does not expose predictive gradients").WithComponent("acquisition")
	}
	mu, sigma, dmu, dsigma, err := gm.PredictWithGradients(x)
	if err != nil {
		return 0, nil, err
	}

	grad := make([]float64, len(x))
	improvement := mpi.incumbent - mu - mpi.jitter
	if sigma <= sigmaFloor {
		score := 0.0
		if improvement > 0 {
			score = 1
		}
		return weighted(score, mpi.cost, x), grad, nil
	}

	z := improvement / sigma
	pdf := distuv.UnitNormal.Prob(z)
	// dz/dx = (-dmu - z dsigma) / sigma.
	for i := range grad {
		grad[i] = pdf * (-dmu[i] - z*dsigma[i]) / sigma
	}
	return weighted(distuv.UnitNormal.CDF(z), mpi.cost, x), weightedGrad(grad, mpi.cost, x), nil
}

var _ bo.AcquisitionWithGradients = (*MaxProbabilityOfImprovement)(nil)
