package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// ExpectedImprovement scores a point by the expected amount it improves on
// the incumbent, given the surrogate's predictive distribution.
type ExpectedImprovement struct {
	model     bo.Model
	jitter    float64
	incumbent float64
	cost      CostWeight
}

// NewExpectedImprovement creates an EI acquisition. jitter is the
// exploration margin added to the incumbent.
func NewExpectedImprovement(model bo.Model, jitter float64, cost CostWeight) *ExpectedImprovement {
	return &ExpectedImprovement{
		model:     model,
		jitter:    jitter,
		incumbent: math.Inf(1),
		cost:      cost,
	}
}

// UpdateIncumbent records the best observed value.
func (ei *ExpectedImprovement) UpdateIncumbent(best float64) { ei.incumbent = best }

// Evaluate computes the expected improvement at x.
func (ei *ExpectedImprovement) Evaluate(x []float64) (float64, error) {
	mu, sigma, err := predictPoint(ei.model, x)
	if err != nil {
		return 0, err
	}
	return weighted(eiValue(ei.incumbent, ei.jitter, mu, sigma), ei.cost, x), nil
}

// EvaluateWithGradients computes EI and its gradient. The model must expose
// predictive gradients.
func (ei *ExpectedImprovement) EvaluateWithGradients(x []float64) (float64, []float64, error) {
	gm, ok := ei.model.(bo.GradientModel)
	if !ok {
		return 0, nil, bo.NewError(bo.KindModelFit, "model does not expose predictive gradients").WithComponent("acquisition")
	}
	mu, sigma, dmu, dsigma, err := gm.PredictWithGradients(x)
	if err != nil {
		return 0, nil, err
	}

	improvement := ei.incumbent - mu - ei.jitter
	grad := make([]float64, len(x))
	if sigma <= sigmaFloor {
		if improvement <= 0 {
			return 0, grad, nil
		}
		for i := range grad {
			grad[i] = -dmu[i]
		}
		return weighted(improvement, ei.cost, x), weightedGrad(grad, ei.cost, x), nil
	}

	z := improvement / sigma
	normal := distuv.UnitNormal
	pdf, cdf := normal.Prob(z), normal.CDF(z)
	score := improvement*cdf + sigma*pdf
	if score < 0 {
		score = 0
	}
	// dEI/dx = -Phi(z) dmu + phi(z) dsigma.
	for i := range grad {
		grad[i] = -cdf*dmu[i] + pdf*dsigma[i]
	}
	return weighted(score, ei.cost, x), weightedGrad(grad, ei.cost, x), nil
}

// eiValue is the scalar EI formula for a minimization incumbent.
func eiValue(incumbent, jitter, mu, sigma float64) float64 {
	improvement := incumbent - mu - jitter
	if sigma <= sigmaFloor {
		return math.Max(0, improvement)
	}
	z := improvement / sigma
	normal := distuv.UnitNormal
	v := improvement*normal.CDF(z) + sigma*normal.Prob(z)
	return math.Max(0, v)
}

var _ bo.AcquisitionWithGradients = (*ExpectedImprovement)(nil)
