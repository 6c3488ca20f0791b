package acquisition

import (
	"github.com/covariant-dev/bayopt/internal/bo"
)

// LowerConfidenceBound scores a point by -mu + w*sigma, trading off the
// predicted value against its uncertainty. Larger exploration weights favor
// uncertain regions.
type LowerConfidenceBound struct {
	model  bo.Model
	weight float64
	cost   CostWeight
}

// NewLowerConfidenceBound creates an LCB acquisition with the given
// exploration weight.
func NewLowerConfidenceBound(model bo.Model, weight float64, cost CostWeight) *LowerConfidenceBound {
	return &LowerConfidenceBound{model: model, weight: weight, cost: cost}
}

// UpdateIncumbent is a no-op: LCB does not depend on the best observed
// value.
func (lcb *LowerConfidenceBound) UpdateIncumbent(float64) {}

// Evaluate computes the confidence-bound score at x.
func (lcb *LowerConfidenceBound) Evaluate(x []float64) (float64, error) {
	mu, sigma, err := predictPoint(lcb.model, x)
	if err != nil {
		return 0, err
	}
	return weighted(-mu+lcb.weight*sigma, lcb.cost, x), nil
}

// EvaluateWithGradients computes LCB and its gradient. The model must
// expose predictive gradients.
func (lcb *LowerConfidenceBound) EvaluateWithGradients(x []float64) (float64, []float64, error) {
	gm, ok := lcb.model.(bo.GradientModel)
	if !ok {
		return 0, nil, bo.NewError(bo.KindModelFit, "model does not expose predictive gradients").WithComponent("acquisition")
	}
	mu, sigma, dmu, dsigma, err := gm.PredictWithGradients(x)
	if err != nil {
		return 0, nil, err
	}
	grad := make([]float64, len(x))
	for i := range grad {
		grad[i] = -dmu[i] + lcb.weight*dsigma[i]
	}
	return weighted(-mu+lcb.weight*sigma, lcb.cost, x), weightedGrad(grad, lcb.cost, x), nil
}

var _ bo.AcquisitionWithGradients = (*LowerConfidenceBound)(nil)
