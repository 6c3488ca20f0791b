package acquisition

import (
	"github.com/covariant-dev/bayopt/internal/bo"
)

// Integrated averages a base acquisition over the hyperparameter samples of
// an MCMC-fitted surrogate, marginalizing out the hyperparameters instead of
// trusting a single point estimate.
type Integrated struct {
	model bo.MCMCModel
	make  func(bo.Model) bo.Acquisition
	bases []bo.Acquisition
}

// NewIntegrated wraps the per-sample acquisitions built by mk around the
// samples of an MCMC model. The model must expose hyperparameter samples.
func NewIntegrated(m bo.Model, mk func(bo.Model) bo.Acquisition) (*Integrated, error) {
	mm, ok := m.(bo.MCMCModel)
	if !ok {
		return nil, bo.NewError(bo.KindIncompatibleModel, "MCMC acquisition requires an MCMC-sampled surrogate").WithComponent("acquisition")
	}
	return &Integrated{model: mm, make: mk}, nil
}

// UpdateIncumbent rebuilds the per-sample acquisitions against the current
// fit and forwards the incumbent to each. The driver calls it after every
// refit, so the bases never go stale.
func (in *Integrated) UpdateIncumbent(best float64) {
	n := in.model.NumSamples()
	in.bases = make([]bo.Acquisition, n)
	for i := 0; i < n; i++ {
		in.bases[i] = in.make(in.model.Sampled(i))
		in.bases[i].UpdateIncumbent(best)
	}
}

// Evaluate averages the base acquisition over the hyperparameter samples.
func (in *Integrated) Evaluate(x []float64) (float64, error) {
	if len(in.bases) == 0 {
		return 0, bo.NewError(bo.KindModelFit, "no hyperparameter samples available").WithComponent("acquisition")
	}
	var sum float64
	for _, b := range in.bases {
		v, err := b.Evaluate(x)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(in.bases)), nil
}

var _ bo.Acquisition = (*Integrated)(nil)
