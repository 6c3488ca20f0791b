// Package acquisition provides the acquisition functions that score
// candidate points from the surrogate's predictive distribution: expected
// improvement, maximum probability of improvement and lower confidence
// bound, each with an MCMC-integrated variant, plus the local-penalization
// wrapper used for batch proposal.
//
// All scores follow the convention of the optimization core: the objective
// is internally minimized and acquisitions are maximized.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// CostWeight maps a point to its estimated evaluation cost. Raw scores are
// divided by it so expensive regions are disfavored. A nil weight means
// unit cost.
type CostWeight func(x []float64) float64

// predictPoint evaluates the surrogate's predictive distribution at one
// point.
func predictPoint(m bo.Model, x []float64) (mu, sigma float64, err error) {
	X := mat.NewDense(1, len(x), append([]float64(nil), x...))
	mean, variance, err := m.Predict(X)
	if err != nil {
		return 0, 0, err
	}
	return mean.AtVec(0), math.Sqrt(math.Max(0, variance.AtVec(0))), nil
}

// weighted divides score by the cost weight at x.
func weighted(score float64, w CostWeight, x []float64) float64 {
	if w == nil {
		return score
	}
	return score / w(x)
}

// weightedGrad applies the same division to a gradient, treating the cost
// as locally constant.
func weightedGrad(grad []float64, w CostWeight, x []float64) []float64 {
	if w == nil {
		return grad
	}
	c := w(x)
	for i := range grad {
		grad[i] /= c
	}
	return grad
}

// sigmaFloor is the standard deviation below which a prediction is treated
// as certain.
const sigmaFloor = 1e-10
