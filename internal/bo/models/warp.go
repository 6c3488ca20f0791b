package models

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// SubsetGP caps the training set at maxPoints observations chosen uniformly
// at random (subset-of-data sparse approximation). Prediction cost then
// stays bounded as the observation set grows.
type SubsetGP struct {
	*GP
	maxPoints int
	rng       *rand.Rand
}

// NewSubsetGP wraps gp with a training-set cap.
func NewSubsetGP(gp *GP, maxPoints int, rng *rand.Rand) *SubsetGP {
	if maxPoints < minObservations {
		maxPoints = 50
	}
	return &SubsetGP{GP: gp, maxPoints: maxPoints, rng: rng}
}

// Fit trains on a random subset when the observation set exceeds the cap.
func (s *SubsetGP) Fit(X *mat.Dense, y *mat.VecDense) error {
	n, d := X.Dims()
	if n <= s.maxPoints {
		return s.GP.Fit(X, y)
	}
	idx := s.rng.Perm(n)[:s.maxPoints]
	Xs := mat.NewDense(s.maxPoints, d, nil)
	ys := mat.NewVecDense(s.maxPoints, nil)
	for i, r := range idx {
		Xs.SetRow(i, mat.Row(nil, r, X))
		ys.SetVec(i, y.AtVec(r))
	}
	return s.GP.Fit(Xs, ys)
}

// WarpedGP fits the GP on asinh-warped targets, which compresses heavy
// tails, and inverts the warp on prediction. The predictive variance is
// mapped back through the delta method.
type WarpedGP struct {
	*GP
}

// NewWarpedGP wraps gp with an output warp.
func NewWarpedGP(gp *GP) *WarpedGP { return &WarpedGP{GP: gp} }

// Fit trains on asinh(y).
func (w *WarpedGP) Fit(X *mat.Dense, y *mat.VecDense) error {
	warped := mat.NewVecDense(y.Len(), nil)
	for i := 0; i < y.Len(); i++ {
		warped.SetVec(i, math.Asinh(y.AtVec(i)))
	}
	return w.GP.Fit(X, warped)
}

// Predict inverts the warp: mean through sinh, variance through the squared
// derivative of sinh at the warped mean.
func (w *WarpedGP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	mu, v, err := w.GP.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	n := mu.Len()
	mean := mat.NewVecDense(n, nil)
	variance := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		m := mu.AtVec(i)
		mean.SetVec(i, math.Sinh(m))
		deriv := math.Cosh(m)
		variance.SetVec(i, v.AtVec(i)*deriv*deriv)
	}
	return mean, variance, nil
}

// PredictWithGradients inverts the warp on the single-point prediction so
// the result is in the same units as Predict: mean through sinh, standard
// deviation and both gradients through the delta method.
func (w *WarpedGP) PredictWithGradients(x []float64) (float64, float64, []float64, []float64, error) {
	mu, sigma, dmu, dsigma, err := w.GP.PredictWithGradients(x)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	mean := math.Sinh(mu)
	deriv := math.Cosh(mu)
	sd := sigma * deriv
	dmean := make([]float64, len(dmu))
	dsd := make([]float64, len(dmu))
	for i := range dmu {
		dmean[i] = deriv * dmu[i]
		// d(sigma*cosh(mu)) = cosh(mu) dsigma + sigma sinh(mu) dmu
		dsd[i] = deriv*dsigma[i] + sigma*mean*dmu[i]
	}
	return mean, sd, dmean, dsd, nil
}

// Sample draws posterior sample functions and maps every draw through the
// inverse warp, keeping the sample units consistent with Predict.
func (w *WarpedGP) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	draws, err := w.GP.Sample(X, nSamples, rng)
	if err != nil {
		return nil, err
	}
	rows, cols := draws.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			draws.Set(i, j, math.Sinh(draws.At(i, j)))
		}
	}
	return draws, nil
}

// InputWarpedGP maps inputs affinely onto the unit cube before fitting, so
// one shared lengthscale treats unevenly scaled dimensions comparably.
type InputWarpedGP struct {
	*GP
	bounds [][2]float64
}

// NewInputWarpedGP wraps gp with an input warp over the given per-dimension
// bounds.
func NewInputWarpedGP(gp *GP, bounds [][2]float64) *InputWarpedGP {
	b := append([][2]float64(nil), bounds...)
	return &InputWarpedGP{GP: gp, bounds: b}
}

func (iw *InputWarpedGP) warpRow(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		lo, hi := iw.bounds[i][0], iw.bounds[i][1]
		if hi > lo {
			out[i] = (v - lo) / (hi - lo)
		} else {
			out[i] = v
		}
	}
	return out
}

func (iw *InputWarpedGP) warp(X *mat.Dense) *mat.Dense {
	n, d := X.Dims()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, iw.warpRow(mat.Row(nil, i, X)))
	}
	return out
}

// Fit trains on warped inputs.
func (iw *InputWarpedGP) Fit(X *mat.Dense, y *mat.VecDense) error {
	return iw.GP.Fit(iw.warp(X), y)
}

// Predict evaluates at warped inputs.
func (iw *InputWarpedGP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	return iw.GP.Predict(iw.warp(X))
}

// Sample draws posterior samples at warped inputs.
func (iw *InputWarpedGP) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	return iw.GP.Sample(iw.warp(X), nSamples, rng)
}

// PredictWithGradients chains the affine warp through the GP gradients.
func (iw *InputWarpedGP) PredictWithGradients(x []float64) (float64, float64, []float64, []float64, error) {
	mu, sigma, dmu, dsigma, err := iw.GP.PredictWithGradients(iw.warpRow(x))
	if err != nil {
		return 0, 0, nil, nil, err
	}
	for i := range dmu {
		lo, hi := iw.bounds[i][0], iw.bounds[i][1]
		if hi > lo {
			scale := 1 / (hi - lo)
			dmu[i] *= scale
			dsigma[i] *= scale
		}
	}
	return mu, sigma, dmu, dsigma, nil
}

var (
	_ bo.Model            = (*SubsetGP)(nil)
	_ bo.GradientModel    = (*WarpedGP)(nil)
	_ bo.PosteriorSampler = (*WarpedGP)(nil)
	_ bo.GradientModel    = (*InputWarpedGP)(nil)
	_ bo.PosteriorSampler = (*InputWarpedGP)(nil)
)
