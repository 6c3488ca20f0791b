// Package models provides the surrogate models composed by the optimization
// driver: Gaussian processes (point-estimate and MCMC-marginalized
// hyperparameters), sparse and warped GP variants, and a random forest.
package models

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/kernels"
)

// minObservations is the smallest observation set a surrogate accepts.
const minObservations = 2

// gpState is the committed result of a successful fit. Kept separate so a
// failed refit leaves the previous state untouched.
type gpState struct {
	X     *mat.Dense
	y     *mat.VecDense
	alpha *mat.VecDense
	chol  *mat.Cholesky
}

// GP is a zero-mean Gaussian process regression surrogate.
type GP struct {
	kernel         kernels.Kernel
	noiseVar       float64
	optimizeHypers bool
	state          *gpState
	logger         *zap.Logger
}

// NewGP creates a Gaussian process surrogate with the given kernel and
// observation noise variance.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gp"),
	}
}

// Kernel returns the covariance function in use.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// OptimizeHyperparameters makes every Fit re-estimate the kernel
// hyperparameters by maximizing the log marginal likelihood before solving.
// Off by default; the MCMC wrapper marginalizes instead of optimizing.
func (gp *GP) OptimizeHyperparameters() *GP {
	gp.optimizeHypers = true
	return gp
}

// NoiseVar returns the observation noise variance.
func (gp *GP) NoiseVar() float64 { return gp.noiseVar }

// Fitted reports whether a successful fit has been committed.
func (gp *GP) Fitted() bool { return gp.state != nil }

// Fit trains the GP on the observation set. On failure the previous fitted
// state is retained and a model-fit error is returned.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return bo.NewError(bo.KindModelFit, "training data must not be nil").WithOperation(op).WithComponent("gp")
	}
	nSamples, nFeatures := X.Dims()
	if nSamples != y.Len() {
		return bo.NewErrorf(bo.KindModelFit, "dimension mismatch: X has %d samples, y has %d", nSamples, y.Len()).WithOperation(op).WithComponent("gp")
	}
	if nSamples < minObservations || nFeatures == 0 {
		return bo.NewErrorf(bo.KindModelFit, "need at least %d observations, got %d", minObservations, nSamples).WithOperation(op).WithComponent("gp")
	}

	gp.logger.Debug("fitting GP",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar))

	if gp.optimizeHypers {
		gp.maximizeLikelihood(X, y)
	}

	K := gp.kernelMatrix(X, nSamples)

	alpha, chol, err := gp.solve(K, y)
	if err != nil {
		return bo.WrapError(err, "linear solve did not converge").WithOperation(op).WithComponent("gp")
	}

	gp.state = &gpState{
		X:     mat.DenseCopyOf(X),
		y:     mat.VecDenseCopyOf(y),
		alpha: alpha,
		chol:  chol,
	}
	return nil
}

// maximizeLikelihood searches the kernel hyperparameters in log space for
// the marginal-likelihood maximum, starting from the current values. A
// failed search keeps the current hyperparameters; the fit proceeds either
// way.
func (gp *GP) maximizeLikelihood(X *mat.Dense, y *mat.VecDense) {
	current := gp.kernel.Hyperparameters()
	x0 := make([]float64, len(current))
	for i, v := range current {
		x0[i] = math.Log(v)
	}

	problem := optimize.Problem{
		Func: func(logTheta []float64) float64 {
			theta := make([]float64, len(logTheta))
			for i, v := range logTheta {
				if v < logHyperMin || v > logHyperMax {
					return math.Inf(1)
				}
				theta[i] = math.Exp(v)
			}
			if err := gp.kernel.SetHyperparameters(theta); err != nil {
				return math.Inf(1)
			}
			lml, err := gp.LogMarginalLikelihood(X, y)
			if err != nil {
				return math.Inf(1)
			}
			return -lml
		},
	}
	settings := &optimize.Settings{MajorIterations: 100, FuncEvaluations: 400}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if result == nil || math.IsInf(result.F, 1) || (err != nil && result.X == nil) {
		_ = gp.kernel.SetHyperparameters(current)
		return
	}

	best := make([]float64, len(result.X))
	for i, v := range result.X {
		best[i] = math.Exp(v)
	}
	if err := gp.kernel.SetHyperparameters(best); err != nil {
		_ = gp.kernel.SetHyperparameters(current)
		return
	}
	gp.logger.Debug("optimized kernel hyperparameters",
		zap.Float64s("from", current),
		zap.Float64s("to", best),
		zap.Float64("neg_lml", result.F))
}

// logHyperMin and logHyperMax bound the hyperparameter search in log space.
const (
	logHyperMin = -10.0
	logHyperMax = 10.0
)

// kernelMatrix builds K(X, X) + noise*I.
func (gp *GP) kernelMatrix(X *mat.Dense, n int) *mat.SymDense {
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := mat.Row(nil, i, X)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, mat.Row(nil, j, X)))
		}
	}
	return K
}

// solve factorizes K and solves K·alpha = y, escalating a diagonal jitter
// when the Cholesky factorization fails and falling back to a pseudo-inverse
// via SVD as a last resort.
func (gp *GP) solve(K *mat.SymDense, y *mat.VecDense) (*mat.VecDense, *mat.Cholesky, error) {
	n := y.Len()
	jitter := 0.0
	const maxAttempts = 8

	for attempt := 0; attempt < maxAttempts; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		if jitter > 0 {
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(Kj); !ok {
			gp.logger.Debug("cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1), zap.Float64("jitter", jitter))
			if jitter == 0 {
				jitter = 1e-10
			} else {
				jitter *= 10
			}
			continue
		}

		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			gp.logger.Debug("cholesky solve failed, increasing jitter", zap.Error(err))
			jitter = math.Max(jitter*10, 1e-10)
			continue
		}
		return alpha, &chol, nil
	}

	gp.logger.Info("falling back to SVD solve", zap.Float64("last_jitter", jitter))
	alpha, err := solveWithSVD(K, y)
	if err != nil {
		return nil, nil, err
	}
	return alpha, nil, nil
}

// solveWithSVD solves K·alpha = y through a thresholded pseudo-inverse.
func solveWithSVD(K *mat.SymDense, y *mat.VecDense) (*mat.VecDense, error) {
	n := y.Len()
	var svd mat.SVD
	if ok := svd.Factorize(K, mat.SVDFull); !ok {
		return nil, errors.New("SVD factorization failed")
	}

	s := svd.Values(nil)
	if len(s) == 0 || s[0] <= 0 {
		return nil, errors.New("SVD returned no usable singular values")
	}
	threshold := float64(n) * s[0] * 1e-15

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	var UTy mat.VecDense
	UTy.MulVec(U.T(), y)

	scaled := mat.NewVecDense(n, nil)
	rank := 0
	for i := 0; i < n; i++ {
		if s[i] > threshold {
			scaled.SetVec(i, UTy.AtVec(i)/s[i])
			rank++
		}
	}
	if rank == 0 {
		return nil, errors.New("matrix is effectively rank zero")
	}

	alpha := mat.NewVecDense(n, nil)
	alpha.MulVec(&V, scaled)
	return alpha, nil
}

// Predict returns the posterior predictive mean and variance at each row of
// X.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"
	if X == nil {
		return nil, nil, bo.NewError(bo.KindModelFit, "input matrix is nil").WithOperation(op).WithComponent("gp")
	}
	st := gp.state
	if st == nil {
		return nil, nil, bo.NewError(bo.KindModelFit, "model not fitted").WithOperation(op).WithComponent("gp")
	}

	nTest, _ := X.Dims()
	nTrain, _ := st.X.Dims()

	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)

	Kstar := mat.NewDense(nTest, nTrain, nil)
	kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		kss[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, st.X.RawRowView(j)))
		}
	}

	mean.MulVec(Kstar, st.alpha)

	if st.chol != nil {
		v := mat.NewDense(nTrain, nTest, nil)
		if err := v.Solve(st.chol, Kstar.T()); err != nil {
			return nil, nil, bo.WrapError(err, "posterior variance solve failed").WithOperation(op).WithComponent("gp")
		}
		for i := 0; i < nTest; i++ {
			var sum float64
			for j := 0; j < nTrain; j++ {
				val := v.At(j, i)
				sum += val * val
			}
			variance.SetVec(i, math.Max(0, kss[i]-sum))
		}
	} else {
		// SVD fallback fit: no factor to propagate, use the prior variance.
		for i := 0; i < nTest; i++ {
			variance.SetVec(i, kss[i])
		}
	}
	return mean, variance, nil
}

// PredictWithGradients returns the predictive mean, standard deviation and
// their gradients at a single point.
func (gp *GP) PredictWithGradients(x []float64) (mu, sigma float64, dmu, dsigma []float64, err error) {
	const op = "GP.PredictWithGradients"
	st := gp.state
	if st == nil {
		return 0, 0, nil, nil, bo.NewError(bo.KindModelFit, "model not fitted").WithOperation(op).WithComponent("gp")
	}

	nTrain, d := st.X.Dims()
	if len(x) != d {
		return 0, 0, nil, nil, bo.NewErrorf(bo.KindModelFit, "point has %d dims, model was fitted on %d", len(x), d).WithOperation(op).WithComponent("gp")
	}

	kstar := mat.NewVecDense(nTrain, nil)
	dk := mat.NewDense(nTrain, d, nil) // row j: grad_x k(x, x_j)
	for j := 0; j < nTrain; j++ {
		xj := st.X.RawRowView(j)
		kstar.SetVec(j, gp.kernel.Eval(x, xj))
		dk.SetRow(j, gp.kernel.Grad(x, xj))
	}

	mu = mat.Dot(kstar, st.alpha)
	dmu = make([]float64, d)
	for i := 0; i < d; i++ {
		dmu[i] = mat.Dot(dk.ColView(i), st.alpha)
	}

	kss := gp.kernel.Eval(x, x)
	variance := kss
	dvar := make([]float64, d)
	if st.chol != nil {
		w := mat.NewVecDense(nTrain, nil)
		if solveErr := st.chol.SolveVecTo(w, kstar); solveErr != nil {
			return 0, 0, nil, nil, bo.WrapError(solveErr, "variance gradient solve failed").WithOperation(op).WithComponent("gp")
		}
		variance = math.Max(0, kss-mat.Dot(kstar, w))
		// d var/dx = -2 (d kstar/dx)^T K^-1 kstar
		for i := 0; i < d; i++ {
			dvar[i] = -2 * mat.Dot(dk.ColView(i), w)
		}
	}

	sigma = math.Sqrt(variance)
	dsigma = make([]float64, d)
	if sigma > 1e-10 {
		for i := 0; i < d; i++ {
			dsigma[i] = dvar[i] / (2 * sigma)
		}
	}
	return mu, sigma, dmu, dsigma, nil
}

// Sample draws nSamples joint posterior sample functions at the rows of X,
// one per column of the result. The posterior covariance is approximated by
// its diagonal, which is what batch Thompson selection needs.
func (gp *GP) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GP.Sample"
	if nSamples <= 0 {
		return nil, bo.NewErrorf(bo.KindModelFit, "number of samples must be positive, got %d", nSamples).WithOperation(op).WithComponent("gp")
	}
	mean, variance, err := gp.Predict(X)
	if err != nil {
		return nil, err
	}

	nTest, _ := X.Dims()
	samples := mat.NewDense(nTest, nSamples, nil)
	for i := 0; i < nTest; i++ {
		sd := math.Sqrt(math.Max(0, variance.AtVec(i)))
		for j := 0; j < nSamples; j++ {
			samples.Set(i, j, mean.AtVec(i)+sd*rng.NormFloat64())
		}
	}
	return samples, nil
}

// LogMarginalLikelihood computes the log marginal likelihood of (X, y) under
// the current kernel hyperparameters and noise. Used by the MCMC sampler.
func (gp *GP) LogMarginalLikelihood(X *mat.Dense, y *mat.VecDense) (float64, error) {
	n := y.Len()
	K := gp.kernelMatrix(X, n)

	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return math.Inf(-1), fmt.Errorf("kernel matrix not positive definite")
	}
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return math.Inf(-1), err
	}

	var logDet float64 = chol.LogDet()
	dataFit := -0.5 * mat.Dot(y, alpha)
	return dataFit - 0.5*logDet - 0.5*float64(n)*math.Log(2*math.Pi), nil
}

var (
	_ bo.Model            = (*GP)(nil)
	_ bo.GradientModel    = (*GP)(nil)
	_ bo.PosteriorSampler = (*GP)(nil)
)
