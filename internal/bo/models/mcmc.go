package models

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/kernels"
)

// GPMCMC marginalizes the GP kernel hyperparameters over a sample set drawn
// by random-walk Metropolis on the log marginal likelihood. Predictions are
// mixture predictions over the samples; MCMC-integrated acquisitions access
// the per-sample models through Sampled.
type GPMCMC struct {
	noiseVar float64
	nSamples int
	burnIn   int
	thin     int
	stepSize float64
	priorStd float64
	rng      *rand.Rand
	logger   *zap.Logger

	// Committed after a successful fit.
	samples [][2]float64 // (log lengthscale, log signal variance)
	gps     []*GP
}

// NewGPMCMC creates an MCMC-marginalized GP with nSamples retained
// hyperparameter samples.
func NewGPMCMC(noiseVar float64, nSamples int, rng *rand.Rand, logger *zap.Logger) *GPMCMC {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nSamples < 1 {
		nSamples = 10
	}
	return &GPMCMC{
		noiseVar: noiseVar,
		nSamples: nSamples,
		burnIn:   50,
		thin:     5,
		stepSize: 0.3,
		priorStd: 2.0,
		rng:      rng,
		logger:   logger.Named("gp_mcmc"),
	}
}

// Fit runs the Metropolis chain and commits one fitted GP per retained
// hyperparameter sample. A failed run keeps the previous sample set.
func (m *GPMCMC) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GPMCMC.Fit"

	nObs, _ := X.Dims()
	if nObs < minObservations {
		return bo.NewErrorf(bo.KindModelFit, "need at least %d observations, got %d", minObservations, nObs).WithOperation(op).WithComponent("gp_mcmc")
	}

	logPost := func(theta [2]float64) float64 {
		kernel, err := kernels.NewMatern52(math.Exp(theta[0]), math.Exp(theta[1]))
		if err != nil {
			return math.Inf(-1)
		}
		probe := NewGP(kernel, m.noiseVar, m.logger)
		ll, err := probe.LogMarginalLikelihood(X, y)
		if err != nil {
			return math.Inf(-1)
		}
		// Weak zero-centered Gaussian prior on the log hyperparameters.
		prior := -(theta[0]*theta[0] + theta[1]*theta[1]) / (2 * m.priorStd * m.priorStd)
		return ll + prior
	}

	theta := [2]float64{0, 0}
	current := logPost(theta)
	if math.IsInf(current, -1) {
		return bo.NewError(bo.KindModelFit, "initial hyperparameter state has zero posterior mass").WithOperation(op).WithComponent("gp_mcmc")
	}

	var retained [][2]float64
	accepted := 0
	total := m.burnIn + m.nSamples*m.thin
	for i := 0; i < total; i++ {
		proposal := [2]float64{
			theta[0] + m.stepSize*m.rng.NormFloat64(),
			theta[1] + m.stepSize*m.rng.NormFloat64(),
		}
		candidate := logPost(proposal)
		if math.Log(m.rng.Float64()+1e-300) < candidate-current {
			theta = proposal
			current = candidate
			accepted++
		}
		if i >= m.burnIn && (i-m.burnIn)%m.thin == 0 {
			retained = append(retained, theta)
		}
	}
	if len(retained) == 0 {
		return bo.NewError(bo.KindModelFit, "hyperparameter chain retained no samples").WithOperation(op).WithComponent("gp_mcmc")
	}

	gps := make([]*GP, 0, len(retained))
	for _, t := range retained {
		kernel, err := kernels.NewMatern52(math.Exp(t[0]), math.Exp(t[1]))
		if err != nil {
			continue
		}
		gp := NewGP(kernel, m.noiseVar, m.logger)
		if err := gp.Fit(X, y); err != nil {
			m.logger.Debug("per-sample GP fit failed, skipping sample", zap.Error(err))
			continue
		}
		gps = append(gps, gp)
	}
	if len(gps) == 0 {
		return bo.NewError(bo.KindModelFit, "no hyperparameter sample produced a fit").WithOperation(op).WithComponent("gp_mcmc")
	}

	m.logger.Debug("hyperparameter chain finished",
		zap.Int("retained", len(gps)),
		zap.Float64("acceptance_rate", float64(accepted)/float64(total)))

	m.samples = retained
	m.gps = gps
	return nil
}

// Predict returns the mixture predictive mean and variance across
// hyperparameter samples.
func (m *GPMCMC) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GPMCMC.Predict"
	if len(m.gps) == 0 {
		return nil, nil, bo.NewError(bo.KindModelFit, "model not fitted").WithOperation(op).WithComponent("gp_mcmc")
	}

	nTest, _ := X.Dims()
	mean := mat.NewVecDense(nTest, nil)
	second := mat.NewVecDense(nTest, nil) // E[var] + E[mu^2]
	for _, gp := range m.gps {
		mu, v, err := gp.Predict(X)
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < nTest; i++ {
			mean.SetVec(i, mean.AtVec(i)+mu.AtVec(i))
			second.SetVec(i, second.AtVec(i)+v.AtVec(i)+mu.AtVec(i)*mu.AtVec(i))
		}
	}
	n := float64(len(m.gps))
	variance := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		mean.SetVec(i, mean.AtVec(i)/n)
		variance.SetVec(i, math.Max(0, second.AtVec(i)/n-mean.AtVec(i)*mean.AtVec(i)))
	}
	return mean, variance, nil
}

// NumSamples returns the number of retained hyperparameter samples.
func (m *GPMCMC) NumSamples() int { return len(m.gps) }

// Sampled returns the fitted model under the i-th hyperparameter sample.
func (m *GPMCMC) Sampled(i int) bo.Model { return m.gps[i] }

// HyperSamples returns the retained (log lengthscale, log signal variance)
// pairs.
func (m *GPMCMC) HyperSamples() [][2]float64 {
	return append([][2]float64(nil), m.samples...)
}

// Sample draws posterior sample functions, rotating across the
// hyperparameter samples so surrogate uncertainty includes hyperparameter
// uncertainty.
func (m *GPMCMC) Sample(X *mat.Dense, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GPMCMC.Sample"
	if len(m.gps) == 0 {
		return nil, bo.NewError(bo.KindModelFit, "model not fitted").WithOperation(op).WithComponent("gp_mcmc")
	}
	nTest, _ := X.Dims()
	out := mat.NewDense(nTest, nSamples, nil)
	for j := 0; j < nSamples; j++ {
		gp := m.gps[j%len(m.gps)]
		col, err := gp.Sample(X, 1, rng)
		if err != nil {
			return nil, err
		}
		for i := 0; i < nTest; i++ {
			out.Set(i, j, col.At(i, 0))
		}
	}
	return out, nil
}

var (
	_ bo.Model            = (*GPMCMC)(nil)
	_ bo.MCMCModel        = (*GPMCMC)(nil)
	_ bo.PosteriorSampler = (*GPMCMC)(nil)
)
