package bo

import (
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// CostFunc is a user-supplied evaluation cost with gradients. grad may be
// nil when the cost is not differentiable.
type CostFunc func(x []float64) (cost float64, grad []float64)

// CostEvaluationTime is the configuration token selecting the learned cost
// surrogate: a model is fitted on observed (x, wall-clock seconds) pairs and
// refitted on the same cadence as the main surrogate.
const CostEvaluationTime = "evaluation_time"

// minCost floors every cost so acquisition weighting never divides by zero.
const minCost = 1e-6

// CostModel produces a per-point evaluation cost used to normalize
// acquisition scores so expensive regions are disfavored. It has three
// modes: constant (no cost), user function, and learned surrogate on
// observed durations.
type CostModel struct {
	fn        CostFunc
	surrogate Model

	// Observed (x, log-seconds) pairs for the learned mode.
	xs   [][]float64
	logT []float64

	fitted bool
	logger *zap.Logger
}

// NewCostModel builds a cost model. fn and surrogate are mutually exclusive:
// pass a surrogate (any Model) to learn costs from evaluation time, a fn to
// use an explicit cost, or neither for unit cost.
func NewCostModel(fn CostFunc, surrogate Model, logger *zap.Logger) *CostModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CostModel{fn: fn, surrogate: surrogate, logger: logger.Named("cost")}
}

// Constant reports whether every point costs the same (no weighting needed).
func (c *CostModel) Constant() bool { return c.fn == nil && c.surrogate == nil }

// Observe records the wall-clock duration of a completed evaluation. Only
// the learned mode uses it.
func (c *CostModel) Observe(x []float64, d time.Duration) {
	if c.surrogate == nil {
		return
	}
	secs := math.Max(d.Seconds(), 1e-9)
	c.xs = append(c.xs, append([]float64(nil), x...))
	c.logT = append(c.logT, math.Log(secs))
}

// Refit refits the cost surrogate on the observations collected so far. The
// driver calls it on the model-update cadence. Fit failures keep the
// previous state and are logged, never fatal.
func (c *CostModel) Refit() {
	if c.surrogate == nil || len(c.xs) < 2 {
		return
	}
	d := len(c.xs[0])
	X := mat.NewDense(len(c.xs), d, nil)
	y := mat.NewVecDense(len(c.xs), nil)
	for i, x := range c.xs {
		X.SetRow(i, x)
		y.SetVec(i, c.logT[i])
	}
	if err := c.surrogate.Fit(X, y); err != nil {
		c.logger.Warn("cost surrogate refit failed, keeping previous state", zap.Error(err))
		return
	}
	c.fitted = true
}

// Evaluate returns the estimated cost of evaluating the objective at x.
// Unit cost is returned until enough information is available.
func (c *CostModel) Evaluate(x []float64) float64 {
	switch {
	case c.fn != nil:
		cost, _ := c.fn(x)
		return math.Max(cost, minCost)
	case c.surrogate != nil && c.fitted:
		X := mat.NewDense(1, len(x), append([]float64(nil), x...))
		mean, _, err := c.surrogate.Predict(X)
		if err != nil {
			c.logger.Debug("cost prediction failed, using unit cost", zap.Error(err))
			return 1
		}
		return math.Max(math.Exp(mean.AtVec(0)), minCost)
	default:
		return 1
	}
}

// Weight is Evaluate adapted to the signature acquisitions take for cost
// normalization. Returns nil for constant cost models so acquisitions skip
// the division entirely.
func (c *CostModel) Weight() func(x []float64) float64 {
	if c.Constant() {
		return nil
	}
	return c.Evaluate
}
