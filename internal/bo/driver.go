package bo

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// dedupTolerance is the floating tolerance used when comparing proposed
// points against the observation set and against one another.
const dedupTolerance = 1e-8

// Observation is one completed objective evaluation. Y is stored in the
// caller's orientation (not negated for maximization).
type Observation struct {
	Iteration int       `json:"iteration"`
	X         []float64 `json:"x"`
	Y         float64   `json:"y"`
	Cost      float64   `json:"cost"`
}

// Result summarizes an optimization run. History preserves every
// observation collected, including those gathered before a failure.
type Result struct {
	BestX          []float64     `json:"best_x"`
	BestY          float64       `json:"best_y"`
	History        []Observation `json:"history"`
	Iterations     int           `json:"iterations"`
	Converged      bool          `json:"converged"`
	StopReason     string        `json:"stop_reason"`
	EvaluationTime time.Duration `json:"evaluation_time"`
}

// IterationInfo is passed to the OnIteration hook after each UPDATING step.
type IterationInfo struct {
	Iteration       int
	BatchSize       int
	BestY           float64
	Refitted        bool
	FitDuration     time.Duration
	ProposeDuration time.Duration
	EvalDuration    time.Duration
}

// Hooks are optional observers of the loop. Nil hooks are skipped.
type Hooks struct {
	OnIteration func(IterationInfo)
}

// DriverConfig assembles the five collaborators the driver composes, plus
// the validated options.
type DriverConfig struct {
	Space     *Space
	Model     Model
	Acq       Acquisition
	Evaluator Evaluator
	Cost      *CostModel
	Objective Objective
	Options   Options
	Logger    *zap.Logger
	Hooks     Hooks
	// RNG drives initial design sampling and deduplication replacement. The
	// registry shares one generator across all components of a run.
	RNG *rand.Rand
}

// Driver is the optimization loop: it owns the observation set, keeps the
// surrogate, the acquisition and the evaluation policy consistent across
// iterations, and drives INITIALIZING, FITTING, PROPOSING, EVALUATING and
// UPDATING until a budget or convergence criterion is met.
//
// The driver is single-threaded: parallelism exists only inside objective
// evaluation, and workers never see model state. Run must not be called
// concurrently; it may be called again after a budget stop to continue with
// a fresh budget.
type Driver struct {
	space     *Space
	model     Model
	acq       Acquisition
	evaluator Evaluator
	cost      *CostModel
	objective Objective
	opts      Options
	rng       *rand.Rand
	logger    *zap.Logger
	hooks     Hooks

	mu          sync.RWMutex // guards history for concurrent readers
	history     []Observation
	xs          [][]float64
	yInternal   []float64 // minimization orientation, un-normalized
	norm        yNormalizer
	sinceFit    int
	fitted      bool
	initialized bool
	evalTime    time.Duration
}

// NewDriver wires a driver from pre-built components. Component
// compatibility has already been enforced by Options.Validate and the
// registry; this only rejects missing collaborators.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	const op = "NewDriver"
	if cfg.Space == nil || cfg.Model == nil || cfg.Acq == nil || cfg.Evaluator == nil || cfg.Objective == nil {
		return nil, NewError(KindConfiguration, "space, model, acquisition, evaluator and objective are required").WithOperation(op).WithComponent("driver")
	}
	if cfg.Cost == nil {
		cfg.Cost = NewCostModel(nil, nil, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rng := cfg.RNG
	if rng == nil {
		seed := cfg.Options.RandomSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &Driver{
		space:     cfg.Space,
		model:     cfg.Model,
		acq:       cfg.Acq,
		evaluator: cfg.Evaluator,
		cost:      cfg.Cost,
		objective: cfg.Objective,
		opts:      cfg.Options,
		rng:       rng,
		logger:    cfg.Logger.Named("driver"),
		hooks:     cfg.Hooks,
		norm:      identityNormalizer(),
	}, nil
}

// Run executes the loop until MaxIterations, MaxTime, convergence or
// cancellation. On evaluation failure the partial result is returned
// alongside the error so no collected work is lost. Cancellation is checked
// only at iteration boundaries; in-flight evaluations always complete.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return d.result(0, false, "cancelled"), WrapError(err, "run cancelled").WithComponent("driver")
	}

	if !d.initialized {
		if err := d.initialize(ctx); err != nil {
			return d.result(0, false, "failed"), err
		}
		d.initialized = true
	}

	iter := 0
	for ; iter < d.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return d.result(iter, false, "cancelled"), WrapError(err, "run cancelled").WithComponent("driver")
		}
		if d.opts.MaxTime > 0 && time.Since(start) >= d.opts.MaxTime {
			return d.result(iter, false, "max_time"), nil
		}

		// FITTING: refit every model_update_interval observations,
		// otherwise reuse the stale model (a deliberate cost/accuracy
		// trade-off).
		fitStart := time.Now()
		refitted, err := d.maybeFit()
		if err != nil {
			return d.result(iter, false, "failed"), err
		}
		fitDur := time.Since(fitStart)

		d.updateIncumbent()

		// PROPOSING
		proposeStart := time.Now()
		batch, err := d.evaluator.Propose(d.opts.BatchSize)
		if err != nil {
			return d.result(iter, false, "failed"), WrapError(err, "batch proposal failed").WithComponent("driver")
		}
		if d.opts.DeDuplication {
			batch = d.dedupBatch(batch)
		}
		proposeDur := time.Since(proposeStart)

		// EVALUATING
		evalStart := time.Now()
		ys, durations, err := evaluateBatch(ctx, d.objective, batch, d.opts.NumCores)
		if err != nil {
			// The observation set collected so far stays intact.
			return d.result(iter, false, "failed"), err
		}
		evalDur := time.Since(evalStart)
		d.evalTime += evalDur

		// UPDATING
		for i, x := range batch {
			d.cost.Observe(x, durations[i])
			d.appendObservation(iter+1, x, ys[i], d.cost.Evaluate(x))
		}
		d.sinceFit += len(batch)

		if d.hooks.OnIteration != nil {
			d.hooks.OnIteration(IterationInfo{
				Iteration:       iter + 1,
				BatchSize:       len(batch),
				BestY:           d.bestUserY(),
				Refitted:        refitted,
				FitDuration:     fitDur,
				ProposeDuration: proposeDur,
				EvalDuration:    evalDur,
			})
		}

		if d.converged() {
			return d.result(iter+1, true, "converged"), nil
		}
	}
	return d.result(iter, false, "max_iterations"), nil
}

// initialize populates the observation set: pre-supplied X/Y replace initial
// design sampling entirely; pre-supplied X without Y is evaluated; otherwise
// InitialDesignNumData points are drawn with the configured strategy and
// evaluated in parallel.
func (d *Driver) initialize(ctx context.Context) error {
	switch {
	case len(d.opts.X) > 0 && len(d.opts.Y) > 0:
		d.logger.Debug("seeding from supplied observations, skipping initial design",
			zap.Int("n", len(d.opts.X)),
			zap.Int("initial_design_numdata", d.opts.InitialDesignNumData))
		for i, x := range d.opts.X {
			d.appendObservation(0, x, d.opts.Y[i], d.cost.Evaluate(x))
		}
		return nil

	case len(d.opts.X) > 0:
		ys, durations, err := evaluateBatch(ctx, d.objective, d.opts.X, d.opts.NumCores)
		if err != nil {
			return err
		}
		for i, x := range d.opts.X {
			d.cost.Observe(x, durations[i])
			d.appendObservation(0, x, ys[i], d.cost.Evaluate(x))
		}
		return nil

	default:
		points, err := InitialDesign(d.opts.InitialDesignType, d.space, d.opts.InitialDesignNumData, d.rng)
		if err != nil {
			return err
		}
		ys, durations, err := evaluateBatch(ctx, d.objective, points, d.opts.NumCores)
		if err != nil {
			return err
		}
		for i, x := range points {
			d.cost.Observe(x, durations[i])
			d.appendObservation(0, x, ys[i], d.cost.Evaluate(x))
		}
		return nil
	}
}

// maybeFit refits the surrogate (and the cost surrogate) when the staleness
// counter reaches the update interval. A failed refit keeps the previous
// fitted state and surfaces a warning; only a first-ever fit failure is
// fatal.
func (d *Driver) maybeFit() (bool, error) {
	if d.fitted && d.sinceFit < d.opts.ModelUpdateInterval {
		return false, nil
	}

	d.norm = identityNormalizer()
	if d.opts.NormalizeY {
		d.norm = newYNormalizer(d.yInternal)
	}

	n := len(d.yInternal)
	X := mat.NewDense(n, d.space.Dim(), nil)
	y := mat.NewVecDense(n, nil)
	for i, x := range d.xs {
		X.SetRow(i, x)
		y.SetVec(i, d.norm.apply(d.yInternal[i]))
	}

	if err := d.model.Fit(X, y); err != nil {
		if !d.fitted {
			return false, WrapError(err, "initial surrogate fit failed").WithComponent("driver")
		}
		d.logger.Warn("surrogate refit failed, reusing previous fitted state", zap.Error(err))
		d.sinceFit = 0
		return false, nil
	}
	d.cost.Refit()
	d.fitted = true
	d.sinceFit = 0
	return true, nil
}

// updateIncumbent forwards the best observed value, in the model's fitted
// units, to the acquisition and to incumbent-aware evaluators.
func (d *Driver) updateIncumbent() {
	best := d.norm.apply(d.bestInternalY())
	d.acq.UpdateIncumbent(best)
	if ia, ok := d.evaluator.(IncumbentAware); ok {
		ia.UpdateIncumbent(best)
	}
}

// dedupBatch replaces any proposed point that exactly matches an existing
// observation, or an earlier point of the same batch, with a new random
// feasible point.
func (d *Driver) dedupBatch(batch [][]float64) [][]float64 {
	accepted := make([][]float64, 0, len(batch))
	for _, x := range batch {
		candidate := x
		for attempt := 0; d.isDuplicate(candidate, accepted); attempt++ {
			if attempt >= 100 {
				d.logger.Warn("deduplication could not find a fresh point, keeping duplicate",
					zap.Any("point", candidate))
				break
			}
			fresh, err := d.space.SampleOne(d.rng)
			if err != nil {
				d.logger.Warn("deduplication resampling failed", zap.Error(err))
				break
			}
			candidate = fresh
		}
		accepted = append(accepted, candidate)
	}
	return accepted
}

func (d *Driver) isDuplicate(x []float64, accepted [][]float64) bool {
	for _, prev := range d.xs {
		if samePoint(x, prev, dedupTolerance) {
			return true
		}
	}
	for _, prev := range accepted {
		if samePoint(x, prev, dedupTolerance) {
			return true
		}
	}
	return false
}

// converged reports whether the last two evaluated points are within Eps of
// each other.
func (d *Driver) converged() bool {
	if d.opts.Eps <= 0 || len(d.xs) < 2 {
		return false
	}
	return Distance(d.xs[len(d.xs)-1], d.xs[len(d.xs)-2]) < d.opts.Eps
}

func (d *Driver) appendObservation(iter int, x []float64, y, cost float64) {
	xCopy := append([]float64(nil), x...)
	yi := y
	if d.opts.Maximize {
		yi = -y
	}
	d.mu.Lock()
	d.xs = append(d.xs, xCopy)
	d.yInternal = append(d.yInternal, yi)
	d.history = append(d.history, Observation{Iteration: iter, X: xCopy, Y: y, Cost: cost})
	d.mu.Unlock()
}

// bestInternalY is the minimum stored value (internal orientation). Strict
// comparison makes the earliest observation win ties.
func (d *Driver) bestInternalY() float64 {
	best := math.Inf(1)
	for _, y := range d.yInternal {
		if y < best {
			best = y
		}
	}
	return best
}

func (d *Driver) bestIndex() int {
	best := math.Inf(1)
	idx := -1
	for i, y := range d.yInternal {
		if y < best {
			best = y
			idx = i
		}
	}
	return idx
}

func (d *Driver) bestUserY() float64 {
	if i := d.bestIndex(); i >= 0 {
		return d.history[i].Y
	}
	return math.NaN()
}

func (d *Driver) result(iterations int, converged bool, reason string) *Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := &Result{
		History:        append([]Observation(nil), d.history...),
		Iterations:     iterations,
		Converged:      converged,
		StopReason:     reason,
		EvaluationTime: d.evalTime,
	}
	if i := d.bestIndex(); i >= 0 {
		res.BestX = append([]float64(nil), d.history[i].X...)
		res.BestY = d.history[i].Y
	}
	return res
}

// History returns a copy of the observations collected so far. Safe to call
// while Run executes on another goroutine.
func (d *Driver) History() []Observation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Observation(nil), d.history...)
}

// Best returns the best observation so far, or false when none exist.
func (d *Driver) Best() (Observation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.bestIndex(); i >= 0 {
		return d.history[i], true
	}
	return Observation{}, false
}

// yNormalizer shifts and scales objective values to zero mean and unit
// variance before fitting, and inverts the transform for reporting. The
// model never sees raw values when normalization is on.
type yNormalizer struct {
	mean, std float64
}

func identityNormalizer() yNormalizer { return yNormalizer{mean: 0, std: 1} }

func newYNormalizer(ys []float64) yNormalizer {
	if len(ys) == 0 {
		return identityNormalizer()
	}
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	var variance float64
	for _, y := range ys {
		variance += (y - mean) * (y - mean)
	}
	std := math.Sqrt(variance / float64(len(ys)))
	if std < 1e-12 {
		std = 1
	}
	return yNormalizer{mean: mean, std: std}
}

func (n yNormalizer) apply(y float64) float64  { return (y - n.mean) / n.std }
func (n yNormalizer) invert(y float64) float64 { return y*n.std + n.mean }
