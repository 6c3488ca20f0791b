// Package optimizer maximizes acquisition surfaces over the design space.
// It combines a global candidate sweep with local polish runs from the best
// anchors, using gradient-based or derivative-free methods depending on the
// configured policy.
package optimizer

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/covariant-dev/bayopt/internal/bo"
)

const (
	defaultCandidates = 1000
	defaultAnchors    = 5
)

// Config parameterizes an acquisition optimizer.
type Config struct {
	// Method is one of the optimizer tags (lbfgs, DIRECT, CMA).
	Method string
	Space  *bo.Space
	// DiscreteHandling selects how non-continuous dimensions are finalized:
	// "round" projects once after the continuous search, "polish" re-runs
	// the continuous search with the rounded dimensions pinned.
	DiscreteHandling string
	// Candidates is the size of the global sweep (default 1000).
	Candidates int
	// Anchors is the number of sweep winners polished locally (default 5).
	Anchors int
	RNG     *rand.Rand
	Logger  *zap.Logger
}

// Optimizer maximizes acquisitions by multistart local search seeded from a
// global random sweep.
type Optimizer struct {
	method   string
	space    *bo.Space
	discrete string
	nCand    int
	nAnchors int
	rng      *rand.Rand
	logger   *zap.Logger
	uniform  *distmv.Uniform
}

// New builds an optimizer for the given policy.
func New(cfg Config) (*Optimizer, error) {
	const op = "optimizer.New"
	switch cfg.Method {
	case bo.OptLBFGS, bo.OptDirect, bo.OptCMA:
	default:
		return nil, bo.NewErrorf(bo.KindConfiguration, "unknown acquisition optimizer %q", cfg.Method).WithOperation(op).WithComponent("optimizer")
	}
	if cfg.Space == nil {
		return nil, bo.NewError(bo.KindConfiguration, "optimizer needs a design space").WithOperation(op).WithComponent("optimizer")
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = defaultCandidates
	}
	if cfg.Anchors <= 0 {
		cfg.Anchors = defaultAnchors
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(1))
	}

	o := &Optimizer{
		method:   cfg.Method,
		space:    cfg.Space,
		discrete: cfg.DiscreteHandling,
		nCand:    cfg.Candidates,
		nAnchors: cfg.Anchors,
		rng:      cfg.RNG,
		logger:   cfg.Logger.Named("optimizer"),
	}
	if cfg.Method == bo.OptDirect {
		bounds := cfg.Space.Bounds()
		ivals := make([]r1.Interval, len(bounds))
		for i, b := range bounds {
			ivals[i] = r1.Interval{Min: b[0], Max: b[1]}
		}
		o.uniform = distmv.NewUniform(ivals, nil)
	}
	return o, nil
}

// Maximize returns an approximate maximizer of a over the space, along with
// its score.
func (o *Optimizer) Maximize(a bo.Acquisition) ([]float64, float64, error) {
	const op = "Optimizer.Maximize"

	anchors, err := o.anchors(a)
	if err != nil {
		return nil, 0, err
	}

	bestX := anchors[0].x
	bestScore := anchors[0].score
	for _, anchor := range anchors {
		x, err := o.polish(a, anchor.x)
		if err != nil {
			o.logger.Debug("local polish failed, keeping anchor", zap.Error(err))
			continue
		}
		x = o.finalize(a, x)
		if !o.space.Contains(x) {
			continue
		}
		score, err := a.Evaluate(x)
		if err != nil {
			return nil, 0, bo.WrapError(err, "scoring polished point").WithOperation(op).WithComponent("optimizer")
		}
		if score > bestScore {
			bestX, bestScore = x, score
		}
	}
	return bestX, bestScore, nil
}

type scored struct {
	x     []float64
	score float64
}

// anchors runs the global sweep and returns the top feasible candidates in
// descending score order.
func (o *Optimizer) anchors(a bo.Acquisition) ([]scored, error) {
	const op = "Optimizer.anchors"
	points, err := o.candidates()
	if err != nil {
		return nil, err
	}
	ranked := make([]scored, 0, len(points))
	for _, x := range points {
		score, err := a.Evaluate(x)
		if err != nil {
			return nil, bo.WrapError(err, "scoring sweep candidate").WithOperation(op).WithComponent("optimizer")
		}
		ranked = append(ranked, scored{x: x, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > o.nAnchors {
		ranked = ranked[:o.nAnchors]
	}
	return ranked, nil
}

// candidates draws the global sweep set. The DIRECT policy draws from a
// uniform box distribution and projects onto the space; the others sample
// the space directly.
func (o *Optimizer) candidates() ([][]float64, error) {
	if o.uniform == nil {
		return o.space.Sample(o.nCand, o.rng)
	}
	points := make([][]float64, 0, o.nCand)
	misses := 0
	for len(points) < o.nCand {
		x := o.space.Project(o.uniform.Rand(nil))
		if o.space.Contains(x) {
			points = append(points, x)
			continue
		}
		misses++
		if misses > o.nCand*100 {
			return nil, bo.NewError(bo.KindInfeasibleRegion, "no feasible sweep candidates found").WithComponent("optimizer")
		}
	}
	return points, nil
}

// polish refines an anchor with the configured local method. The returned
// point is unprojected.
func (o *Optimizer) polish(a bo.Acquisition, x0 []float64) ([]float64, error) {
	problem, evalErr := o.problem(a, nil)
	method := o.localMethod(problem.Grad != nil)
	settings := &optimize.Settings{
		MajorIterations: 200,
		FuncEvaluations: 2000,
	}
	result, err := optimize.Minimize(problem, append([]float64(nil), x0...), settings, method)
	if *evalErr != nil {
		return nil, *evalErr
	}
	if err != nil && result == nil {
		return nil, err
	}
	return result.X, nil
}

// localMethod picks the gonum method for the policy. LBFGS requires the
// problem to carry a gradient; without one the polish falls back to
// NelderMead, since gonum refuses gradient methods on gradient-free
// problems.
func (o *Optimizer) localMethod(hasGrad bool) optimize.Method {
	switch {
	case o.method == bo.OptLBFGS && hasGrad:
		return &optimize.LBFGS{}
	case o.method == bo.OptCMA:
		return &optimize.CmaEsChol{}
	default:
		return &optimize.NelderMead{}
	}
}

// problem adapts the acquisition into a gonum minimization problem. fixed
// pins coordinates during discrete polishing: non-nil entries override the
// optimizer's value. Evaluation errors are captured through the returned
// pointer since gonum objectives cannot fail.
func (o *Optimizer) problem(a bo.Acquisition, fixed []*float64) (optimize.Problem, *error) {
	var evalErr error
	apply := func(x []float64) []float64 {
		if fixed == nil {
			return x
		}
		out := append([]float64(nil), x...)
		for i, f := range fixed {
			if f != nil {
				out[i] = *f
			}
		}
		return out
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if evalErr != nil {
				return math.Inf(1)
			}
			v, err := a.Evaluate(apply(x))
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			return -v
		},
	}
	if g, ok := a.(bo.AcquisitionWithGradients); ok && o.method == bo.OptLBFGS && fixed == nil {
		problem.Grad = func(grad, x []float64) {
			if evalErr != nil {
				return
			}
			_, dv, err := g.EvaluateWithGradients(x)
			if err != nil {
				evalErr = err
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			for i := range grad {
				grad[i] = -dv[i]
			}
		}
	}
	return problem, &evalErr
}

// finalize maps a polished point back into the space. Under "polish"
// handling the discrete dimensions are rounded and the continuous ones are
// re-optimized with them pinned.
func (o *Optimizer) finalize(a bo.Acquisition, x []float64) []float64 {
	projected := o.space.Project(x)
	if o.discrete != "polish" || !o.hasDiscrete() {
		return projected
	}

	fixed := make([]*float64, len(projected))
	for i, v := range o.space.Variables() {
		if v.Kind != bo.Continuous {
			val := projected[i]
			fixed[i] = &val
		}
	}
	problem, evalErr := o.problem(a, fixed)
	settings := &optimize.Settings{MajorIterations: 100, FuncEvaluations: 1000}
	result, err := optimize.Minimize(problem, append([]float64(nil), projected...), settings, &optimize.NelderMead{})
	if *evalErr != nil || (err != nil && result == nil) {
		return projected
	}
	repolished := o.space.Project(result.X)
	for i, f := range fixed {
		if f != nil {
			repolished[i] = *f
		}
	}
	return repolished
}

func (o *Optimizer) hasDiscrete() bool {
	for _, v := range o.space.Variables() {
		if v.Kind != bo.Continuous {
			return true
		}
	}
	return false
}

var _ bo.AcquisitionOptimizer = (*Optimizer)(nil)
