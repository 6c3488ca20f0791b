// Package evaluators implements the batch proposal policies: sequential
// single-point proposal, random batch filling, local-penalization batches
// and Thompson sampling from the surrogate posterior.
package evaluators

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/acquisition"
)

// Sequential proposes exactly one point per iteration, the acquisition
// maximizer.
type Sequential struct {
	acq bo.Acquisition
	opt bo.AcquisitionOptimizer
}

// NewSequential creates the single-point evaluator.
func NewSequential(acq bo.Acquisition, opt bo.AcquisitionOptimizer) *Sequential {
	return &Sequential{acq: acq, opt: opt}
}

// Propose returns the acquisition maximizer. Batch sizes above one are a
// configuration error.
func (s *Sequential) Propose(batchSize int) ([][]float64, error) {
	const op = "Sequential.Propose"
	if batchSize != 1 {
		return nil, bo.NewErrorf(bo.KindConfiguration, "sequential evaluator proposes one point, asked for %d", batchSize).WithOperation(op).WithComponent("evaluator")
	}
	x, _, err := s.opt.Maximize(s.acq)
	if err != nil {
		return nil, err
	}
	return [][]float64{x}, nil
}

// RandomBatch proposes the acquisition maximizer and fills the rest of the
// batch with random feasible points.
type RandomBatch struct {
	acq   bo.Acquisition
	opt   bo.AcquisitionOptimizer
	space *bo.Space
	rng   *rand.Rand
}

// NewRandomBatch creates the random-fill batch evaluator.
func NewRandomBatch(acq bo.Acquisition, opt bo.AcquisitionOptimizer, space *bo.Space, rng *rand.Rand) *RandomBatch {
	return &RandomBatch{acq: acq, opt: opt, space: space, rng: rng}
}

// Propose returns the maximizer plus batchSize-1 random points.
func (r *RandomBatch) Propose(batchSize int) ([][]float64, error) {
	x, _, err := r.opt.Maximize(r.acq)
	if err != nil {
		return nil, err
	}
	batch := [][]float64{x}
	if batchSize > 1 {
		rest, err := r.space.Sample(batchSize-1, r.rng)
		if err != nil {
			return nil, err
		}
		batch = append(batch, rest...)
	}
	return batch, nil
}

// LocalPenalization proposes a batch by repeatedly maximizing a penalized
// acquisition: after each pick an exclusion hammer is placed on it, pushing
// the next maximization elsewhere.
type LocalPenalization struct {
	pen    *acquisition.LocalPenalizer
	opt    bo.AcquisitionOptimizer
	logger *zap.Logger
}

// NewLocalPenalization creates the penalized batch evaluator.
func NewLocalPenalization(pen *acquisition.LocalPenalizer, opt bo.AcquisitionOptimizer, logger *zap.Logger) *LocalPenalization {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalPenalization{pen: pen, opt: opt, logger: logger.Named("local_penalization")}
}

// UpdateIncumbent forwards the best observed value to the penalizer.
func (lp *LocalPenalization) UpdateIncumbent(best float64) { lp.pen.UpdateIncumbent(best) }

// Propose builds the batch one penalized maximization at a time.
func (lp *LocalPenalization) Propose(batchSize int) ([][]float64, error) {
	lp.pen.Reset()
	if err := lp.pen.Refresh(); err != nil {
		return nil, err
	}
	batch := make([][]float64, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		x, score, err := lp.opt.Maximize(lp.pen)
		if err != nil {
			return nil, err
		}
		lp.logger.Debug("picked batch point",
			zap.Int("slot", i),
			zap.Float64("penalized_score", score))
		batch = append(batch, x)
		if i < batchSize-1 {
			if err := lp.pen.AddCenter(x); err != nil {
				return nil, err
			}
		}
	}
	return batch, nil
}

// thompsonCandidates is the size of the candidate grid a posterior draw is
// evaluated on.
const thompsonCandidates = 500

// ThompsonSampling proposes each batch point as the minimizer of an
// independent posterior sample function, evaluated over a random candidate
// grid.
type ThompsonSampling struct {
	model bo.PosteriorSampler
	space *bo.Space
	rng   *rand.Rand
}

// NewThompsonSampling creates the posterior-sampling evaluator. The model
// must support joint posterior draws.
func NewThompsonSampling(model bo.Model, space *bo.Space, rng *rand.Rand) (*ThompsonSampling, error) {
	sampler, ok := model.(bo.PosteriorSampler)
	if !ok {
		return nil, bo.NewError(bo.KindIncompatibleModel, "thompson sampling requires a surrogate with posterior draws").WithComponent("evaluator")
	}
	return &ThompsonSampling{model: sampler, space: space, rng: rng}, nil
}

// Propose draws batchSize posterior sample functions and returns each one's
// grid minimizer.
func (ts *ThompsonSampling) Propose(batchSize int) ([][]float64, error) {
	points, err := ts.space.Sample(thompsonCandidates, ts.rng)
	if err != nil {
		return nil, err
	}
	d := ts.space.Dim()
	X := mat.NewDense(len(points), d, nil)
	for i, x := range points {
		X.SetRow(i, x)
	}
	draws, err := ts.model.Sample(X, batchSize, ts.rng)
	if err != nil {
		return nil, err
	}

	batch := make([][]float64, 0, batchSize)
	for s := 0; s < batchSize; s++ {
		bestRow, bestVal := 0, math.Inf(1)
		for i := range points {
			if v := draws.At(i, s); v < bestVal {
				bestRow, bestVal = i, v
			}
		}
		batch = append(batch, append([]float64(nil), points[bestRow]...))
	}
	return batch, nil
}

var (
	_ bo.Evaluator      = (*Sequential)(nil)
	_ bo.Evaluator      = (*RandomBatch)(nil)
	_ bo.Evaluator      = (*LocalPenalization)(nil)
	_ bo.Evaluator      = (*ThompsonSampling)(nil)
	_ bo.IncumbentAware = (*LocalPenalization)(nil)
)
