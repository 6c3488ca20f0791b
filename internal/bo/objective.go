package bo

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Objective is the expensive black-box function being optimized. It receives
// a single design point and returns its value. Evaluations may be slow; the
// driver never imposes a timeout, so a hang here blocks the loop (caller
// responsibility).
type Objective func(x []float64) (float64, error)

// evalOutcome is one completed objective evaluation.
type evalOutcome struct {
	y        float64
	duration time.Duration
}

// evaluateBatch runs the objective at every point of the batch, spreading
// the work across up to numCores workers. It blocks until all workers finish
// (synchronous batch semantics, no partial progress) and returns values and
// wall-clock durations co-indexed with points.
//
// Workers receive copies of the candidate points only; no model or driver
// state crosses the goroutine boundary. On failure the first error is
// returned as an evaluation error and remaining results are discarded.
func evaluateBatch(ctx context.Context, f Objective, points [][]float64, numCores int) ([]float64, []time.Duration, error) {
	const op = "evaluateBatch"
	if numCores < 1 {
		numCores = 1
	}

	outcomes := make([]evalOutcome, len(points))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numCores)
	for i, p := range points {
		x := append([]float64(nil), p...)
		g.Go(func() error {
			// In-flight evaluations always complete; cancellation is only
			// observed before starting a new one.
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			y, err := f(x)
			if err != nil {
				return NewErrorf(KindEvaluation, "objective failed at %v", x).WithOperation(op).WithComponent("objective").
					wrap(err)
			}
			outcomes[i] = evalOutcome{y: y, duration: time.Since(start)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if IsEvaluationError(err) {
			return nil, nil, err
		}
		return nil, nil, WrapError(err, "batch evaluation interrupted").WithOperation(op).WithComponent("objective")
	}

	ys := make([]float64, len(points))
	durations := make([]time.Duration, len(points))
	for i, o := range outcomes {
		ys[i] = o.y
		durations[i] = o.duration
	}
	return ys, durations, nil
}

// wrap attaches a cause to an already-constructed Error.
func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}
