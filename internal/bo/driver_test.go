package bo

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// recordingModel counts fits and keeps the targets it was last trained on.
type recordingModel struct {
	fitCount int
	lastY    []float64
	fitErr   func(call int) error
}

func (m *recordingModel) Fit(X *mat.Dense, y *mat.VecDense) error {
	m.fitCount++
	if m.fitErr != nil {
		if err := m.fitErr(m.fitCount); err != nil {
			return err
		}
	}
	m.lastY = make([]float64, y.Len())
	for i := range m.lastY {
		m.lastY[i] = y.AtVec(i)
	}
	return nil
}

func (m *recordingModel) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	n, _ := X.Dims()
	return mat.NewVecDense(n, nil), mat.NewVecDense(n, nil), nil
}

// recordingAcq keeps the incumbents it was handed.
type recordingAcq struct {
	incumbents []float64
}

func (a *recordingAcq) Evaluate(x []float64) (float64, error) { return 0, nil }
func (a *recordingAcq) UpdateIncumbent(best float64)          { a.incumbents = append(a.incumbents, best) }

// scriptedEvaluator replays a fixed proposal function.
type scriptedEvaluator struct {
	propose func(batchSize int) ([][]float64, error)
}

func (e *scriptedEvaluator) Propose(batchSize int) ([][]float64, error) {
	return e.propose(batchSize)
}

func randomProposer(s *Space, seed int64) *scriptedEvaluator {
	rng := rand.New(rand.NewSource(seed))
	return &scriptedEvaluator{propose: func(batchSize int) ([][]float64, error) {
		return s.Sample(batchSize, rng)
	}}
}

func quadratic(x []float64) (float64, error) {
	return (x[0] - 2) * (x[0] - 2), nil
}

func driverUnderTest(t *testing.T, mutate func(*DriverConfig)) (*Driver, *recordingModel, *recordingAcq) {
	t.Helper()
	s := testSpace(t, []Variable{
		{Name: "x", Kind: Continuous, Min: -5, Max: 5},
	}, nil)

	opts := DefaultOptions()
	opts.Domain = s.Variables()
	opts.InitialDesignNumData = 4
	opts.MaxIterations = 5
	opts.RandomSeed = 17

	model := &recordingModel{}
	acq := &recordingAcq{}
	cfg := DriverConfig{
		Space:     s,
		Model:     model,
		Acq:       acq,
		Evaluator: randomProposer(s, 99),
		Objective: quadratic,
		Options:   opts,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDriver(cfg)
	require.NoError(t, err)
	return d, model, acq
}

func TestNewDriverRequiresCollaborators(t *testing.T) {
	_, err := NewDriver(DriverConfig{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestDriverRunCollectsHistory(t *testing.T) {
	d, model, _ := driverUnderTest(t, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "max_iterations", result.StopReason)
	assert.False(t, result.Converged)
	assert.Equal(t, 5, result.Iterations)
	// 4 initial points plus one per iteration.
	assert.Len(t, result.History, 9)
	assert.Equal(t, 5, model.fitCount, "one refit per iteration at interval 1")

	// Best must be the minimum of the history.
	for _, obs := range result.History {
		assert.GreaterOrEqual(t, obs.Y, result.BestY)
	}
}

func TestDriverFindsQuadraticMinimum(t *testing.T) {
	// A proposer that walks toward the minimum stands in for a real
	// acquisition loop; the driver only has to track the best observation.
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		step := 0
		points := [][]float64{{0}, {1.5}, {1.9}, {2.02}, {1.99}}
		cfg.Evaluator = &scriptedEvaluator{propose: func(batchSize int) ([][]float64, error) {
			p := points[step%len(points)]
			step++
			return [][]float64{p}, nil
		}}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, result.BestX[0], 0.05)
	assert.Less(t, result.BestY, 0.01)
}

func TestDriverNormalizesTargets(t *testing.T) {
	d, model, _ := driverUnderTest(t, nil)

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, model.lastY)
	var mean float64
	for _, y := range model.lastY {
		mean += y
	}
	mean /= float64(len(model.lastY))
	assert.InDelta(t, 0, mean, 1e-9, "fitted targets should be centered")
}

func TestDriverSkipsNormalization(t *testing.T) {
	d, model, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.NormalizeY = false
		cfg.Options.MaxIterations = 1
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	// Raw objective values flow straight into the fit.
	seen := make(map[float64]bool)
	for _, y := range model.lastY {
		seen[y] = true
	}
	for _, obs := range result.History[:len(model.lastY)] {
		assert.True(t, seen[obs.Y], "expected raw target %v in fitted set", obs.Y)
	}
}

func TestDriverMaximize(t *testing.T) {
	d, _, acq := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.Maximize = true
		cfg.Options.NormalizeY = false
		cfg.Objective = func(x []float64) (float64, error) { return x[0], nil }
		// Proposals below the domain's lower half keep the best observation
		// inside the initial design, so the final incumbent is stable.
		cfg.Evaluator = &scriptedEvaluator{propose: func(batchSize int) ([][]float64, error) {
			return [][]float64{{-5}}, nil
		}}
		cfg.Options.MaxIterations = 2
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	// History keeps the caller's orientation and Best picks the largest.
	for _, obs := range result.History {
		assert.LessOrEqual(t, obs.Y, result.BestY)
	}
	// The incumbent handed to the acquisition is the negated best.
	require.NotEmpty(t, acq.incumbents)
	assert.InDelta(t, -result.BestY, acq.incumbents[len(acq.incumbents)-1], 1e-12)
}

func TestDriverSeededObservationsSkipInitialDesign(t *testing.T) {
	var calls atomic.Int64
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.X = [][]float64{{0}, {1}, {3}}
		cfg.Options.Y = []float64{4, 1, 1}
		cfg.Options.MaxIterations = 1
		inner := cfg.Objective
		cfg.Objective = func(x []float64) (float64, error) {
			calls.Add(1)
			return inner(x)
		}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	// Seeded rows are not re-evaluated; only the loop's proposal is.
	assert.EqualValues(t, 1, calls.Load())
	assert.Len(t, result.History, 4)
	assert.Equal(t, 0, result.History[0].Iteration)
}

func TestDriverEvaluatesSeedXWithoutY(t *testing.T) {
	var calls atomic.Int64
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.X = [][]float64{{0}, {4}}
		cfg.Options.MaxIterations = 1
		inner := cfg.Objective
		cfg.Objective = func(x []float64) (float64, error) {
			calls.Add(1)
			return inner(x)
		}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load(), "two seeded rows plus one proposal")
	assert.Len(t, result.History, 3)
}

func TestDriverDeDuplication(t *testing.T) {
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.DeDuplication = true
		cfg.Options.MaxIterations = 3
		// Always proposing the same point forces replacement sampling.
		cfg.Evaluator = &scriptedEvaluator{propose: func(batchSize int) ([][]float64, error) {
			return [][]float64{{1.25}}, nil
		}}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)

	seen := make(map[float64]int)
	for _, obs := range result.History {
		seen[obs.X[0]]++
	}
	for x, count := range seen {
		assert.Equal(t, 1, count, "point %v evaluated more than once", x)
	}
}

func TestDriverEvaluationFailureReturnsPartialResult(t *testing.T) {
	evaluated := 0
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Objective = func(x []float64) (float64, error) {
			evaluated++
			if evaluated > 6 {
				return 0, errors.New("simulation crashed")
			}
			return quadratic(x)
		}
	})

	result, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsEvaluationError(err), "expected evaluation error, got %v", err)
	require.NotNil(t, result, "partial result must be returned")
	assert.Equal(t, "failed", result.StopReason)
	assert.Len(t, result.History, 6, "observations before the failure are preserved")
}

func TestDriverFirstFitFailureIsFatal(t *testing.T) {
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Model = &recordingModel{fitErr: func(call int) error {
			return NewError(KindModelFit, "singular kernel matrix")
		}}
	})

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsModelFitError(err))
}

func TestDriverLaterFitFailureKeepsGoing(t *testing.T) {
	model := &recordingModel{fitErr: func(call int) error {
		if call > 1 {
			return NewError(KindModelFit, "no convergence")
		}
		return nil
	}}
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Model = model
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err, "refit failures after the first fit are not fatal")
	assert.Equal(t, "max_iterations", result.StopReason)
}

func TestDriverModelUpdateInterval(t *testing.T) {
	d, model, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.ModelUpdateInterval = 3
		cfg.Options.MaxIterations = 6
	})

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	// Initial fit, then one refit once three fresh observations accumulate.
	assert.Equal(t, 2, model.fitCount)
}

func TestDriverConvergence(t *testing.T) {
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.Eps = 1e-3
		cfg.Evaluator = &scriptedEvaluator{propose: func(batchSize int) ([][]float64, error) {
			return [][]float64{{1.0}}, nil
		}}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.Equal(t, "converged", result.StopReason)
	assert.Equal(t, 2, result.Iterations)
}

func TestDriverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, _, _ := driverUnderTest(t, nil)

	cancel()
	result, err := d.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, "cancelled", result.StopReason)
}

func TestDriverMaxTime(t *testing.T) {
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Options.MaxTime = time.Nanosecond
		cfg.Objective = func(x []float64) (float64, error) {
			time.Sleep(time.Millisecond)
			return quadratic(x)
		}
	})

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "max_time", result.StopReason)
}

func TestDriverHooks(t *testing.T) {
	var infos []IterationInfo
	d, _, _ := driverUnderTest(t, func(cfg *DriverConfig) {
		cfg.Hooks = Hooks{OnIteration: func(info IterationInfo) {
			infos = append(infos, info)
		}}
	})

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 5)
	assert.Equal(t, 1, infos[0].Iteration)
	assert.Equal(t, 1, infos[0].BatchSize)
	assert.True(t, infos[0].Refitted)
}

func TestDriverBestAndHistoryAccessors(t *testing.T) {
	d, _, _ := driverUnderTest(t, nil)

	_, ok := d.Best()
	assert.False(t, ok, "no best before any observation")

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	best, ok := d.Best()
	require.True(t, ok)
	history := d.History()
	assert.Len(t, history, 9)
	for _, obs := range history {
		assert.GreaterOrEqual(t, obs.Y, best.Y)
	}
}

func TestYNormalizerRoundTrip(t *testing.T) {
	n := newYNormalizer([]float64{1, 2, 3, 4, 5})
	for _, y := range []float64{-2, 0, 3.7} {
		assert.InDelta(t, y, n.invert(n.apply(y)), 1e-12)
	}

	// Constant targets degrade to a pure shift.
	flat := newYNormalizer([]float64{2, 2, 2})
	assert.InDelta(t, 0, flat.apply(2), 1e-12)
	assert.InDelta(t, 1, flat.apply(3), 1e-12)
}
