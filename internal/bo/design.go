package bo

import "math/rand"

// DesignType selects the initial design strategy.
type DesignType string

const (
	// DesignRandom collects points in random feasible locations.
	DesignRandom DesignType = "random"
	// DesignLatin collects points in a Latin hypercube. Discrete and
	// categorical dimensions are sampled randomly.
	DesignLatin DesignType = "latin"
)

// InitialDesign draws the n starting points used to seed the surrogate.
func InitialDesign(t DesignType, s *Space, n int, rng *rand.Rand) ([][]float64, error) {
	const op = "InitialDesign"
	if n <= 0 {
		return nil, NewErrorf(KindConfiguration, "initial design size must be positive, got %d", n).WithOperation(op).WithComponent("design")
	}
	switch t {
	case DesignRandom:
		return s.Sample(n, rng)
	case DesignLatin:
		return latinHypercube(s, n, rng)
	default:
		return nil, NewErrorf(KindConfiguration, "unknown initial design type %q", t).WithOperation(op).WithComponent("design")
	}
}

// latinHypercube stratifies each continuous dimension into n equal slices,
// places one sample per slice and shuffles the pairing across dimensions.
// Non-continuous dimensions fall back to uniform draws over their values.
// Points violating a constraint are replaced by random feasible ones.
func latinHypercube(s *Space, n int, rng *rand.Rand) ([][]float64, error) {
	vars := s.Variables()
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, len(vars))
	}

	for i, v := range vars {
		if v.Kind != Continuous {
			for j := 0; j < n; j++ {
				samples[j][i] = v.Values[rng.Intn(len(v.Values))]
			}
			continue
		}

		// One stratified sample per slice of [0,1), then shuffle.
		col := make([]float64, n)
		for j := 0; j < n; j++ {
			col[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			col[k], col[l] = col[l], col[k]
		})

		for j := 0; j < n; j++ {
			samples[j][i] = v.Min + col[j]*(v.Max-v.Min)
		}
	}

	if !s.HasConstraints() {
		return samples, nil
	}
	for j, x := range samples {
		if s.feasible(x) {
			continue
		}
		replacement, err := s.SampleOne(rng)
		if err != nil {
			return nil, WrapError(err, "replacing infeasible latin sample").WithComponent("design")
		}
		samples[j] = replacement
	}
	return samples, nil
}
