package bo

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// VarKind is the kind of a design-space variable.
type VarKind string

const (
	// Continuous variables take any value in [Min, Max].
	Continuous VarKind = "continuous"
	// Discrete variables take one of an ordered set of numeric values.
	Discrete VarKind = "discrete"
	// Categorical variables take one of an unordered set of numeric codes.
	Categorical VarKind = "categorical"
	// Bandit variables behave like categorical ones; the tag is kept for
	// configuration compatibility.
	Bandit VarKind = "bandit"
)

// Variable describes a single dimension of the design space.
type Variable struct {
	Name string
	Kind VarKind
	// Min and Max bound continuous variables (inclusive).
	Min, Max float64
	// Values enumerates the admissible values of discrete, categorical and
	// bandit variables.
	Values []float64
}

func (v Variable) validate() error {
	if v.Name == "" {
		return NewError(KindConfiguration, "variable has no name")
	}
	switch v.Kind {
	case Continuous:
		if !(v.Min < v.Max) {
			return NewErrorf(KindConfiguration, "variable %q: min %v must be below max %v", v.Name, v.Min, v.Max)
		}
	case Discrete, Categorical, Bandit:
		if len(v.Values) == 0 {
			return NewErrorf(KindConfiguration, "variable %q: no admissible values", v.Name)
		}
	default:
		return NewErrorf(KindConfiguration, "variable %q: unknown kind %q", v.Name, v.Kind)
	}
	return nil
}

// bounds returns the numeric range spanned by the variable.
func (v Variable) bounds() (lo, hi float64) {
	if v.Kind == Continuous {
		return v.Min, v.Max
	}
	lo, hi = v.Values[0], v.Values[0]
	for _, val := range v.Values[1:] {
		lo = math.Min(lo, val)
		hi = math.Max(hi, val)
	}
	return lo, hi
}

// Constraint is a feasibility predicate over a full design point.
type Constraint struct {
	Name  string
	Holds func(x []float64) bool
}

// NewLinearConstraint builds the constraint coeffs·x <= bound.
func NewLinearConstraint(name string, coeffs []float64, bound float64) Constraint {
	c := append([]float64(nil), coeffs...)
	return Constraint{
		Name: name,
		Holds: func(x []float64) bool {
			n := len(c)
			if len(x) < n {
				n = len(x)
			}
			return floats.Dot(c[:n], x[:n]) <= bound
		},
	}
}

// sampleRetryBudget caps constraint-satisfying resampling rounds. Past it,
// Sample fails with an infeasible-region error.
const sampleRetryBudget = 1000

// Space is the set of valid input configurations: an ordered sequence of
// variables plus constraint predicates. Dimensionality is fixed at
// construction.
type Space struct {
	vars        []Variable
	constraints []Constraint
}

// NewSpace builds a design space. It fails with a configuration error when
// no variables are given or any variable is malformed.
func NewSpace(vars []Variable, constraints []Constraint) (*Space, error) {
	const op = "NewSpace"
	if len(vars) == 0 {
		return nil, NewError(KindConfiguration, "design space needs at least one variable").WithOperation(op).WithComponent("space")
	}
	for _, v := range vars {
		if err := v.validate(); err != nil {
			return nil, WrapError(err, "invalid variable").WithOperation(op).WithComponent("space")
		}
	}
	return &Space{
		vars:        append([]Variable(nil), vars...),
		constraints: append([]Constraint(nil), constraints...),
	}, nil
}

// Dim returns the number of variables.
func (s *Space) Dim() int { return len(s.vars) }

// Variables returns the ordered variable descriptors.
func (s *Space) Variables() []Variable { return s.vars }

// Bounds returns the [min, max] numeric range of each dimension.
func (s *Space) Bounds() [][2]float64 {
	b := make([][2]float64, len(s.vars))
	for i, v := range s.vars {
		lo, hi := v.bounds()
		b[i] = [2]float64{lo, hi}
	}
	return b
}

// HasConstraints reports whether any constraint predicates are attached.
func (s *Space) HasConstraints() bool { return len(s.constraints) > 0 }

// Contains reports whether x lies within every variable range and satisfies
// every constraint.
func (s *Space) Contains(x []float64) bool {
	if len(x) != len(s.vars) {
		return false
	}
	const tol = 1e-9
	for i, v := range s.vars {
		switch v.Kind {
		case Continuous:
			if x[i] < v.Min-tol || x[i] > v.Max+tol {
				return false
			}
		default:
			ok := false
			for _, val := range v.Values {
				if math.Abs(x[i]-val) <= tol {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
	}
	return s.feasible(x)
}

func (s *Space) feasible(x []float64) bool {
	for _, c := range s.constraints {
		if c.Holds != nil && !c.Holds(x) {
			return false
		}
	}
	return true
}

// Project maps x onto the nearest valid point: continuous dimensions are
// clipped to their range, discrete and categorical dimensions are rounded to
// the nearest admissible value. Constraints are not enforced here.
func (s *Space) Project(x []float64) []float64 {
	out := make([]float64, len(s.vars))
	for i, v := range s.vars {
		xi := x[i]
		switch v.Kind {
		case Continuous:
			out[i] = math.Max(v.Min, math.Min(xi, v.Max))
		default:
			nearest := v.Values[0]
			best := math.Abs(xi - nearest)
			for _, val := range v.Values[1:] {
				if d := math.Abs(xi - val); d < best {
					best = d
					nearest = val
				}
			}
			out[i] = nearest
		}
	}
	return out
}

// Sample draws n points uniformly at random, resampling until every point
// satisfies the constraints. It fails with an infeasible-region error once
// the retry budget of consecutive infeasible draws is exhausted; a feasible
// draw resets the budget, so the cap bounds the feasible-region density, not
// the request size.
func (s *Space) Sample(n int, rng *rand.Rand) ([][]float64, error) {
	const op = "Space.Sample"
	if n <= 0 {
		return nil, NewErrorf(KindConfiguration, "sample size must be positive, got %d", n).WithOperation(op).WithComponent("space")
	}
	points := make([][]float64, 0, n)
	misses := 0
	for len(points) < n {
		x := s.randomPoint(rng)
		if s.feasible(x) {
			points = append(points, x)
			misses = 0
			continue
		}
		misses++
		if misses >= sampleRetryBudget {
			return nil, NewErrorf(KindInfeasibleRegion,
				"no feasible point found after %d consecutive resampling rounds (%d of %d collected)",
				sampleRetryBudget, len(points), n).WithOperation(op).WithComponent("space")
		}
	}
	return points, nil
}

// SampleOne draws a single feasible point.
func (s *Space) SampleOne(rng *rand.Rand) ([]float64, error) {
	pts, err := s.Sample(1, rng)
	if err != nil {
		return nil, err
	}
	return pts[0], nil
}

func (s *Space) randomPoint(rng *rand.Rand) []float64 {
	x := make([]float64, len(s.vars))
	for i, v := range s.vars {
		switch v.Kind {
		case Continuous:
			x[i] = v.Min + rng.Float64()*(v.Max-v.Min)
		default:
			x[i] = v.Values[rng.Intn(len(v.Values))]
		}
	}
	return x
}

// Distance is the Euclidean distance between two points.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// samePoint reports whether two points coincide within tol in every
// coordinate.
func samePoint(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
