// Package benchmarks provides standard optimization test functions with
// their search domains, used by the server, the CLI and the test suite.
package benchmarks

import (
	"math"
	"strconv"
	"strings"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// Benchmark couples a test objective with its conventional domain and known
// minimum.
type Benchmark struct {
	Name    string
	Domain  []bo.Variable
	F       bo.Objective
	Optimum float64
}

// Sphere is the d-dimensional sum of squares, minimized at the origin.
func Sphere(dim int) Benchmark {
	domain := make([]bo.Variable, dim)
	for i := range domain {
		domain[i] = bo.Variable{Name: varName("x", i), Kind: bo.Continuous, Min: -5.12, Max: 5.12}
	}
	return Benchmark{
		Name:   "sphere",
		Domain: domain,
		F: func(x []float64) (float64, error) {
			var sum float64
			for _, v := range x {
				sum += v * v
			}
			return sum, nil
		},
		Optimum: 0,
	}
}

// Rosenbrock is the banana-valley function, minimized at (1, ..., 1).
func Rosenbrock(dim int) Benchmark {
	domain := make([]bo.Variable, dim)
	for i := range domain {
		domain[i] = bo.Variable{Name: varName("x", i), Kind: bo.Continuous, Min: -2.048, Max: 2.048}
	}
	return Benchmark{
		Name:   "rosenbrock",
		Domain: domain,
		F: func(x []float64) (float64, error) {
			var sum float64
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				sum += 100*a*a + b*b
			}
			return sum, nil
		},
		Optimum: 0,
	}
}

// Branin is the classic two-dimensional test function with three global
// minima of value ~0.3979.
func Branin() Benchmark {
	const (
		a = 1.0
		b = 5.1 / (4 * math.Pi * math.Pi)
		c = 5 / math.Pi
		r = 6.0
		s = 10.0
		t = 1 / (8 * math.Pi)
	)
	return Benchmark{
		Name: "branin",
		Domain: []bo.Variable{
			{Name: "x1", Kind: bo.Continuous, Min: -5, Max: 10},
			{Name: "x2", Kind: bo.Continuous, Min: 0, Max: 15},
		},
		F: func(x []float64) (float64, error) {
			inner := x[1] - b*x[0]*x[0] + c*x[0] - r
			return a*inner*inner + s*(1-t)*math.Cos(x[0]) + s, nil
		},
		Optimum: 0.397887,
	}
}

// SixHumpCamel is the two-dimensional six-hump camel function with two
// global minima of value ~-1.0316.
func SixHumpCamel() Benchmark {
	return Benchmark{
		Name: "camel",
		Domain: []bo.Variable{
			{Name: "x1", Kind: bo.Continuous, Min: -2, Max: 2},
			{Name: "x2", Kind: bo.Continuous, Min: -1, Max: 1},
		},
		F: func(x []float64) (float64, error) {
			x1, x2 := x[0], x[1]
			return (4-2.1*x1*x1+math.Pow(x1, 4)/3)*x1*x1 + x1*x2 + (-4+4*x2*x2)*x2*x2, nil
		},
		Optimum: -1.0316,
	}
}

// Lookup resolves a benchmark by name. dim applies to the scalable
// functions and is ignored by the fixed two-dimensional ones.
func Lookup(name string, dim int) (Benchmark, bool) {
	if dim < 1 {
		dim = 2
	}
	switch strings.ToLower(name) {
	case "sphere":
		return Sphere(dim), true
	case "rosenbrock":
		return Rosenbrock(dim), true
	case "branin":
		return Branin(), true
	case "camel", "sixhumpcamel":
		return SixHumpCamel(), true
	}
	return Benchmark{}, false
}

func varName(prefix string, i int) string {
	return prefix + strconv.Itoa(i+1)
}
