package benchmarks

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownMinima(t *testing.T) {
	tests := []struct {
		name      string
		bench     Benchmark
		minimizer []float64
	}{
		{"sphere", Sphere(3), []float64{0, 0, 0}},
		{"rosenbrock", Rosenbrock(2), []float64{1, 1}},
		{"branin", Branin(), []float64{math.Pi, 2.275}},
		{"branin second minimum", Branin(), []float64{-math.Pi, 12.275}},
		{"camel", SixHumpCamel(), []float64{0.0898, -0.7126}},
		{"camel second minimum", SixHumpCamel(), []float64{-0.0898, 0.7126}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.bench.F(tt.minimizer)
			require.NoError(t, err)
			assert.InDelta(t, tt.bench.Optimum, got, 1e-3)
		})
	}
}

func TestDomainsMatchDimension(t *testing.T) {
	assert.Len(t, Sphere(5).Domain, 5)
	assert.Len(t, Rosenbrock(4).Domain, 4)
	assert.Len(t, Branin().Domain, 2)
	assert.Len(t, SixHumpCamel().Domain, 2)

	for i, v := range Sphere(3).Domain {
		assert.NotEmpty(t, v.Name, "variable %d needs a name", i)
		assert.Less(t, v.Min, v.Max)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		query string
		dim   int
		want  string
		ok    bool
	}{
		{"sphere", 3, "sphere", true},
		{"SPHERE", 3, "sphere", true},
		{"Rosenbrock", 2, "rosenbrock", true},
		{"branin", 0, "branin", true},
		{"camel", 2, "camel", true},
		{"sixhumpcamel", 2, "camel", true},
		{"ackley", 2, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			b, ok := Lookup(tt.query, tt.dim)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, b.Name)
			}
		})
	}

	// Non-positive dimensions fall back to 2 for the scalable functions.
	b, ok := Lookup("sphere", -1)
	require.True(t, ok)
	assert.Len(t, b.Domain, 2)
}
