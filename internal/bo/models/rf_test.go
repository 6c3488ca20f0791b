package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
)

func TestRandomForestFitValidation(t *testing.T) {
	rf := NewRandomForest(10, rand.New(rand.NewSource(1)), nil)

	err := rf.Fit(mat.NewDense(1, 1, []float64{0}), mat.NewVecDense(1, []float64{0}))
	require.Error(t, err)
	assert.True(t, bo.IsModelFitError(err))

	err = rf.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewVecDense(2, []float64{1, 2}))
	require.Error(t, err)
	assert.True(t, bo.IsModelFitError(err))
}

func TestRandomForestPredictBeforeFit(t *testing.T) {
	rf := NewRandomForest(10, rand.New(rand.NewSource(1)), nil)
	_, _, err := rf.Predict(mat.NewDense(1, 1, []float64{0}))
	require.Error(t, err)
	assert.True(t, bo.IsModelFitError(err))
}

func TestRandomForestLearnsStepFunction(t *testing.T) {
	// Trees split on thresholds, so a step function is the easy case.
	n := 40
	X := mat.NewDense(n, 1, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1) // [0, 1]
		X.Set(i, 0, x)
		if x < 0.5 {
			y.SetVec(i, 0)
		} else {
			y.SetVec(i, 10)
		}
	}

	rf := NewRandomForest(30, rand.New(rand.NewSource(3)), nil)
	require.NoError(t, rf.Fit(X, y))

	test := mat.NewDense(2, 1, []float64{0.2, 0.8})
	mean, variance, err := rf.Predict(test)
	require.NoError(t, err)

	assert.InDelta(t, 0, mean.AtVec(0), 2.0)
	assert.InDelta(t, 10, mean.AtVec(1), 2.0)
	assert.Greater(t, variance.AtVec(0), 0.0, "variance floor keeps weighting safe")
}

func TestRandomForestVarianceReflectsDisagreement(t *testing.T) {
	// Noisy targets should spread the per-tree predictions.
	rng := rand.New(rand.NewSource(8))
	n := 60
	X := mat.NewDense(n, 1, nil)
	noisy := mat.NewVecDense(n, nil)
	flat := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, rng.Float64())
		noisy.SetVec(i, rng.NormFloat64()*5)
		flat.SetVec(i, 1)
	}

	rfNoisy := NewRandomForest(30, rand.New(rand.NewSource(5)), nil)
	require.NoError(t, rfNoisy.Fit(X, noisy))
	rfFlat := NewRandomForest(30, rand.New(rand.NewSource(5)), nil)
	require.NoError(t, rfFlat.Fit(X, flat))

	test := mat.NewDense(1, 1, []float64{0.5})
	_, vNoisy, err := rfNoisy.Predict(test)
	require.NoError(t, err)
	_, vFlat, err := rfFlat.Predict(test)
	require.NoError(t, err)

	assert.Greater(t, vNoisy.AtVec(0), vFlat.AtVec(0))
}
