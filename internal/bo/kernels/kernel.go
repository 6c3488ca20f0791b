// Package kernels provides covariance functions for Gaussian process
// surrogates.
package kernels

import (
	"fmt"
	"math"
)

// Kernel is a positive-definite covariance function over design points.
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2.
	Eval(x1, x2 []float64) float64

	// Grad computes the gradient of Eval with respect to x1.
	Grad(x1, x2 []float64) []float64

	// Hyperparameters returns the current hyperparameters.
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters.
	SetHyperparameters(params []float64) error
}

// RBF implements the squared exponential kernel.
type RBF struct {
	// Length scale (larger = smoother function).
	lengthScale float64
	// Signal variance (amplitude).
	signalVar float64
}

// NewRBF creates an RBF kernel.
func NewRBF(lengthScale, signalVar float64) (*RBF, error) {
	if lengthScale <= 0 || signalVar <= 0 {
		return nil, fmt.Errorf("kernel hyperparameters must be positive, got lengthScale=%v signalVar=%v", lengthScale, signalVar)
	}
	return &RBF{lengthScale: lengthScale, signalVar: signalVar}, nil
}

// Eval computes the RBF kernel value between x1 and x2.
func (k *RBF) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return k.signalVar * math.Exp(-sumSq/(2*k.lengthScale*k.lengthScale))
}

// Grad computes d Eval / d x1.
func (k *RBF) Grad(x1, x2 []float64) []float64 {
	v := k.Eval(x1, x2)
	grad := make([]float64, len(x1))
	l2 := k.lengthScale * k.lengthScale
	for i := range x1 {
		grad[i] = -v * (x1[i] - x2[i]) / l2
	}
	return grad
}

// Hyperparameters returns {lengthScale, signalVar}.
func (k *RBF) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets {lengthScale, signalVar}.
func (k *RBF) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale, k.signalVar = params[0], params[1]
	return nil
}

// Matern52 implements the Matérn 5/2 kernel, the default for Bayesian
// optimization surrogates.
type Matern52 struct {
	lengthScale float64
	signalVar   float64
}

// NewMatern52 creates a Matérn 5/2 kernel.
func NewMatern52(lengthScale, signalVar float64) (*Matern52, error) {
	if lengthScale <= 0 || signalVar <= 0 {
		return nil, fmt.Errorf("kernel hyperparameters must be positive, got lengthScale=%v signalVar=%v", lengthScale, signalVar)
	}
	return &Matern52{lengthScale: lengthScale, signalVar: signalVar}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2.
func (k *Matern52) Eval(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r := math.Sqrt(sumSq) / k.lengthScale
	sqrt5r := math.Sqrt(5) * r
	poly := 1 + sqrt5r + (5.0/3.0)*r*r
	return k.signalVar * poly * math.Exp(-sqrt5r)
}

// Grad computes d Eval / d x1. The Matérn 5/2 gradient is smooth at r=0.
func (k *Matern52) Grad(x1, x2 []float64) []float64 {
	grad := make([]float64, len(x1))
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	r := math.Sqrt(sumSq) / k.lengthScale
	// d/dr [ sv*(1+s5 r+5/3 r^2) e^{-s5 r} ] = -sv*(5/3) r (1+s5 r) e^{-s5 r}
	// and dr/dx1_i = (x1_i-x2_i)/(r l^2), so the r in front cancels.
	factor := -k.signalVar * (5.0 / 3.0) * (1 + math.Sqrt(5)*r) * math.Exp(-math.Sqrt(5)*r) / (k.lengthScale * k.lengthScale)
	for i := range x1 {
		grad[i] = factor * (x1[i] - x2[i])
	}
	return grad
}

// Hyperparameters returns {lengthScale, signalVar}.
func (k *Matern52) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.signalVar}
}

// SetHyperparameters sets {lengthScale, signalVar}.
func (k *Matern52) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale, k.signalVar = params[0], params[1]
	return nil
}
