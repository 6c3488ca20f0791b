package kernels

import (
	"math"
	"testing"
)

func TestRBFEval(t *testing.T) {
	tests := []struct {
		name     string
		x1, x2   []float64
		ls, sv   float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       1.0,
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       1.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "with different length scale",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 2.0},
			ls:       2.0,
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (2^2 + 2^2) / 2^2)
		},
		{
			name:     "signal variance scales the amplitude",
			x1:       []float64{1.0},
			x2:       []float64{1.0},
			ls:       1.0,
			sv:       3.0,
			expected: 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewRBF(tt.ls, tt.sv)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			result := kernel.Eval(tt.x1, tt.x2)

			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}

			// Test symmetry
			result2 := kernel.Eval(tt.x2, tt.x1)
			if math.Abs(result-result2) > 1e-10 {
				t.Error("kernel is not symmetric")
			}
		})
	}
}

func TestMatern52Eval(t *testing.T) {
	tests := []struct {
		name     string
		x1, x2   []float64
		ls, sv   float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       1.0,
			sv:       1.0,
			expected: 1.0,
		},
		{
			name: "different points",
			x1:   []float64{0.0, 0.0},
			x2:   []float64{1.0, 1.0},
			ls:   1.0,
			sv:   1.0,
			// (1 + sqrt(5)r + (5/3)r^2) exp(-sqrt(5)r) with r = sqrt(2)
			expected: (1.0 + math.Sqrt(5)*math.Sqrt(2) + (5.0/3.0)*2) * math.Exp(-math.Sqrt(5)*math.Sqrt(2)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewMatern52(tt.ls, tt.sv)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			result := kernel.Eval(tt.x1, tt.x2)

			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}

			result2 := kernel.Eval(tt.x2, tt.x1)
			if math.Abs(result-result2) > 1e-10 {
				t.Error("kernel is not symmetric")
			}
		})
	}
}

func TestConstructorRejectsBadHyperparameters(t *testing.T) {
	if _, err := NewRBF(0, 1); err == nil {
		t.Error("expected error for zero length scale")
	}
	if _, err := NewRBF(1, -1); err == nil {
		t.Error("expected error for negative signal variance")
	}
	if _, err := NewMatern52(-1, 1); err == nil {
		t.Error("expected error for negative length scale")
	}
}

func TestKernelGradientMatchesFiniteDifferences(t *testing.T) {
	kernels := map[string]Kernel{}
	rbf, _ := NewRBF(0.8, 1.5)
	m52, _ := NewMatern52(1.2, 0.9)
	kernels["rbf"] = rbf
	kernels["matern52"] = m52

	x1 := []float64{0.3, -1.1, 2.0}
	x2 := []float64{1.0, 0.4, 1.7}
	const h = 1e-6

	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			grad := k.Grad(x1, x2)
			for i := range x1 {
				xp := append([]float64(nil), x1...)
				xm := append([]float64(nil), x1...)
				xp[i] += h
				xm[i] -= h
				numerical := (k.Eval(xp, x2) - k.Eval(xm, x2)) / (2 * h)
				if math.Abs(grad[i]-numerical) > 1e-5 {
					t.Errorf("dim %d: analytic %v vs numerical %v", i, grad[i], numerical)
				}
			}
		})
	}
}

func TestKernelHyperparameters(t *testing.T) {
	tests := []struct {
		name     string
		kernel   Kernel
		params   []float64
		wantErr  bool
		errorMsg string
	}{
		{
			name:    "RBF valid params",
			kernel:  mustRBF(t),
			params:  []float64{2.0, 3.0},
			wantErr: false,
		},
		{
			name:     "RBF invalid params count",
			kernel:   mustRBF(t),
			params:   []float64{1.0},
			wantErr:  true,
			errorMsg: "expected 2 hyperparameters, got 1",
		},
		{
			name:     "RBF invalid param value",
			kernel:   mustRBF(t),
			params:   []float64{-1.0, 1.0},
			wantErr:  true,
			errorMsg: "hyperparameters must be positive, got [-1 1]",
		},
		{
			name:    "Matern52 valid params",
			kernel:  mustMatern52(t),
			params:  []float64{2.0, 3.0},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.kernel.SetHyperparameters(tt.params)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("expected error message '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			params := tt.kernel.Hyperparameters()
			if len(params) != len(tt.params) {
				t.Fatalf("expected %d parameters, got %d", len(tt.params), len(params))
			}
			for i, p := range params {
				if p != tt.params[i] {
					t.Errorf("parameter %d: expected %v, got %v", i, tt.params[i], p)
				}
			}
		})
	}
}

func mustRBF(t *testing.T) *RBF {
	t.Helper()
	k, err := NewRBF(1.0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func mustMatern52(t *testing.T) *Matern52 {
	t.Helper()
	k, err := NewMatern52(1.0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	return k
}
