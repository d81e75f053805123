package sls

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//////
// Kernel / covariance module.
//////

// ARDKernel implements the automatic-relevance-determination squared
// exponential kernel between two parameter vectors.
//
// Mathematical formula:
//
//	k(x, y) = SignalVariance * exp(-0.5 * sum_i ((x_i - y_i) / LengthScales_i)^2)
//
// It is symmetric in x and y and yields a positive semi-definite Gram matrix
// over any finite point set. The function is pure and side-effect free.
//
// Returns:
// - float64: kernel value (0 < k <= SignalVariance)
// - error: ErrDimension if x, y and hyp.LengthScales do not all share the
//   same length
func ARDKernel(x, y []float64, hyp KernelHyperparameters) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("kernel arguments of length %d and %d: %w", len(x), len(y), ErrDimension)
	}

	if len(x) != len(hyp.LengthScales) {
		return 0, fmt.Errorf("kernel argument of length %d with %d length-scales: %w",
			len(x), len(hyp.LengthScales), ErrDimension)
	}

	return kernelValue(x, y, hyp), nil
}

// kernelValue is the unchecked hot path behind ARDKernel, used when the
// lengths are already known to agree.
func kernelValue(x, y []float64, hyp KernelHyperparameters) float64 {
	var sum float64

	for i := range x {
		diff := (x[i] - y[i]) / hyp.LengthScales[i]

		sum += diff * diff
	}

	return hyp.SignalVariance * math.Exp(-0.5*sum)
}

// gramMatrix builds the symmetric kernel matrix over points, adding diag to
// every diagonal entry (observation noise plus stabilizing jitter).
func gramMatrix(points [][]float64, hyp KernelHyperparameters, diag float64) *mat.SymDense {
	n := len(points)

	gram := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := kernelValue(points[i], points[j], hyp)
			if i == j {
				v += diag
			}

			gram.SetSym(i, j, v)
		}
	}

	return gram
}

// kernelVector evaluates the kernel between x and every point, writing the
// result into dst (allocated when nil).
func kernelVector(dst []float64, x []float64, points [][]float64, hyp KernelHyperparameters) []float64 {
	if dst == nil {
		dst = make([]float64, len(points))
	}

	for i, p := range points {
		dst[i] = kernelValue(x, p, hyp)
	}

	return dst
}

// valid reports whether every hyperparameter is strictly positive and finite,
// which is what the Cholesky factorization needs to have a chance.
func (h KernelHyperparameters) valid() bool {
	if !(h.SignalVariance > 0) || math.IsInf(h.SignalVariance, 0) {
		return false
	}

	if h.NoiseVariance < 0 || math.IsInf(h.NoiseVariance, 0) {
		return false
	}

	for _, l := range h.LengthScales {
		if !(l > 0) || math.IsInf(l, 0) {
			return false
		}
	}

	return true
}
