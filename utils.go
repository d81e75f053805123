package sls

import (
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
)

//////
// Helper functions.
//////

// Helper function used by PI and EI to compute the cumulative distribution
// function of the standard normal distribution.
//
// Returns:
// - Probability that a standard normal random variable is less than x.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// Helper function used by EI to compute the probability density function
// of the standard normal distribution.
//
// Returns:
// - Value of the standard normal PDF at x.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// clamp restricts v to the closed interval [lo, hi].
func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// clampUnit clamps every coordinate of x into [0, 1] in place and returns x.
func clampUnit(x []float64) []float64 {
	for i, v := range x {
		x[i] = clamp(v, 0.0, 1.0)
	}

	return x
}

// copyVec returns an independent copy of x.
func copyVec(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)

	return out
}

// lerp returns a + t*(b-a) as a new vector.
func lerp(a, b []float64, t float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + t*(b[i]-a[i])
	}

	return out
}

// sqDistance returns the squared Euclidean distance between x and y.
func sqDistance(x, y []float64) float64 {
	var sum float64

	for i := range x {
		diff := x[i] - y[i]

		sum += diff * diff
	}

	return sum
}

// distance returns the Euclidean distance between x and y.
func distance(x, y []float64) float64 {
	return math.Sqrt(sqDistance(x, y))
}

// randomVector draws a point uniformly from the unit hypercube.
func randomVector(rng *rand.Rand, dim int) []float64 {
	out := make([]float64, dim)
	for i := range out {
		out[i] = rng.Float64()
	}

	return out
}

// allFinite reports whether every coordinate of x is a finite number.
func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}
