package sls

import (
	"log/slog"
	"math/rand"
)

//////
// Const, vars, types.
//////

// KernelHyperparameters holds the positive parameters of the ARD squared
// exponential kernel used by the preference regressor.
//
// Fields:
// - LengthScales: one positive length-scale per dimension (ARD)
// - SignalVariance: prior variance of the latent utility function
// - NoiseVariance: variance of the observation noise added to the diagonal
//
// All values must be strictly positive. They are re-estimated after each
// recorded preference, warm started from the previous estimate.
type KernelHyperparameters struct {
	LengthScales   []float64
	SignalVariance float64
	NoiseVariance  float64
}

// DefaultHyperparameters returns the hyperparameters every fresh session
// starts from: length-scales of 0.5 in every dimension, signal variance 0.5
// and noise variance 0.005. These match a search space normalized to the
// unit hypercube.
func DefaultHyperparameters(dim int) KernelHyperparameters {
	scales := make([]float64, dim)
	for i := range scales {
		scales[i] = 0.5
	}

	return KernelHyperparameters{
		LengthScales:   scales,
		SignalVariance: 0.5,
		NoiseVariance:  0.005,
	}
}

// clone returns a deep copy, so a snapshot cannot be mutated through the
// original.
func (h KernelHyperparameters) clone() KernelHyperparameters {
	scales := make([]float64, len(h.LengthScales))
	copy(scales, h.LengthScales)

	h.LengthScales = scales

	return h
}

// SliderEndpoints is the pair of parameter vectors that defines the current
// 1-D search segment. A and B both have the session's dimensionality and lie
// inside the unit hypercube.
type SliderEndpoints struct {
	A []float64
	B []float64
}

// PreferenceObservation is one immutable entry of the append-only preference
// history: the candidate points shown at one iteration and the index of the
// one the oracle judged best.
//
// Ties optionally lists candidate indices judged indistinguishable from the
// best one; their utilities are pulled together instead of ordered. Ties is
// empty unless the session runs with an indifference margin.
type PreferenceObservation struct {
	Candidates [][]float64
	BestIndex  int
	Ties       []int
}

// ProgressUpdate reports the state of the optimization after one fully
// committed SubmitPreference call.
type ProgressUpdate struct {
	// Iteration is the number of committed preference submissions so far.
	Iteration int

	// Chosen is the parameter vector the submitted slider position mapped to.
	Chosen []float64

	// BestEstimate is the current posterior-utility-maximizing point.
	BestEstimate []float64

	// BestUtility is the estimated latent utility at BestEstimate.
	BestUtility float64
}

// Config holds all knobs of a session. Obtain one from DefaultConfig and
// adjust as needed before passing it to NewSession.
//
// Usage example:
//
//	config := sls.DefaultConfig()
//	config.Seed = 42
//	config.Restarts = 5
//	session, err := sls.NewSession(8, config)
type Config struct {
	// Seed seeds the session's random number generator. Zero selects a
	// time-based seed; any other value makes the whole run reproducible.
	Seed int64

	// Restarts bounds the number of multi-start attempts used when
	// re-estimating kernel hyperparameters. More restarts trade runtime for
	// robustness against local optima.
	// Recommended range: 1-10.
	Restarts int

	// NumCandidates is the number of random candidates prescreened each
	// iteration before the global acquisition search refines the best one.
	// Recommended range: 50-500.
	NumCandidates int

	// AcquisitionIterations bounds the global (swarm) acquisition search.
	AcquisitionIterations int

	// AcquisitionFunc selects the next slider endpoint. Higher values mark
	// more promising points. See ExpectedImprovement, UCB,
	// ProbabilityOfImprovement and ThompsonSampling.
	AcquisitionFunc AcquisitionFunc

	// AcqParams holds the parameters of the acquisition function.
	AcqParams AcquisitionParams

	// SliderScale is the fraction by which the proposed segment is enlarged
	// on each side before clamping to the hypercube, widening the slice the
	// user actually explores.
	SliderScale float64

	// IndifferenceMargin enables tie handling when positive: a chosen point
	// within this Euclidean distance of a slider endpoint is recorded as
	// indistinguishable from it rather than strictly preferred. Zero
	// disables ties.
	IndifferenceMargin float64

	// PreferenceScale is the noise scale of the Bradley-Terry preference
	// likelihood. Smaller values treat judgments as more reliable.
	PreferenceScale float64

	// Hyperparameters overrides the initial kernel hyperparameters when its
	// LengthScales slice is non-empty. Leave zero to use
	// DefaultHyperparameters.
	Hyperparameters KernelHyperparameters

	// ProgressChan receives one update per committed submission.
	// If nil, no updates will be sent.
	ProgressChan chan<- ProgressUpdate

	// Logger receives debug-level fitting diagnostics. If nil the session
	// stays silent.
	Logger *slog.Logger
}

// AcquisitionFunc scores a query point from its posterior mean and variance.
// Higher values indicate more promising points (the session maximizes
// utility).
//
// Implementation notes for custom acquisition functions:
// - Should handle edge cases (zero variance, extreme means)
// - Should be deterministic unless randomness is the strategy
// - Must properly use parameters from AcquisitionParams.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds parameters used by the acquisition functions to
// balance exploring uncertain regions against exploiting known good ones.
type AcquisitionParams struct {
	// Beta controls the exploration-exploitation trade-off of UCB.
	// Typical values range from 0.1 to 5.0, with 2.0 being a good default.
	Beta float64

	// Xi is the minimum improvement margin used by ProbabilityOfImprovement
	// and ExpectedImprovement. Typical values range from 0.01 to 0.1.
	Xi float64

	// BestSoFar is the highest estimated utility observed so far. The
	// session maintains it automatically between iterations.
	BestSoFar float64

	// RandomState is the random number generator used by ThompsonSampling.
	// The session fills it in from its own seeded generator.
	RandomState *rand.Rand
}
