package sls

import "math"

//////
// Available acquisition functions.
// Each function helps decide which endpoint to propose next by balancing
// exploration (trying uncertain areas) and exploitation (focusing on areas
// the posterior already considers good). All of them score higher for more
// promising points, since the latent utility is maximized.
//////

// UCB implements the Upper Confidence Bound acquisition function.
//
// How it works:
// - Combines the predicted mean utility with the uncertainty (variance)
// - Higher values are better (we're maximizing utility)
// - The Beta parameter controls the trade-off between exploration and
//   exploitation
//
// When to use:
// - General purpose, works well in most cases
// - When you want direct control over the exploration-exploitation trade-off
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean + params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement (PI) scores a point by the probability that its
// utility exceeds the best utility seen so far by at least Xi.
//
// When to use:
// - When you want to be conservative in exploring new points
// - When being "probably better" matters more than "how much better"
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if mean > params.BestSoFar+params.Xi {
			return 1
		}

		return 0
	}

	z := (mean - params.BestSoFar - params.Xi) / sigma

	return normalCDF(z)
}

// ExpectedImprovement (EI) scores a point by the expected margin by which its
// utility exceeds the best utility seen so far.
//
// How it works:
// - Combines the probability of improvement with the magnitude of improvement
// - Often provides better exploration than PI
// - The default choice here, matching common practice for preference-based
//   Bayesian optimization
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)

	delta := mean - params.BestSoFar - params.Xi
	if sigma == 0 {
		return math.Max(delta, 0)
	}

	z := delta / sigma

	return delta*normalCDF(z) + sigma*normalPDF(z)
}

// ThompsonSampling scores a point with a random draw from its posterior,
// which naturally balances exploration and exploitation.
//
// Warning:
// - Requires params.RandomState; the session fills it in automatically.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}
