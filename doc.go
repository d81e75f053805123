// Package sls implements sequential line search: human-in-the-loop Bayesian
// optimization of a high-dimensional parameter vector from a sequence of 1-D
// slider judgments.
//
// # How it works
//
// The search space is the unit hypercube [0,1]^d. Each iteration the session
// proposes a slider, a 1-D segment between two parameter vectors. The caller
// (a UI showing the slider, or a programmatic oracle) picks the best point
// along it and submits its interpolation parameter t back. The session then:
//
//  1. Records the comparison between the chosen point and the slider
//     endpoints in an append-only preference history
//  2. Refits the kernel hyperparameters and the maximum-a-posteriori latent
//     utilities under a Gaussian Process prior with a Bradley-Terry
//     preference likelihood
//  3. Maximizes an acquisition function globally to pick the next slider,
//     spanning it from the current best estimate to the most informative
//     candidate
//
// The best estimate of the utility maximizer is available at any time via
// BestEstimate.
//
// # Usage
//
//	session, err := sls.NewSession(5, sls.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for i := 0; i < 30; i++ {
//	    ends := session.CurrentEndpoints()
//	    t := judge(ends.A, ends.B) // ask a human, or an oracle
//	    if err := session.SubmitPreference(t); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
//	fmt.Println(session.BestEstimate())
//
// # Acquisition functions
//
// The next slider endpoint is chosen by a pluggable acquisition function.
// ExpectedImprovement is the default; UCB, ProbabilityOfImprovement and
// ThompsonSampling are also provided, all scoring higher for more promising
// points.
//
// # Error handling
//
// Failures are surfaced as wrapped sentinel errors: ErrDimension for
// mismatched vector lengths, ErrInvalidInput for out-of-range slider
// positions, ErrInvalidObservation for malformed comparisons and
// ErrNumericalInstability when the Gram matrix cannot be factorized. The
// last one is recoverable: the failing update is rolled back completely and
// the session keeps its previous posterior and endpoints.
//
// # Concurrency
//
// A Session serializes its calls with an internal mutex, but the protocol is
// inherently sequential: one judgment at a time, each SubmitPreference
// completing retraining and slider recomputation synchronously before it
// returns. Use one session per logical user. Cost per update grows with the
// cube of the number of distinct observed points, which bounds practical
// session length to the low hundreds of iterations.
package sls
