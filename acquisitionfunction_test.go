package sls

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUCB(t *testing.T) {
	params := AcquisitionParams{Beta: 2.0}

	assert.InDelta(t, 0.5+2.0*0.3, UCB(0.5, 0.09, params), 1e-12)

	// Zero uncertainty reduces to the mean.
	assert.Equal(t, 0.5, UCB(0.5, 0, params))
}

func TestExpectedImprovement(t *testing.T) {
	params := AcquisitionParams{Xi: 0.0, BestSoFar: 1.0}

	// Far above the incumbent with no uncertainty: improvement is the margin.
	assert.InDelta(t, 1.0, ExpectedImprovement(2.0, 0, params), 1e-12)

	// Below the incumbent with no uncertainty: no improvement.
	assert.Equal(t, 0.0, ExpectedImprovement(0.5, 0, params))

	// Uncertainty makes even a sub-incumbent point worth something.
	assert.Greater(t, ExpectedImprovement(0.5, 0.25, params), 0.0)

	// EI grows with the mean, all else equal.
	assert.Greater(t,
		ExpectedImprovement(1.5, 0.25, params),
		ExpectedImprovement(1.0, 0.25, params),
	)
}

func TestProbabilityOfImprovement(t *testing.T) {
	params := AcquisitionParams{Xi: 0.01, BestSoFar: 1.0}

	// At the incumbent the probability is below one half (Xi margin).
	assert.Less(t, ProbabilityOfImprovement(1.0, 0.04, params), 0.5)

	// Monotone in the mean.
	assert.Greater(t,
		ProbabilityOfImprovement(1.5, 0.04, params),
		ProbabilityOfImprovement(1.1, 0.04, params),
	)

	// Degenerate variance becomes a step function.
	assert.Equal(t, 1.0, ProbabilityOfImprovement(2.0, 0, params))
	assert.Equal(t, 0.0, ProbabilityOfImprovement(0.5, 0, params))
}

func TestThompsonSampling(t *testing.T) {
	params := AcquisitionParams{
		RandomState: rand.New(rand.NewSource(1)),
	}

	for i := 0; i < 100; i++ {
		v := ThompsonSampling(0.5, 0.25, params)

		assert.False(t, math.IsNaN(v))
	}

	// Zero variance is deterministic.
	assert.Equal(t, 0.5, ThompsonSampling(0.5, 0, params))
}
