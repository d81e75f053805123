package sls

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

//////
// Slider construction and acquisition maximization.
//////

// slider is the current 1-D search segment. end0/end1 are the endpoints the
// caller explores; they are the proposed pair slightly enlarged along its
// direction and clamped to the unit hypercube. orig0/orig1 keep the
// pre-enlargement originals, which is what a submitted judgment is compared
// against when it is recorded.
type slider struct {
	end0, end1   []float64
	orig0, orig1 []float64
}

// sliderMinSeparation is the squared distance below which a proposed pair
// counts as degenerate and the second endpoint gets re-drawn.
const sliderMinSeparation = 1e-10

// newSlider builds a slider over the segment a -> b, enlarging it by scale
// on each side. Callers must guarantee a != b.
func newSlider(a, b []float64, scale float64) *slider {
	end0 := make([]float64, len(a))
	end1 := make([]float64, len(b))

	for i := range a {
		d := b[i] - a[i]

		end0[i] = a[i] - scale*d
		end1[i] = b[i] + scale*d
	}

	return &slider{
		end0:  clampUnit(end0),
		end1:  clampUnit(end1),
		orig0: copyVec(a),
		orig1: copyVec(b),
	}
}

// pointAt returns end0 + t*(end1-end0) as a new vector.
func (sl *slider) pointAt(t float64) []float64 {
	return lerp(sl.end0, sl.end1, t)
}

// findNextPoint maximizes the acquisition function over the hypercube and
// returns the winner. It prescreens random candidates to seed the search,
// then refines globally with a mayfly swarm; whichever of the two phases
// scored higher wins. Both phases share the session RNG, keeping seeded runs
// reproducible.
func findNextPoint(
	reg *preferenceRegressor,
	cfg *Config,
	rng *rand.Rand,
	dim int,
) []float64 {
	params := cfg.AcqParams
	params.RandomState = rng

	if _, best := reg.bestObserved(); best > params.BestSoFar {
		params.BestSoFar = best
	}

	eval := func(x []float64) float64 {
		mean, variance := reg.posterior(x)

		return cfg.AcquisitionFunc(mean, variance, params)
	}

	// Phase 1: random candidate prescreen.
	var (
		bestX []float64
		bestV float64
	)

	for j := 0; j < cfg.NumCandidates; j++ {
		x := randomVector(rng, dim)

		v := eval(x)
		if bestX == nil || v > bestV {
			bestV = v

			bestX = x
		}
	}

	// Phase 2: global refinement with the mayfly swarm.
	mc := mayfly.NewDefaultConfig()
	mc.ObjectiveFunc = func(x []float64) float64 {
		// The swarm minimizes cost.
		return -eval(clampUnit(copyVec(x)))
	}
	mc.ProblemSize = dim
	mc.MaxIterations = cfg.AcquisitionIterations
	mc.LowerBound = 0
	mc.UpperBound = 1
	mc.Rand = rng

	if result, err := mayfly.Optimize(mc); err == nil {
		x := clampUnit(copyVec(result.GlobalBest.Position))
		if len(x) == dim && allFinite(x) && eval(x) > bestV {
			bestX = x
		}
	}

	return bestX
}
