package sls

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegressor(t *testing.T, ds *preferenceStore) *preferenceRegressor {
	t.Helper()

	return newPreferenceRegressor(
		ds,
		DefaultHyperparameters(ds.dim),
		0.01,
		2,
		rand.New(rand.NewSource(1)),
		nil,
	)
}

func TestRefitOrdersUtilities(t *testing.T) {
	ds := newPreferenceStore(1)

	x0 := []float64{0.2}
	x1 := []float64{0.5}
	x2 := []float64{0.8}

	// x0 beats x1, x1 beats x2: the chain must survive the fit.
	require.NoError(t, ds.Record([][]float64{x0, x1}, 0))
	require.NoError(t, ds.Record([][]float64{x1, x2}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	require.Len(t, reg.y, 3)
	assert.Greater(t, reg.y[0], reg.y[1])
	assert.Greater(t, reg.y[1], reg.y[2])

	best, util := reg.bestObserved()
	assert.Equal(t, x0, best)
	assert.Equal(t, reg.y[0], util)
}

func TestPosteriorBeforeObservations(t *testing.T) {
	ds := newPreferenceStore(3)
	reg := newTestRegressor(t, ds)

	require.NoError(t, reg.refit())

	mean, variance := reg.posterior([]float64{0.5, 0.5, 0.5})

	// The prior: zero mean, full signal variance.
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, reg.hyp.SignalVariance, variance)

	best, _ := reg.bestObserved()
	assert.Nil(t, best)
}

func TestPosteriorRanksPreferredPoints(t *testing.T) {
	ds := newPreferenceStore(2)

	winner := []float64{0.3, 0.3}
	middle := []float64{0.6, 0.6}
	loser := []float64{0.9, 0.9}

	require.NoError(t, ds.Record([][]float64{winner, middle}, 0))
	require.NoError(t, ds.Record([][]float64{middle, loser}, 0))
	require.NoError(t, ds.Record([][]float64{winner, loser}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	meanWin, _ := reg.posterior(winner)
	meanLose, _ := reg.posterior(loser)

	assert.Greater(t, meanWin, meanLose)

	// Variance shrinks near observed points relative to unexplored corners.
	_, varNear := reg.posterior(winner)
	_, varFar := reg.posterior([]float64{0.0, 1.0})

	assert.Less(t, varNear, varFar)
}

func TestPosteriorIdempotentBetweenUpdates(t *testing.T) {
	ds := newPreferenceStore(2)

	require.NoError(t, ds.Record([][]float64{{0.2, 0.2}, {0.8, 0.8}}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	x := []float64{0.4, 0.6}

	m1, v1 := reg.posterior(x)
	m2, v2 := reg.posterior(x)

	assert.Equal(t, m1, m2)
	assert.Equal(t, v1, v2)
}

func TestLazyFactorizationAfterGrowth(t *testing.T) {
	ds := newPreferenceStore(2)

	require.NoError(t, ds.Record([][]float64{{0.2, 0.2}, {0.8, 0.8}}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())
	assert.Equal(t, 2, reg.nFit)

	// Growing the store without a refit: the next query refreshes the
	// cached factorization on its own.
	require.NoError(t, ds.Record([][]float64{{0.5, 0.1}, {0.2, 0.2}}, 0))

	_, _ = reg.posterior([]float64{0.5, 0.5})
	assert.Equal(t, 3, reg.nFit)
}

func TestRefitInstabilityFallback(t *testing.T) {
	ds := newPreferenceStore(2)

	// Force exactly duplicated rows past the interning, with no noise and no
	// jitter budget: the Gram matrix is singular and must stay that way.
	p := []float64{0.5, 0.5}
	ds.points = append(ds.points, copyVec(p), copyVec(p))

	hyp := DefaultHyperparameters(2)
	hyp.NoiseVariance = 0

	reg := newPreferenceRegressor(ds, hyp, 0.01, 1, rand.New(rand.NewSource(1)), nil)
	reg.jitter = 0
	reg.jitterRetries = 0

	err := reg.refit()
	assert.ErrorIs(t, err, ErrNumericalInstability)

	// Queries survive on the prior rather than crashing.
	mean, variance := reg.posterior([]float64{0.1, 0.9})
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, hyp.SignalVariance, variance)
}

func TestPosteriorServesPreviousFitOnRefreshFailure(t *testing.T) {
	ds := newPreferenceStore(2)

	require.NoError(t, ds.Record([][]float64{{0.2, 0.2}, {0.8, 0.8}}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	x := []float64{0.4, 0.6}

	m1, v1 := reg.posterior(x)
	require.Less(t, v1, reg.hyp.SignalVariance, "first query must come from the fit, not the prior")

	// Grow the store with rows no jitter budget can rescue: the lazy
	// refresh fails and the previous factorization keeps answering.
	p := []float64{0.5, 0.5}
	ds.points = append(ds.points, copyVec(p), copyVec(p))
	reg.hyp.NoiseVariance = 0
	reg.jitter = 0
	reg.jitterRetries = 0

	m2, v2 := reg.posterior(x)

	assert.Equal(t, m1, m2)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 2, reg.nFit)
}

func TestHyperparameterFitKeepsPreferredPointOnTop(t *testing.T) {
	ds := newPreferenceStore(2)

	// Chain of judgments marching toward (0.1, 0.1), with enough points and
	// comparisons for the kernel to be re-estimated along the way.
	points := [][]float64{
		{0.9, 0.9}, {0.7, 0.7}, {0.5, 0.5}, {0.3, 0.3}, {0.1, 0.1},
	}

	for i := len(points) - 1; i > 0; i-- {
		require.NoError(t, ds.Record([][]float64{points[i], points[i-1]}, 0))
	}

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	best, _ := reg.bestObserved()
	assert.Equal(t, []float64{0.1, 0.1}, best)

	// The re-estimated kernel must still tell the observed points apart on
	// the unit cube.
	assert.True(t, reg.hyp.valid())
	assert.GreaterOrEqual(t, reg.hyp.SignalVariance, 1e-3)

	for _, l := range reg.hyp.LengthScales {
		assert.LessOrEqual(t, l, 2.0)
	}
}

func TestJitterEscalationRecoversNearDuplicates(t *testing.T) {
	ds := newPreferenceStore(2)

	// Near-identical rows: with the default jitter budget the factorization
	// must succeed anyway.
	ds.points = append(ds.points,
		[]float64{0.5, 0.5},
		[]float64{0.5 + 1e-12, 0.5},
		[]float64{0.9, 0.1},
	)

	reg := newTestRegressor(t, ds)

	chol, err := reg.factorize(reg.hyp)
	require.NoError(t, err)
	assert.NotNil(t, chol)
}

func TestHyperparametersStayValid(t *testing.T) {
	ds := newPreferenceStore(1)

	points := []float64{0.1, 0.3, 0.5, 0.7, 0.9}

	// Chain of preferences marching toward 0.1.
	for i := len(points) - 1; i > 0; i-- {
		require.NoError(t, ds.Record(
			[][]float64{{points[i-1]}, {points[i]}}, 0,
		))
	}

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	assert.True(t, reg.hyp.valid(), "refit must never produce degenerate hyperparameters")
	assert.Len(t, reg.hyp.LengthScales, 1)
}

func TestExtendUtilitiesWarmStart(t *testing.T) {
	ds := newPreferenceStore(1)
	reg := newTestRegressor(t, ds)

	reg.y = []float64{1.5, -0.5}

	ext := reg.extendUtilities(4)

	assert.Equal(t, []float64{1.5, -0.5, 0, 0}, ext)
}

func TestSnapshotRestoresPreviousPosterior(t *testing.T) {
	ds := newPreferenceStore(2)

	require.NoError(t, ds.Record([][]float64{{0.2, 0.2}, {0.8, 0.8}}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	x := []float64{0.3, 0.7}
	m1, v1 := reg.posterior(x)

	snap := reg.snapshot()

	require.NoError(t, ds.Record([][]float64{{0.6, 0.4}, {0.2, 0.2}}, 0))
	require.NoError(t, reg.refit())

	reg.restore(snap)
	ds.restore(storeSnapshot{points: 2, prefs: 1, observations: 1})

	m2, v2 := reg.posterior(x)

	assert.Equal(t, m1, m2)
	assert.Equal(t, v1, v2)
}
