package sls

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSliderEnlarges(t *testing.T) {
	a := []float64{0.4, 0.4}
	b := []float64{0.6, 0.6}

	sl := newSlider(a, b, 0.25)

	// Each endpoint moved outward by a quarter of the segment.
	assert.InDeltaSlice(t, []float64{0.35, 0.35}, sl.end0, 1e-12)
	assert.InDeltaSlice(t, []float64{0.65, 0.65}, sl.end1, 1e-12)

	// Originals are kept verbatim and independent of the inputs.
	assert.Equal(t, a, sl.orig0)
	assert.Equal(t, b, sl.orig1)

	a[0] = 999
	assert.Equal(t, 0.4, sl.orig0[0])
}

func TestNewSliderClampsToHypercube(t *testing.T) {
	sl := newSlider([]float64{0.05, 0.9}, []float64{0.95, 0.1}, 0.25)

	for i := range sl.end0 {
		assert.GreaterOrEqual(t, sl.end0[i], 0.0)
		assert.LessOrEqual(t, sl.end0[i], 1.0)
		assert.GreaterOrEqual(t, sl.end1[i], 0.0)
		assert.LessOrEqual(t, sl.end1[i], 1.0)
	}
}

func TestSliderPointAt(t *testing.T) {
	sl := newSlider([]float64{0.2, 0.2}, []float64{0.8, 0.8}, 0)

	assert.InDeltaSlice(t, []float64{0.2, 0.2}, sl.pointAt(0), 1e-12)
	assert.InDeltaSlice(t, []float64{0.8, 0.8}, sl.pointAt(1), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, sl.pointAt(0.5), 1e-12)
}

func TestFindNextPointStaysInBounds(t *testing.T) {
	ds := newPreferenceStore(3)

	require.NoError(t, ds.Record([][]float64{{0.2, 0.2, 0.2}, {0.8, 0.8, 0.8}}, 0))

	reg := newTestRegressor(t, ds)
	require.NoError(t, reg.refit())

	cfg := DefaultConfig()
	cfg.NumCandidates = 50
	cfg.AcquisitionIterations = 10

	next := findNextPoint(reg, &cfg, rand.New(rand.NewSource(3)), 3)

	require.Len(t, next, 3)

	for _, v := range next {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
