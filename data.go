package sls

import "fmt"

//////
// Preference data store.
//////

// preference is the interned form of one observation: indices into the
// store's point list, winner first. tied marks loser positions whose utility
// is pulled toward the winner's instead of being ordered below it.
type preference struct {
	indices []int
	tied    []bool
}

// preferenceStore is the append-only log of preference observations together
// with the interned list of distinct points they reference. Points closer
// than eps are merged into a single entry, as duplicate rows would make the
// Gram matrix singular without adding information.
//
// There is no deletion operation by design: the full ordered history is what
// makes the posterior reproducible.
type preferenceStore struct {
	dim int
	eps float64

	points       [][]float64
	prefs        []preference
	observations []PreferenceObservation
}

// storeSnapshot captures the lengths of the append-only slices so a failed
// update can be rolled back without ever exposing a deletion operation.
type storeSnapshot struct {
	points, prefs, observations int
}

func newPreferenceStore(dim int) *preferenceStore {
	return &preferenceStore{
		dim: dim,
		eps: 1e-6,
	}
}

// Record appends one observation: the candidate points shown to the oracle
// and the index of the one judged best. Optional tie indices mark candidates
// judged indistinguishable from the best one.
//
// Returns:
// - error: ErrInvalidObservation if fewer than two candidates are given, the
//   best or a tie index is out of range, or any candidate's dimensionality
//   differs from the session's.
func (ds *preferenceStore) Record(candidates [][]float64, bestIndex int, ties ...int) error {
	if len(candidates) < 2 {
		return fmt.Errorf("%d candidates, need at least 2: %w", len(candidates), ErrInvalidObservation)
	}

	if bestIndex < 0 || bestIndex >= len(candidates) {
		return fmt.Errorf("best index %d out of range [0,%d): %w", bestIndex, len(candidates), ErrInvalidObservation)
	}

	for i, c := range candidates {
		if len(c) != ds.dim {
			return fmt.Errorf("candidate %d has length %d, want %d: %w", i, len(c), ds.dim, ErrInvalidObservation)
		}
	}

	tied := make(map[int]bool, len(ties))

	for _, t := range ties {
		if t < 0 || t >= len(candidates) || t == bestIndex {
			return fmt.Errorf("tie index %d invalid for best %d of %d candidates: %w",
				t, bestIndex, len(candidates), ErrInvalidObservation)
		}

		tied[t] = true
	}

	// Intern the winner first, then the losers in their original order.
	pref := preference{
		indices: []int{ds.intern(candidates[bestIndex])},
		tied:    []bool{false},
	}

	for i, c := range candidates {
		if i == bestIndex {
			continue
		}

		idx := ds.intern(c)

		// A loser merged onto the winner carries no ordering information.
		if idx == pref.indices[0] {
			continue
		}

		pref.indices = append(pref.indices, idx)
		pref.tied = append(pref.tied, tied[i])
	}

	ds.prefs = append(ds.prefs, pref)

	// The public history keeps the observation exactly as submitted.
	obs := PreferenceObservation{
		Candidates: make([][]float64, len(candidates)),
		BestIndex:  bestIndex,
	}
	for i, c := range candidates {
		obs.Candidates[i] = copyVec(c)
	}
	if len(ties) > 0 {
		obs.Ties = append([]int(nil), ties...)
	}

	ds.observations = append(ds.observations, obs)

	return nil
}

// AllObservations returns the full ordered history. The returned slice and
// its vectors are copies; the history itself is immutable.
func (ds *preferenceStore) AllObservations() []PreferenceObservation {
	out := make([]PreferenceObservation, len(ds.observations))

	for i, obs := range ds.observations {
		cp := PreferenceObservation{
			Candidates: make([][]float64, len(obs.Candidates)),
			BestIndex:  obs.BestIndex,
		}
		for j, c := range obs.Candidates {
			cp.Candidates[j] = copyVec(c)
		}
		if len(obs.Ties) > 0 {
			cp.Ties = append([]int(nil), obs.Ties...)
		}

		out[i] = cp
	}

	return out
}

// Len returns the number of recorded observations.
func (ds *preferenceStore) Len() int {
	return len(ds.observations)
}

// NumPoints returns the number of distinct interned points.
func (ds *preferenceStore) NumPoints() int {
	return len(ds.points)
}

// Point returns a copy of the i-th interned point.
func (ds *preferenceStore) Point(i int) []float64 {
	return copyVec(ds.points[i])
}

// intern returns the index of the stored point matching x within eps,
// appending a copy of x when no such point exists.
func (ds *preferenceStore) intern(x []float64) int {
	eps2 := ds.eps * ds.eps

	for i, p := range ds.points {
		if sqDistance(p, x) <= eps2 {
			return i
		}
	}

	ds.points = append(ds.points, copyVec(x))

	return len(ds.points) - 1
}

func (ds *preferenceStore) snapshot() storeSnapshot {
	return storeSnapshot{
		points:       len(ds.points),
		prefs:        len(ds.prefs),
		observations: len(ds.observations),
	}
}

// restore rewinds the store to a snapshot taken before a failed update. Only
// the session's rollback path uses it; recorded history is never rewritten.
func (ds *preferenceStore) restore(s storeSnapshot) {
	ds.points = ds.points[:s.points]
	ds.prefs = ds.prefs[:s.prefs]
	ds.observations = ds.observations[:s.observations]
}
