package sls

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

//////
// Preference Gaussian Process regressor.
//////

// maxConditionNumber is the worst conditioning a Gram factorization may have
// before it counts as failed. LAPACK's dpotrf can report success on an
// exactly singular matrix, so a positive Factorize alone is not enough.
const maxConditionNumber = 1e12

// preferenceRegressor maintains the posterior over the latent utility
// function given the preference history and the current kernel
// hyperparameters.
//
// The model is a Gaussian Process prior N(0, K) over utility values at the
// store's interned points, combined with a Bradley-Terry likelihood over the
// recorded comparisons: a judgment "w beats l" contributes
// log sigmoid((y_w - y_l) / scale). The maximum-a-posteriori utilities are
// found by gradient-based local optimization, warm started from the previous
// fit; hyperparameters are re-estimated jointly with the utilities by
// derivative-free multi-start MAP search in log-space. Local optima are
// accepted behavior, since everything is re-optimized every iteration.
//
// Derived state (Cholesky factorization of the Gram matrix, K^{-1}y) is a
// pure function of the store and the hyperparameters. It is recomputed
// lazily when the observation set changed since the last query and never
// persisted.
type preferenceRegressor struct {
	dim   int
	store *preferenceStore

	hyp       KernelHyperparameters
	prefScale float64
	restarts  int
	rng       *rand.Rand
	logger    *slog.Logger

	// jitter is added to the Gram diagonal on top of the noise variance;
	// jitterRetries bounds how often it is escalated before giving up.
	jitter        float64
	jitterRetries int

	// y holds the MAP utilities at the store's points, parallel to them.
	y []float64

	// Cached factorization state, valid for the first nFit points.
	chol  *mat.Cholesky
	alpha *mat.VecDense
	nFit  int
	dirty bool
}

// regressorState is a snapshot of the mutable fields, used by the session to
// roll a failed update back to the previous posterior.
type regressorState struct {
	hyp   KernelHyperparameters
	y     []float64
	chol  *mat.Cholesky
	alpha *mat.VecDense
	nFit  int
	dirty bool
}

func newPreferenceRegressor(
	store *preferenceStore,
	hyp KernelHyperparameters,
	prefScale float64,
	restarts int,
	rng *rand.Rand,
	logger *slog.Logger,
) *preferenceRegressor {
	return &preferenceRegressor{
		dim:           store.dim,
		store:         store,
		hyp:           hyp.clone(),
		prefScale:     prefScale,
		restarts:      restarts,
		rng:           rng,
		logger:        logger,
		jitter:        1e-8,
		jitterRetries: 6,
		dirty:         true,
	}
}

// refit re-estimates hyperparameters and MAP utilities against the full
// history and rebuilds the cached factorization.
//
// Returns:
// - error: ErrNumericalInstability (wrapped) when the Gram matrix cannot be
//   factorized even after jitter escalation. The caller is expected to roll
//   back to a snapshot taken beforehand; refit itself may have partially
//   updated the hyperparameters by then.
func (r *preferenceRegressor) refit() error {
	n := r.store.NumPoints()
	if n == 0 {
		r.y = nil
		r.chol = nil
		r.alpha = nil
		r.nFit = 0
		r.dirty = false

		return nil
	}

	r.fitHyperparameters()

	chol, err := r.factorize(r.hyp)
	if err != nil {
		return err
	}

	r.chol = chol
	r.nFit = n

	r.fitUtilities()

	alpha := mat.NewVecDense(n, nil)
	_ = r.chol.SolveVecTo(alpha, mat.NewVecDense(n, r.y))

	r.alpha = alpha
	r.dirty = false

	return nil
}

// factorize builds the Gram matrix over the store's points under hyp and
// returns its Cholesky factorization, escalating the diagonal jitter until
// it succeeds or the retry budget is spent. The previous factorization is
// left untouched on failure.
func (r *preferenceRegressor) factorize(hyp KernelHyperparameters) (*mat.Cholesky, error) {
	jitter := r.jitter

	for try := 0; try <= r.jitterRetries; try++ {
		gram := gramMatrix(r.store.points, hyp, hyp.NoiseVariance+jitter)

		var chol mat.Cholesky
		if chol.Factorize(gram) && chol.Cond() <= maxConditionNumber {
			if try > 0 && r.logger != nil {
				r.logger.Debug("gram factorization needed jitter escalation",
					"points", r.store.NumPoints(), "jitter", jitter)
			}

			return &chol, nil
		}

		jitter = math.Max(jitter*10, 1e-10)
	}

	return nil, fmt.Errorf("gram factorization failed for %d points after %d jitter escalations: %w",
		r.store.NumPoints(), r.jitterRetries, ErrNumericalInstability)
}

// fitUtilities finds the MAP utilities for the current history, warm started
// from the previous fit (new points start at the prior mean). Requires a
// valid factorization in r.chol.
func (r *preferenceRegressor) fitUtilities() {
	y0 := r.extendUtilities(r.store.NumPoints())

	r.y, _ = r.mapUtilities(r.chol, y0, 200)
}

// mapUtilities runs the MAP optimization of the latent utilities under the
// factorized prior chol, by LBFGS with the analytic gradient. It returns the
// fitted utilities together with the attained negative log posterior
// (preference likelihood plus prior quadratic form, up to the Gaussian
// normalization constant). A failed optimization falls back to y0.
func (r *preferenceRegressor) mapUtilities(chol *mat.Cholesky, y0 []float64, iters int) ([]float64, float64) {
	n := len(y0)
	s := r.prefScale

	// K^{-1} y via the factorization; shared by value and gradient.
	solve := func(y []float64) *mat.VecDense {
		v := mat.NewVecDense(n, nil)
		_ = chol.SolveVecTo(v, mat.NewVecDense(n, y))

		return v
	}

	fn := func(y []float64) float64 {
		v := solve(y)

		// GP prior: 0.5 * y^T K^{-1} y.
		f := 0.5 * mat.Dot(mat.NewVecDense(n, y), v)

		for _, p := range r.store.prefs {
			w := p.indices[0]

			for j := 1; j < len(p.indices); j++ {
				l := p.indices[j]

				if p.tied[j] {
					d := y[w] - y[l]

					f += d * d / (2 * s * s)

					continue
				}

				// -log sigmoid((y_w - y_l)/s), computed stably.
				f += softplus(-(y[w] - y[l]) / s)
			}
		}

		return f
	}

	grad := func(g, y []float64) {
		v := solve(y)

		for i := range g {
			g[i] = v.AtVec(i)
		}

		for _, p := range r.store.prefs {
			w := p.indices[0]

			for j := 1; j < len(p.indices); j++ {
				l := p.indices[j]

				if p.tied[j] {
					d := (y[w] - y[l]) / (s * s)

					g[w] += d
					g[l] -= d

					continue
				}

				q := sigmoid(-(y[w]-y[l])/s) / s

				g[w] -= q
				g[l] += q
			}
		}
	}

	problem := optimize.Problem{Func: fn, Grad: grad}
	settings := &optimize.Settings{MajorIterations: iters}

	start := append([]float64(nil), y0...)

	result, err := optimize.Minimize(problem, start, settings, &optimize.LBFGS{})
	if result != nil && allFinite(result.X) && !math.IsInf(result.F, 0) {
		return result.X, result.F
	}

	if r.logger != nil {
		r.logger.Debug("utility fit did not converge, keeping warm start", "error", err)
	}

	fallback := append([]float64(nil), y0...)

	return fallback, fn(fallback)
}

// fitHyperparameters re-estimates the kernel hyperparameters by joint MAP
// over utilities and hyperparameters: for each candidate kernel the utilities
// are refitted against the preference likelihood, and the candidate is scored
// by the attained negative log joint p(D|y) p(y|hyp) p(hyp). Scoring the
// preference likelihood, not a fixed utility vector, is what keeps the log
// determinant term from collapsing the kernel into a flat posterior. The
// search runs in log-space with NelderMead, warm started from the previous
// estimate plus bounded random restarts. Getting stuck in a local optimum is
// accepted.
func (r *preferenceRegressor) fitHyperparameters() {
	n := r.store.NumPoints()

	// Too little data to say anything about length-scales.
	if n < 3 || len(r.store.prefs) < 2 {
		return
	}

	y0 := r.extendUtilities(n)

	anchor := logTheta(DefaultHyperparameters(r.dim))
	theta0 := logTheta(r.hyp)

	obj := func(theta []float64) float64 {
		hyp, ok := hypFromLog(theta, r.dim)
		if !ok {
			return math.Inf(1)
		}

		gram := gramMatrix(r.store.points, hyp, hyp.NoiseVariance+r.jitter)

		var chol mat.Cholesky
		if !chol.Factorize(gram) || chol.Cond() > maxConditionNumber {
			return math.Inf(1)
		}

		// Profile out the utilities under this kernel, then add the Gaussian
		// normalization of the prior.
		_, fit := r.mapUtilities(&chol, y0, 60)

		nll := fit + 0.5*chol.LogDet()

		// Log-normal priors anchored at the defaults keep the estimate from
		// drifting to degenerate scales on sparse histories.
		for i, t := range theta {
			d := t - anchor[i]

			nll += d * d / 2
		}

		return nll
	}

	best := append([]float64(nil), theta0...)
	bestVal := obj(theta0)

	attempts := r.restarts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		start := append([]float64(nil), theta0...)

		// First attempt is the pure warm start.
		if attempt > 0 {
			for i := range start {
				start[i] += r.rng.NormFloat64() * 0.3
			}
		}

		result, _ := optimize.Minimize(
			optimize.Problem{Func: obj},
			start,
			&optimize.Settings{MajorIterations: 80},
			&optimize.NelderMead{},
		)
		if result == nil || !allFinite(result.X) {
			continue
		}

		if result.F < bestVal {
			bestVal = result.F

			best = result.X
		}
	}

	if hyp, ok := hypFromLog(best, r.dim); ok {
		r.hyp = hyp
		r.dirty = true
	}
}

// posterior returns the posterior mean and variance of the latent utility at
// x, using the cached factorization and refreshing it only when the point
// set changed since the last query. Before any observation it returns the
// prior (0, SignalVariance); when the refresh fails it keeps answering from
// the previous factorization instead.
func (r *preferenceRegressor) posterior(x []float64) (mean, variance float64) {
	if err := r.ensure(); err != nil && r.logger != nil {
		r.logger.Debug("posterior refresh failed, serving previous fit", "error", err)
	}

	if r.chol == nil || r.nFit == 0 {
		return 0, r.hyp.SignalVariance
	}

	k := kernelVector(nil, x, r.store.points[:r.nFit], r.hyp)
	kVec := mat.NewVecDense(r.nFit, k)

	mean = mat.Dot(kVec, r.alpha)

	v := mat.NewVecDense(r.nFit, nil)
	_ = r.chol.SolveVecTo(v, kVec)

	variance = r.hyp.SignalVariance - mat.Dot(kVec, v)
	if variance < 0 {
		variance = 0
	}

	return mean, variance
}

// ensure refreshes the cached factorization if the observation set grew or
// the hyperparameters changed since it was computed.
func (r *preferenceRegressor) ensure() error {
	n := r.store.NumPoints()
	if n == 0 {
		return nil
	}

	if !r.dirty && r.nFit == n && r.chol != nil {
		return nil
	}

	chol, err := r.factorize(r.hyp)
	if err != nil {
		return err
	}

	y := r.extendUtilities(n)

	alpha := mat.NewVecDense(n, nil)
	_ = chol.SolveVecTo(alpha, mat.NewVecDense(n, y))

	r.y = y
	r.chol = chol
	r.alpha = alpha
	r.nFit = n
	r.dirty = false

	return nil
}

// bestObserved returns a copy of the interned point with the highest MAP
// utility together with that utility, or (nil, -Inf) before any observation.
// This is the x_max the session reports as its best estimate.
func (r *preferenceRegressor) bestObserved() ([]float64, float64) {
	if len(r.y) == 0 {
		return nil, math.Inf(-1)
	}

	bestIdx := 0

	for i, v := range r.y {
		if v > r.y[bestIdx] {
			bestIdx = i
		}
	}

	return r.store.Point(bestIdx), r.y[bestIdx]
}

// extendUtilities returns the previous MAP utilities grown to n entries, new
// points starting at the prior mean. Points are append-only, so indices of
// retained points never shift.
func (r *preferenceRegressor) extendUtilities(n int) []float64 {
	y := make([]float64, n)
	copy(y, r.y)

	return y
}

func (r *preferenceRegressor) snapshot() regressorState {
	return regressorState{
		hyp:   r.hyp.clone(),
		y:     copyVec(r.y),
		chol:  r.chol,
		alpha: r.alpha,
		nFit:  r.nFit,
		dirty: r.dirty,
	}
}

func (r *preferenceRegressor) restore(s regressorState) {
	r.hyp = s.hyp
	r.y = s.y
	r.chol = s.chol
	r.alpha = s.alpha
	r.nFit = s.nFit
	r.dirty = s.dirty
}

//////
// Likelihood helpers.
//////

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}

	e := math.Exp(x)

	return e / (1 + e)
}

// softplus computes log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}

	return math.Log1p(math.Exp(x))
}

// logTheta packs hyperparameters into log-space as
// [log signal, log noise, log length-scales...].
func logTheta(h KernelHyperparameters) []float64 {
	theta := make([]float64, 2+len(h.LengthScales))
	theta[0] = math.Log(h.SignalVariance)
	theta[1] = math.Log(h.NoiseVariance)

	for i, l := range h.LengthScales {
		theta[2+i] = math.Log(l)
	}

	return theta
}

// hypFromLog unpacks a log-space vector, rejecting values outside sane
// bounds so the search cannot wander into degenerate kernels.
func hypFromLog(theta []float64, dim int) (KernelHyperparameters, bool) {
	if len(theta) != 2+dim || !allFinite(theta) {
		return KernelHyperparameters{}, false
	}

	hyp := KernelHyperparameters{
		SignalVariance: math.Exp(theta[0]),
		NoiseVariance:  math.Exp(theta[1]),
		LengthScales:   make([]float64, dim),
	}

	if hyp.SignalVariance < 1e-3 || hyp.SignalVariance > 10 {
		return KernelHyperparameters{}, false
	}

	if hyp.NoiseVariance < 1e-8 || hyp.NoiseVariance > 0.5 {
		return KernelHyperparameters{}, false
	}

	// The search space is the unit cube, so a length-scale much past its
	// diagonal means a kernel that no longer distinguishes any two points.
	for i := 0; i < dim; i++ {
		l := math.Exp(theta[2+i])
		if l < 1e-2 || l > 2 {
			return KernelHyperparameters{}, false
		}

		hyp.LengthScales[i] = l
	}

	return hyp, true
}
