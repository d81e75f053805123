package sls

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Restarts:              3,
		NumCandidates:         200,
		AcquisitionIterations: 40,
		AcquisitionFunc:       ExpectedImprovement,
		AcqParams: AcquisitionParams{
			Beta:      2.0,
			Xi:        0.01,
			BestSoFar: math.Inf(-1),
		},
		SliderScale:     0.25,
		PreferenceScale: 0.01,
	}
}

// Session drives one interactive sequential line-search run: it proposes a
// 1-D slider through the search space, folds the submitted judgment into the
// preference history, refits the utility posterior and proposes the next
// slider.
//
// The protocol is synchronous request/response:
//
//	session, err := sls.NewSession(5, sls.DefaultConfig())
//	for i := 0; i < 30; i++ {
//	    ends := session.CurrentEndpoints()
//	    t := askUser(ends.A, ends.B) // or an oracle
//	    if err := session.SubmitPreference(t); err != nil { ... }
//	}
//	best := session.BestEstimate()
//
// A session is safe for concurrent use, but the protocol itself is
// sequential: one judgment at a time, each SubmitPreference call fully
// completing retraining and slider recomputation before returning. Each
// logical user needs their own session.
type Session struct {
	mu sync.Mutex

	id  uuid.UUID
	dim int
	cfg Config
	rng *rand.Rand

	initialHyp KernelHyperparameters

	store  *preferenceStore
	reg    *preferenceRegressor
	slider *slider

	// xMax/yMax track the interned point with the highest MAP utility;
	// before any observation xMax is the initial slider's midpoint.
	xMax []float64
	yMax float64

	iteration int
}

// NewSession creates a fresh session over the unit hypercube [0,1]^dim with
// a randomized initial slider.
//
// Returns:
// - *Session: ready for CurrentEndpoints/SubmitPreference
// - error: ErrDimension if dim <= 0 or config.Hyperparameters does not match
//   dim
func NewSession(dim int, config Config) (*Session, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensionality %d, need > 0: %w", dim, ErrDimension)
	}

	// Guard zero-value configs so a plain Config{} still behaves.
	if config.AcquisitionFunc == nil {
		config.AcquisitionFunc = ExpectedImprovement
	}

	if config.NumCandidates <= 0 {
		config.NumCandidates = DefaultConfig().NumCandidates
	}

	if config.AcquisitionIterations <= 0 {
		config.AcquisitionIterations = DefaultConfig().AcquisitionIterations
	}

	if config.SliderScale < 0 {
		config.SliderScale = 0
	}

	if config.PreferenceScale <= 0 {
		config.PreferenceScale = DefaultConfig().PreferenceScale
	}

	hyp := config.Hyperparameters
	if len(hyp.LengthScales) == 0 {
		hyp = DefaultHyperparameters(dim)
	} else if len(hyp.LengthScales) != dim || !hyp.valid() {
		return nil, fmt.Errorf("hyperparameters with %d length-scales for dimensionality %d: %w",
			len(hyp.LengthScales), dim, ErrDimension)
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(seed))

	store := newPreferenceStore(dim)

	s := &Session{
		id:         uuid.New(),
		dim:        dim,
		cfg:        config,
		rng:        rng,
		initialHyp: hyp.clone(),
		store:      store,
		reg: newPreferenceRegressor(
			store, hyp, config.PreferenceScale, config.Restarts, rng, config.Logger,
		),
	}

	s.initSlider()

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// Dimensionality returns the fixed dimensionality d of the search space.
func (s *Session) Dimensionality() int {
	return s.dim
}

// Iteration returns the number of committed preference submissions.
func (s *Session) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.iteration
}

// CurrentEndpoints returns the current slider endpoints. Read-only and
// idempotent: repeated calls without an intervening SubmitPreference return
// identical values.
func (s *Session) CurrentEndpoints() SliderEndpoints {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SliderEndpoints{
		A: copyVec(s.slider.end0),
		B: copyVec(s.slider.end1),
	}
}

// PointAtSlider returns the parameter vector at position t along the current
// slider, i.e. a + t*(b-a).
//
// Returns:
// - error: ErrInvalidInput if t is outside [0,1]
func (s *Session) PointAtSlider(t float64) ([]float64, error) {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return nil, fmt.Errorf("slider position %v outside [0,1]: %w", t, ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slider.pointAt(t), nil
}

// BestEstimate returns the current maximizer of the estimated utility.
// Before the first observation it returns the midpoint of the initial
// slider, which is always inside the hypercube.
func (s *Session) BestEstimate() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyVec(s.xMax)
}

// Observations returns the full ordered preference history.
func (s *Session) Observations() []PreferenceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.AllObservations()
}

// Posterior returns the posterior mean and variance of the latent utility at
// an arbitrary query point.
//
// Returns:
// - error: ErrDimension if x does not have the session's dimensionality
func (s *Session) Posterior(x []float64) (mean, variance float64, err error) {
	if len(x) != s.dim {
		return 0, 0, fmt.Errorf("query of length %d, want %d: %w", len(x), s.dim, ErrDimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mean, variance = s.reg.posterior(x)

	return mean, variance, nil
}

// SubmitPreference folds one slider judgment into the session: t is the
// interpolation parameter of the point the user chose, so the chosen point
// is a + t*(b-a). The call records the comparison, refits hyperparameters
// and utilities, and computes the next slider before returning.
//
// The update is atomic: on any failure the observation, posterior and
// endpoints all remain exactly as they were.
//
// Returns:
// - error: ErrInvalidInput if t is outside [0,1]; ErrNumericalInstability
//   (recoverable, session rolled back) if the refitted Gram matrix cannot be
//   factorized
func (s *Session) SubmitPreference(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("slider position %v outside [0,1]: %w", t, ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chosen := s.slider.pointAt(t)

	// An endpoint judgment is a plain two-point comparison; anything in
	// between compares the chosen point against the pre-enlargement
	// originals of both endpoints.
	var (
		candidates [][]float64
		ties       []int
	)

	switch {
	case t == 0:
		candidates = [][]float64{s.slider.end0, s.slider.end1}
	case t == 1:
		candidates = [][]float64{s.slider.end1, s.slider.end0}
	default:
		candidates = [][]float64{chosen, s.slider.orig0, s.slider.orig1}

		if m := s.cfg.IndifferenceMargin; m > 0 {
			if distance(chosen, s.slider.orig0) <= m {
				ties = append(ties, 1)
			}

			if distance(chosen, s.slider.orig1) <= m {
				ties = append(ties, 2)
			}
		}
	}

	storeSnap := s.store.snapshot()
	regSnap := s.reg.snapshot()

	if err := s.store.Record(candidates, 0, ties...); err != nil {
		return err
	}

	if err := s.reg.refit(); err != nil {
		// Recoverable: retain the previous posterior and endpoints.
		s.store.restore(storeSnap)
		s.reg.restore(regSnap)

		return fmt.Errorf("update rolled back: %w", err)
	}

	s.iteration++

	if x, y := s.reg.bestObserved(); x != nil {
		s.xMax = x
		s.yMax = y
	}

	s.nextSlider()

	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("preference committed",
			"session", s.id.String(), "iteration", s.iteration, "position", t)
	}

	s.sendProgress(chosen)

	return nil
}

// Reset discards the history and posterior and restarts the session from a
// fresh randomized slider, keeping the configuration and RNG stream.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store = newPreferenceStore(s.dim)
	s.reg = newPreferenceRegressor(
		s.store, s.initialHyp.clone(), s.cfg.PreferenceScale, s.cfg.Restarts, s.rng, s.cfg.Logger,
	)
	s.iteration = 0

	s.initSlider()
}

//////
// Internals.
//////

// initSlider draws the initial slider between two random points, the same
// cold start the first iteration of the algorithm always uses.
func (s *Session) initSlider() {
	a := randomVector(s.rng, s.dim)

	b := randomVector(s.rng, s.dim)
	for sqDistance(a, b) < sliderMinSeparation {
		b = randomVector(s.rng, s.dim)
	}

	s.slider = newSlider(a, b, s.cfg.SliderScale)
	s.xMax = lerp(a, b, 0.5)
	s.yMax = 0
}

// nextSlider spans the next segment from the current best estimate to the
// acquisition maximizer, re-drawing the far endpoint if the segment would be
// degenerate.
func (s *Session) nextSlider() {
	a := copyVec(s.xMax)

	b := findNextPoint(s.reg, &s.cfg, s.rng, s.dim)
	for tries := 0; (b == nil || sqDistance(a, b) < sliderMinSeparation) && tries < 16; tries++ {
		b = randomVector(s.rng, s.dim)
	}

	s.slider = newSlider(a, b, s.cfg.SliderScale)
}

// sendProgress emits a non-blocking progress update; a full channel drops
// the update instead of stalling the optimization.
func (s *Session) sendProgress(chosen []float64) {
	if s.cfg.ProgressChan == nil {
		return
	}

	update := ProgressUpdate{
		Iteration:    s.iteration,
		Chosen:       copyVec(chosen),
		BestEstimate: copyVec(s.xMax),
		BestUtility:  s.yMax,
	}

	select {
	case s.cfg.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}
