package sls

import "errors"

//////
// Error taxonomy.
//////

var (
	// ErrDimension indicates a vector whose length does not match the
	// session's dimensionality, or an attempt to create a session with a
	// non-positive dimensionality. Fatal to the call, never to the session.
	ErrDimension = errors.New("sls: dimension mismatch")

	// ErrInvalidInput indicates an out-of-range slider position or another
	// argument outside its documented domain. Fatal to the call, never to
	// the session.
	ErrInvalidInput = errors.New("sls: invalid input")

	// ErrInvalidObservation indicates a preference observation that cannot
	// be recorded: a best index out of range, a tie index out of range, or
	// a candidate with the wrong dimensionality.
	ErrInvalidObservation = errors.New("sls: invalid observation")

	// ErrNumericalInstability indicates that the Gram matrix could not be
	// factorized even after jitter escalation. It is recoverable: the call
	// that surfaces it has already rolled the session back to the previous
	// posterior and endpoints, and the session remains usable.
	ErrNumericalInstability = errors.New("sls: numerical instability")
)
