package domain

import "errors"

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidEntity     = errors.New("invalid entity id")
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrClaimLost means the row is no longer processing under the caller's
	// claim token: it was reset as stale, retried by hand or re-claimed.
	ErrClaimLost = errors.New("job claim lost")
)
