package models

import "errors"

var (
	// ErrInvalidTransition is returned when the requested status is not reachable
	// for the media type and its current state. Nothing is written.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotAuthenticated is returned when no caller identity is available
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStoreUnavailable wraps failures of the durable write layer
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStaleRequest marks a resolution superseded by a newer request for the
	// same key. It is a no-op signal, not a user-visible error.
	ErrStaleRequest = errors.New("stale request")

	// ErrNotFound is returned by catalog lookups for unknown media
	ErrNotFound = errors.New("not found")
)

// ErrorKind returns the taxonomy name of err, or "internal" when it does not
// belong to the taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrStaleRequest):
		return "stale_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
