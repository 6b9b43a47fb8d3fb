package storage

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("storage: unique constraint violated")
	// ErrStale is returned when a compare-and-swap update matched no row
	// because the record changed since it was read.
	ErrStale = errors.New("storage: stale record")
	// ErrUnavailable wraps timeouts and connection failures. Callers treat
	// it as retryable.
	ErrUnavailable = errors.New("storage: unavailable")
)
