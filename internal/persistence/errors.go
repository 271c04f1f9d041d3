package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned for other integrity failures.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrCapacityReached is returned when a conditional booking write finds
	// the slot already full.
	ErrCapacityReached = errors.New("persistence: slot capacity reached")
	// ErrStaleState is returned when a compare-and-set write finds the record
	// no longer in the expected state.
	ErrStaleState = errors.New("persistence: stale state")
	// ErrUnavailable is returned when the store stays busy after retries.
	ErrUnavailable = errors.New("persistence: store unavailable")
)
