package domain

import (
	"errors"
	"fmt"
)

// Common domain errors returned by the picklist engine.
var (
	// ErrInvalidPriority indicates that the supplied priority weights are
	// unusable: empty, negative, or summing to zero.
	ErrInvalidPriority = errors.New("invalid priority weights")

	// ErrDatasetUnavailable indicates that the event dataset could not be
	// loaded from its snapshot source.
	ErrDatasetUnavailable = errors.New("dataset unavailable")

	// ErrCacheState indicates a cache protocol violation such as polling a
	// fingerprint that was never created.
	ErrCacheState = errors.New("cache state error")

	// ErrInvalidPickPosition indicates an unknown pick position value.
	ErrInvalidPickPosition = errors.New("invalid pick position")
)

// InvalidPriorityError reports why a priority weight mapping was rejected.
// It unwraps to ErrInvalidPriority for errors.Is checks.
type InvalidPriorityError struct {
	// Reason is a human-readable description of the violation.
	Reason string

	// Metric names the offending metric, when the violation is metric
	// specific (e.g. a negative weight).
	Metric string
}

// Error implements the error interface for InvalidPriorityError.
func (e *InvalidPriorityError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("invalid priority weights: %s (metric %q)", e.Reason, e.Metric)
	}
	return fmt.Sprintf("invalid priority weights: %s", e.Reason)
}

// Unwrap supports errors.Is(err, ErrInvalidPriority).
func (e *InvalidPriorityError) Unwrap() error { return ErrInvalidPriority }

// DatasetUnavailableError wraps a dataset load failure with the snapshot
// reference that failed. It unwraps to the underlying cause; errors.Is with
// ErrDatasetUnavailable also matches.
type DatasetUnavailableError struct {
	// Ref identifies the snapshot that could not be loaded.
	Ref string

	// Err is the underlying load error.
	Err error
}

// Error implements the error interface for DatasetUnavailableError.
func (e *DatasetUnavailableError) Error() string {
	return fmt.Sprintf("dataset %q unavailable: %v", e.Ref, e.Err)
}

// Unwrap returns the underlying load error.
func (e *DatasetUnavailableError) Unwrap() error { return e.Err }

// Is matches both the sentinel and the wrapped cause.
func (e *DatasetUnavailableError) Is(target error) bool {
	return target == ErrDatasetUnavailable
}

// CacheStateError reports an invalid cache operation. Callers surface it as
// a "not_found" status rather than a failure.
type CacheStateError struct {
	// Key is the cache key involved in the failed operation.
	Key string

	// Operation describes what was being attempted.
	Operation string
}

// Error implements the error interface for CacheStateError.
func (e *CacheStateError) Error() string {
	return fmt.Sprintf("cache %s: no entry for key %q", e.Operation, e.Key)
}

// Unwrap supports errors.Is(err, ErrCacheState).
func (e *CacheStateError) Unwrap() error { return ErrCacheState }
