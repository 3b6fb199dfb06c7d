/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store packages wrap these with context; the API maps them to status codes.

ERROR CATEGORIES:
  1. Validation errors - Malformed balance keys or definitions
  2. Integrity errors - Source data the engine refuses to interpret
  3. Store errors - Database-level failures (wrapped, never swallowed)

NOT-FOUND IS NOT AN ERROR:
  An unknown worker or leave type yields a neutral balance, not an error.
  Stores report missing rows as (nil, nil).

STORE AVAILABILITY:
  Stores wrap lock contention, timeouts and lost connections with
  ErrStoreUnavailable. The API answers 503 for those and the event
  consumer retries them.

SEE ALSO:
  - timeoff/engine.go: Soft-fail policy at the engine boundary
  - api/handlers.go: Error to HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidKey is returned when a balance key misses the worker, the
	// leave type or the year.
	ErrInvalidKey = errors.New("invalid balance key")

	// ErrInvalidLeaveType is returned when a leave type definition is malformed.
	ErrInvalidLeaveType = errors.New("invalid leave type definition")

	// ErrInvalidChange is returned when a request change notification is malformed.
	ErrInvalidChange = errors.New("invalid request change")

	// ErrHierarchyCycle is returned when a leave type is its own ancestor.
	ErrHierarchyCycle = errors.New("leave type hierarchy contains a cycle")

	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// KeyError describes which part of a balance key is missing.
type KeyError struct {
	Field string
	Value any
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid balance key: %s=%v", e.Field, e.Value)
}

func (e *KeyError) Unwrap() error {
	return ErrInvalidKey
}

// CycleError names the leave type at which a cycle was detected.
type CycleError struct {
	TypeID string
	Path   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("leave type %s is its own ancestor (path %v)", e.TypeID, e.Path)
}

func (e *CycleError) Unwrap() error {
	return ErrHierarchyCycle
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidChange) ||
		errors.Is(err, ErrInvalidLeaveType)
}

// IsRetryable returns true if the error might succeed on retry.
// Store outages are retryable: a recompute overwrites, it never appends.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Unavailable marks err as a transient store failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
