/*
errors.go - Centralized error types for the projection engine

PURPOSE:
  All error kinds in one place. Single-entity operations (manual match,
  unmatch, remove, verify, restore) fail fast with one of these; batch
  operations (matching run, expiration scan) isolate per-row failures into
  an error list and keep going.

ERROR CATEGORIES:
  1. NotFound               - referenced projection/snapshot/PO does not exist
  2. InvalidTransition      - lifecycle operation from a state that forbids it
  3. Validation             - missing or malformed required input
  4. ConcurrentModification - conditional write lost an optimistic-lock race

USAGE:
  if errors.Is(err, projection.ErrInvalidTransition) { ... }

SEE ALSO:
  - store.go: conditional writes that surface ErrConcurrentModification
  - api/handlers.go: maps these to HTTP status codes
*/
package projection

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced projection, expired snapshot,
	// or PO fact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a lifecycle operation is attempted
	// from a state that does not permit it (e.g. unmatching a removed
	// projection, verifying a non-pending snapshot).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrValidation is returned for missing or malformed required input,
	// such as an empty removal reason.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when a conditional state write
	// affects zero rows because another caller changed the row first.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	Entity  string // "projection" or "expired_projection"
	ID      string
	From    string
	Attempt string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q", e.Entity, e.ID, e.Attempt, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError identifies what was missing.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound)
}
