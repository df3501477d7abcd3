/*
errors.go - Centralized error taxonomy for the verification engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the API layer) branch on these with errors.Is/errors.As to
  pick HTTP status codes; the engine never maps to transport concerns.

ERROR CATEGORIES:
  1. Authorization errors - Unauthenticated, Forbidden
  2. Lookup errors        - NotFound
  3. Invariant errors     - Conflict, InvalidState, concurrent modification
  4. Input errors         - Validation
  5. Infrastructure       - Internal (storage/audit failures)

USAGE:
  if errors.Is(err, engine.ErrInvalidState) { ... }

  var stErr *engine.InvalidStateError
  if errors.As(err, &stErr) {
      log.Info("refused", zap.String("current", string(stErr.Current)))
  }

SEE ALSO:
  - workflow.go: Produces Forbidden/NotFound/InvalidState
  - ledger.go: Produces Conflict/Validation
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when no valid principal backs a call.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when the actor's role does not permit the
	// requested transition.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced installment, reward, or
	// user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on submit-side uniqueness or terminal-state
	// violations: a second submission while pending, or any submission
	// against a validated installment.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when a transition is attempted from a
	// state that does not permit it. A duplicate approve lands here,
	// never in a silent success.
	ErrInvalidState = errors.New("invalid state for transition")

	// ErrValidation is returned on missing or malformed input fields.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned by stores when a
	// compare-and-set update observes a different state than expected.
	// The engine translates it into ErrInvalidState or ErrConflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInternal wraps storage failures that are not the caller's fault.
	ErrInternal = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports the state that blocked a transition.
type InvalidStateError struct {
	UserID    string
	Number    int
	Current   State
	Attempted Event
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s installment %s/%d: state is %q",
		e.Attempted, e.UserID, e.Number, e.Current)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// ConflictError reports a submit blocked by an existing installment.
type ConflictError struct {
	UserID   string
	Number   int
	Existing State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("installment %s/%d already exists in state %q",
		e.UserID, e.Number, e.Existing)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ForbiddenError reports which role lacked permission for which event.
type ForbiddenError struct {
	Role  Role
	Event Event
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Event)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// ValidationError reports a specific bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input
// or timing, not an engine defect.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthenticated)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
