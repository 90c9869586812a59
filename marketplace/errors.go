/*
errors.go - Centralized error types for the marketplace engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages and the API layer match on these with errors.Is/As.

ERROR CATEGORIES:
  1. Validation errors  - Missing or non-positive required fields
  2. Business errors    - Oversell, illegal state transitions
  3. Lookup errors      - Referenced item/request/actor missing
  4. Boundary errors    - Store or payment processor unreachable, auth

USAGE:
  if errors.Is(err, marketplace.ErrInsufficientStock) { ... }

  var ve *marketplace.ValidationError
  if errors.As(err, &ve) { ... ve.Field ... }

SEE ALSO:
  - request.go: Approve/Reject return these errors
  - api/handlers.go: Maps these to HTTP status codes
*/
package marketplace

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a required field is missing or invalid.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when an approval (or an advisory
	// submit check) would drive available quantity negative.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidTransition is returned when approving or rejecting a
	// request that already reached a terminal state.
	ErrInvalidTransition = errors.New("invalid request transition")

	// ErrNotFound is returned when a referenced catalog item, request,
	// obligation or actor does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRemoteUnavailable is returned when the backing store or an
	// external collaborator does not answer within the operation bound.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrAuth is returned on credential mismatch. It deliberately carries
	// no detail: unknown email and wrong password are indistinguishable.
	ErrAuth = errors.New("invalid credentials")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field failed validation and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError reports an oversell attempt.
type InsufficientStockError struct {
	ItemID    ItemID
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError reports an attempt to re-decide a terminal request.
type InvalidTransitionError struct {
	RequestID RequestID
	From      RequestStatus
	To        RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot transition %s -> %s", e.RequestID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError reports a missing document by collection and id.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RemoteUnavailableError wraps a timeout or connectivity failure.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("%s: remote unavailable: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return ErrRemoteUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
// Non-idempotent writes (approval) must NOT be auto-retried even when
// this returns true; surface to the caller instead.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule violation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
