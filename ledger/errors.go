/*
errors.go - Centralized error types for the inventory ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is against the sentinels; structured errors
  carry the numbers behind a failure and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Stock errors - A counter cannot cover the requested quantity
  2. Validation errors - Malformed transactions or references
  3. Store errors - Missing records and optimistic-locking conflicts

SEE ALSO:
  - balance.go: Produces ShortfallError and InvariantError
  - api/errors.go: Maps these errors to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when onHand cannot cover an expend,
	// assign or transfer.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientAssigned is returned when the assigned counter (or an
	// assignment line) cannot cover a conversion or reversal.
	ErrInsufficientAssigned = errors.New("insufficient assigned quantity")

	// ErrInsufficientExpended is returned when reversing more than was expended.
	ErrInsufficientExpended = errors.New("insufficient expended quantity")

	// ErrSameSiteTransfer is returned when source and destination are equal.
	ErrSameSiteTransfer = errors.New("transfer source and destination are the same site")

	// ErrInvariantViolation is returned when a mutation would drive a counter
	// negative or break the onHand identity.
	ErrInvariantViolation = errors.New("balance invariant violation")

	// ErrDestinationAlreadyConsumed is returned when a transfer cannot be
	// reversed because the destination already used the stock.
	ErrDestinationAlreadyConsumed = errors.New("transfer destination already consumed the stock")

	// ErrNotFound is returned for unknown transactions, lines or balances.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrUnknownReference   = errors.New("unknown site or asset reference")

	// ErrKindMismatch is returned when an operation targets the wrong
	// transaction kind (e.g. updating a transfer as a purchase).
	ErrKindMismatch = errors.New("transaction kind mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ShortfallError reports a counter that could not cover a request.
type ShortfallError struct {
	Key       Key
	Counter   string
	Available int64
	Requested int64
	err       error
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v at %s: %s available %d, requested %d",
		e.err, e.Key, e.Counter, e.Available, e.Requested)
}

func (e *ShortfallError) Unwrap() error {
	return e.err
}

func shortfall(sentinel error, key Key, counter string, available, requested int64) *ShortfallError {
	return &ShortfallError{Key: key, Counter: counter, Available: available, Requested: requested, err: sentinel}
}

// InvariantError reports a counter that would become negative, or an onHand
// value that no longer matches the movement counters.
type InvariantError struct {
	Key   Key
	Field string
	Value int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("balance invariant violation at %s: %s would be %d", e.Key, e.Field, e.Value)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// ValidationError reports a malformed transaction field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidTransaction
}

// ReferenceError names the site or asset that failed the existence check.
type ReferenceError struct {
	Kind string // "site" or "asset"
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}

func (e *ReferenceError) Unwrap() error {
	return ErrUnknownReference
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrUnknownReference) ||
		errors.Is(err, ErrSameSiteTransfer)
}

// IsConflict returns true if the error is a business-rule conflict with the
// current ledger state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientAssigned) ||
		errors.Is(err, ErrInsufficientExpended) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrDestinationAlreadyConsumed) ||
		errors.Is(err, ErrKindMismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
