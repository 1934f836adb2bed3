/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place. Every rejected mutation must say which
  dimension and which invariant failed, because the operator needs to know
  whether it was gold, silver or cash that over-settled.

ERROR CATEGORIES:
  1. Validation      - bad input, rejected before any store mutation
  2. OverSettlement  - a dimension would go below zero beyond tolerance
  3. HasSettlements  - edit/reverse blocked by existing settlements
  4. Concurrency     - optimistic version mismatch, retry with fresh state
  5. UnknownReference - 404-class, not retryable

USAGE:
  Use errors.Is against the sentinels, errors.As for the details:

    var over *ledger.OverSettlementError
    if errors.As(err, &over) {
        fmt.Println(over.Dimension) // "cash"
    }

SEE ALSO:
  - api/errors.go: maps these to {code, message, details}
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrOverSettlement = errors.New("over-settlement")

	// ErrObligationHasSettlements blocks edit/reverse. The caller can settle
	// and create a new obligation instead.
	ErrObligationHasSettlements = errors.New("obligation has settlements")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrUnknownReference = errors.New("unknown reference")

	// ErrDuplicateIdempotencyKey is returned when a write with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAccountHasObligations blocks deleting an account without cascade.
	ErrAccountHasObligations = errors.New("account has obligations")

	ErrAccountExists = errors.New("account already exists")

	// ErrInconsistentTrail means the audit trail replay disagrees with the
	// independently computed net balance. This is a bug, never user error.
	ErrInconsistentTrail = errors.New("audit trail does not match net balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes bad input: a negative or zero value, a missing
// rate, or a value in a dimension the account or obligation cannot carry.
type ValidationError struct {
	Field     string
	Dimension Dimension // empty when the failure is not dimension-specific
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Dimension != "" {
		return fmt.Sprintf("invalid %s (%s): %s", e.Field, e.Dimension, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverSettlementScope says which limit was breached.
type OverSettlementScope string

const (
	ScopeObligation OverSettlementScope = "obligation"
	ScopeAccount    OverSettlementScope = "account"
)

// OverSettlementError reports a payment (or a shrinking edit) that would
// drive a dimension below zero by more than the tolerance.
type OverSettlementError struct {
	Dimension   Dimension
	Scope       OverSettlementScope
	Outstanding decimal.Decimal
	Attempted   decimal.Decimal
	Tolerance   decimal.Decimal
}

func (e *OverSettlementError) Error() string {
	return fmt.Sprintf("over-settlement of %s on %s: outstanding %s, attempted %s (tolerance %s)",
		e.Dimension, e.Scope, e.Outstanding, e.Attempted, e.Tolerance)
}

func (e *OverSettlementError) Unwrap() error { return ErrOverSettlement }

// HasSettlementsError blocks an edit or reversal.
type HasSettlementsError struct {
	ObligationID ObligationID
	Operation    string
	Count        int
	// AccountLevel is set when the blocker is account-level settlements
	// that would no longer be covered, not settlements on this obligation.
	AccountLevel bool
}

func (e *HasSettlementsError) Error() string {
	if e.AccountLevel {
		return fmt.Sprintf("cannot %s obligation %s: account-level settlements depend on it",
			e.Operation, e.ObligationID)
	}
	return fmt.Sprintf("cannot %s obligation %s: %d settlement(s) exist",
		e.Operation, e.ObligationID, e.Count)
}

func (e *HasSettlementsError) Unwrap() error { return ErrObligationHasSettlements }

type ConcurrentModificationError struct {
	Entity   string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified: expected version %d, found %d",
		e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

type UnknownReferenceError struct {
	Kind string // "account", "obligation", "settlement"
	ID   string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *UnknownReferenceError) Unwrap() error { return ErrUnknownReference }

// TrailMismatchError carries both sides of a failed consistency check.
type TrailMismatchError struct {
	AccountID  AccountID
	Dimension  Dimension
	Trail      decimal.Decimal
	NetBalance decimal.Decimal
}

func (e *TrailMismatchError) Error() string {
	return fmt.Sprintf("account %s: trail closes %s at %s but net balance is %s",
		e.AccountID, e.Dimension, e.Trail, e.NetBalance)
}

func (e *TrailMismatchError) Unwrap() error { return ErrInconsistentTrail }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOverSettlement) ||
		errors.Is(err, ErrObligationHasSettlements) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAccountHasObligations) ||
		errors.Is(err, ErrAccountExists)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownReference)
}

func invalid(field string, dim Dimension, reason string) *ValidationError {
	return &ValidationError{Field: field, Dimension: dim, Reason: reason}
}

// Code is the stable machine-readable name of an error, as reported to
// API clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrUnknownReference):
		return "UNKNOWN_REFERENCE"
	case errors.Is(err, ErrOverSettlement):
		return "OVER_SETTLEMENT"
	case errors.Is(err, ErrObligationHasSettlements):
		return "OBLIGATION_HAS_SETTLEMENTS"
	case errors.Is(err, ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "DUPLICATE_REQUEST"
	case errors.Is(err, ErrAccountHasObligations):
		return "ACCOUNT_HAS_OBLIGATIONS"
	case errors.Is(err, ErrAccountExists):
		return "ACCOUNT_EXISTS"
	default:
		return "INTERNAL_ERROR"
	}
}

// DimensionOf extracts the failed dimension from any structured error.
func DimensionOf(err error) (Dimension, bool) {
	var v *ValidationError
	if errors.As(err, &v) && v.Dimension != "" {
		return v.Dimension, true
	}
	var o *OverSettlementError
	if errors.As(err, &o) {
		return o.Dimension, true
	}
	var t *TrailMismatchError
	if errors.As(err, &t) {
		return t.Dimension, true
	}
	return "", false
}
