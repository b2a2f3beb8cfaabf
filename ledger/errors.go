/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place so callers (HTTP layer, CLI, scheduler) can
  map failures to user-facing messages with errors.Is / errors.As instead
  of inspecting message text.

ERROR CATEGORIES:
  1. Validation   - rejected before any write (unbalanced, bad amount, unknown account)
  2. Idempotency  - the write already happened (duplicate accrual, duplicate key)
  3. Invariant    - allocation slices do not sum to the payment; whole batch aborted
  4. Reversal     - already reversed, or reversing a reversal
  5. Lookup       - transaction / lease not found

USAGE:
  tx, err := svc.PostAccrual(ctx, tenant, month)
  if errors.Is(err, ledger.ErrAlreadyAccrued) {
      // no-op for the caller: the month is already recognized
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - billing/: Returns the structured variants with domain context
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
	// Validation

	// ErrUnbalanced is returned when total debits and total credits differ by
	// more than Tolerance. An unbalanced transaction is never stored.
	ErrUnbalanced = errors.New("transaction does not balance")

	// ErrInvalidLine is returned for a line that is both a debit and a credit,
	// neither, negative, or more precise than cents.
	ErrInvalidLine = errors.New("invalid ledger line")

	// ErrInvalidAmount is returned for non-positive or sub-cent amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPaymentMethod is returned for a payment method with no cash account.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrUnknownAccount is returned when an account code is not in the chart.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNoReceivableAccount is returned when a tenant has no receivable sub-ledger.
	ErrNoReceivableAccount = errors.New("tenant has no receivable account")

	// ErrInvalidLease is returned for a malformed lease or a month outside it.
	ErrInvalidLease = errors.New("invalid lease")

	// ErrInvalidMonth is returned when a billing month cannot be parsed.
	ErrInvalidMonth = errors.New("invalid month")

	// Idempotency

	// ErrAlreadyAccrued is returned when a lease already has an accrual for the month.
	ErrAlreadyAccrued = errors.New("already accrued")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Invariant

	// ErrAllocationImbalance is returned when allocation slices do not sum to
	// the payment amount. Nothing is written.
	ErrAllocationImbalance = errors.New("allocation does not sum to payment amount")

	// Reversal

	// ErrAlreadyReversed is returned when the transaction already has a reversal.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrCannotReverseReversal is returned when the target is itself a reversal.
	ErrCannotReverseReversal = errors.New("cannot reverse a reversal")

	// Lookup

	// ErrNotFound is returned when a referenced transaction or lease doesn't exist.
	ErrNotFound = errors.New("not found")

	// Concurrency

	// ErrLockTimeout is returned when the per-tenant lock could not be acquired.
	ErrLockTimeout = errors.New("tenant lock timeout")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnbalancedError provides the totals of a rejected transaction.
type UnbalancedError struct {
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("transaction does not balance: debit %s, credit %s",
		e.TotalDebit.StringFixed(2), e.TotalCredit.StringFixed(2))
}

func (e *UnbalancedError) Unwrap() error {
	return ErrUnbalanced
}

// AlreadyAccruedError names the accrual that already covers the month.
type AlreadyAccruedError struct {
	TenantID     TenantID
	LeaseID      string
	Month        Month
	ExistingTxID TransactionID
}

func (e *AlreadyAccruedError) Error() string {
	return fmt.Sprintf("already accrued: tenant %s lease %s month %s (tx: %s)",
		e.TenantID, e.LeaseID, e.Month, e.ExistingTxID)
}

func (e *AlreadyAccruedError) Unwrap() error {
	return ErrAlreadyAccrued
}

// AllocationImbalanceError reports the difference between a payment and
// the slices planned for it.
type AllocationImbalanceError struct {
	TenantID  TenantID
	Amount    decimal.Decimal
	Allocated decimal.Decimal
}

func (e *AllocationImbalanceError) Error() string {
	return fmt.Sprintf("allocation imbalance for tenant %s: payment %s, allocated %s",
		e.TenantID, e.Amount.StringFixed(2), e.Allocated.StringFixed(2))
}

func (e *AllocationImbalanceError) Unwrap() error {
	return ErrAllocationImbalance
}

// AlreadyReversedError names the reversal that voided the transaction.
type AlreadyReversedError struct {
	TransactionID TransactionID
	ReversalID    TransactionID
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("transaction %s already reversed by %s", e.TransactionID, e.ReversalID)
}

func (e *AlreadyReversedError) Unwrap() error {
	return ErrAlreadyReversed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error was a rejected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnbalanced) ||
		errors.Is(err, ErrInvalidLine) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrNoReceivableAccount) ||
		errors.Is(err, ErrInvalidLease) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrCannotReverseReversal)
}

// IsConflict returns true if the write already happened.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAccrued) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyAccrued):
		return "ALREADY_ACCRUED"
	case errors.Is(err, ErrAlreadyReversed):
		return "ALREADY_REVERSED"
	case errors.Is(err, ErrCannotReverseReversal):
		return "CANNOT_REVERSE_REVERSAL"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "DUPLICATE"
	case errors.Is(err, ErrAllocationImbalance):
		return "ALLOCATION_IMBALANCE"
	case errors.Is(err, ErrUnbalanced):
		return "UNBALANCED"
	case errors.Is(err, ErrInvalidLine):
		return "INVALID_LINE"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrInvalidPaymentMethod):
		return "INVALID_PAYMENT_METHOD"
	case errors.Is(err, ErrUnknownAccount):
		return "UNKNOWN_ACCOUNT"
	case errors.Is(err, ErrNoReceivableAccount):
		return "NO_RECEIVABLE_ACCOUNT"
	case errors.Is(err, ErrInvalidLease):
		return "INVALID_LEASE"
	case errors.Is(err, ErrInvalidMonth):
		return "INVALID_MONTH"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrLockTimeout):
		return "LOCK_TIMEOUT"
	default:
		return "INTERNAL"
	}
}
