/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append():      Single transaction write (all lines in one atomic write)
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write may carry an idempotency key. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey. The store must also
  reject a second reversal of the same original transaction.

INDEXES:
  Find() must be efficient for the two hot paths of the Deriver:
  - by (tenant, month): obligations for one tenant
  - by account code (or parent code): trial balance and statements

IMPLEMENTATIONS:
  - store/sqlstore: SQLite / PostgreSQL
  - ledger/store:   In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package ledger

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Get returns a transaction by id or ErrNotFound.
	Get(ctx context.Context, id TransactionID) (Transaction, error)

	// Find returns transactions matching q ordered by Date then CreatedAt.
	Find(ctx context.Context, q Query) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Query filters transactions. Zero fields do not filter.
type Query struct {
	TenantID TenantID

	// AccountCode matches transactions with at least one line on the code.
	// With IncludeSubAccounts, lines on "{code}-*" sub-ledgers match too.
	AccountCode        AccountCode
	IncludeSubAccounts bool

	Sources []Source

	// Month matches Metadata.Period or Metadata.MonthSettled.
	Month Month

	// OriginalTransactionID finds the reversal of a transaction.
	OriginalTransactionID TransactionID

	LeaseID string

	// From/To bound Date, inclusive by day.
	From time.Time
	To   time.Time
}

// Matches applies q to tx. Stores that cannot push a filter down to an
// index use it as the final predicate.
func (q Query) Matches(tx Transaction) bool {
	if q.TenantID != "" && tx.Metadata.TenantID != q.TenantID {
		return false
	}
	if q.LeaseID != "" && tx.Metadata.LeaseID != q.LeaseID {
		return false
	}
	if q.OriginalTransactionID != "" && tx.Metadata.OriginalTransactionID != q.OriginalTransactionID {
		return false
	}
	if !q.Month.IsZero() && tx.Metadata.Period != q.Month && tx.Metadata.MonthSettled != q.Month {
		return false
	}
	if len(q.Sources) > 0 {
		found := false
		for _, s := range q.Sources {
			if tx.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.From.IsZero() && Day(tx.Date).Before(Day(q.From)) {
		return false
	}
	if !q.To.IsZero() && Day(tx.Date).After(Day(q.To)) {
		return false
	}
	if q.AccountCode != "" {
		found := false
		for _, l := range tx.Entries {
			if l.AccountCode == q.AccountCode ||
				(q.IncludeSubAccounts && ParentCode(l.AccountCode) == q.AccountCode) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ParentCode returns the base code of a "{base}-{owner}" sub-ledger code, or
// code itself for a top-level account.
func ParentCode(code AccountCode) AccountCode {
	base, _, _ := strings.Cut(string(code), "-")
	return AccountCode(base)
}
