/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable source of truth for every money movement.
  Every accrual, payment slice, expense, manual entry, and reversal is
  recorded here. Balances, obligations, and statements are always computed
  by replaying transactions - there's no separate "balance" field that can
  get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. BALANCED: total debit == total credit (within Tolerance) before any write
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)
  4. ATOMIC: A batch is written entirely or not at all

CORRECTIONS:
  If a mistake is made, you don't edit the transaction. Instead:
  1. Post the mirror transaction (debits and credits swapped)
  2. Both original and reversal remain in the ledger
  3. The original counts as "void" because a reversal references it

SEE ALSO:
  - store.go: Low-level persistence interface
  - billing/reversal.go: Reversal engine built on Mirror()
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger validates and appends transactions to a Store and answers the
// read questions every component shares.
type Ledger struct {
	Store Store
	Now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

// Post validates tx and appends it. The returned transaction carries the
// computed totals and CreatedAt.
func (l *Ledger) Post(ctx context.Context, tx Transaction) (Transaction, error) {
	posted, err := l.PostBatch(ctx, []Transaction{tx})
	if err != nil {
		return Transaction{}, err
	}
	return posted[0], nil
}

// PostBatch validates every transaction, then appends all of them in one
// atomic write. One invalid transaction rejects the batch.
func (l *Ledger) PostBatch(ctx context.Context, txs []Transaction) ([]Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	now := l.Now().UTC()
	ready := make([]Transaction, len(txs))
	seen := make(map[string]bool, len(txs))
	for i, tx := range txs {
		built, err := NewTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		if built.CreatedAt.IsZero() {
			built.CreatedAt = now
		}
		built.Status = StatusPosted

		// Check all idempotency keys first
		if key := built.IdempotencyKey; key != "" {
			if seen[key] {
				return nil, ErrDuplicateIdempotencyKey
			}
			seen[key] = true
			exists, err := l.Store.Exists(ctx, key)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ErrDuplicateIdempotencyKey
			}
		}
		ready[i] = built
	}

	if len(ready) == 1 {
		if err := l.Store.Append(ctx, ready[0]); err != nil {
			return nil, err
		}
		return ready, nil
	}
	if err := l.Store.AppendBatch(ctx, ready); err != nil {
		return nil, err
	}
	return ready, nil
}

func (l *Ledger) Get(ctx context.Context, id TransactionID) (Transaction, error) {
	return l.Store.Get(ctx, id)
}

func (l *Ledger) Find(ctx context.Context, q Query) ([]Transaction, error) {
	return l.Store.Find(ctx, q)
}

// ReversalOf returns the reversal of id, if one exists.
func (l *Ledger) ReversalOf(ctx context.Context, id TransactionID) (Transaction, bool, error) {
	txs, err := l.Store.Find(ctx, Query{OriginalTransactionID: id, Sources: []Source{SourceReversal}})
	if err != nil {
		return Transaction{}, false, err
	}
	if len(txs) == 0 {
		return Transaction{}, false, nil
	}
	return txs[0], true, nil
}

// IsVoided reports whether a reversal of id exists.
func (l *Ledger) IsVoided(ctx context.Context, id TransactionID) (bool, error) {
	_, found, err := l.ReversalOf(ctx, id)
	return found, err
}

// WithStatus returns tx with Status derived from the log: void if reversed.
func (l *Ledger) WithStatus(ctx context.Context, tx Transaction) (Transaction, error) {
	voided, err := l.IsVoided(ctx, tx.ID)
	if err != nil {
		return Transaction{}, err
	}
	if voided {
		tx.Status = StatusVoid
	} else {
		tx.Status = StatusPosted
	}
	return tx, nil
}

// Balance returns debit minus credit on code (and its sub-accounts when
// code is a parent) for transactions dated on or before asOf.
func (l *Ledger) Balance(ctx context.Context, code AccountCode, asOf time.Time) (decimal.Decimal, error) {
	txs, err := l.Store.Find(ctx, Query{AccountCode: code, IncludeSubAccounts: true, To: asOf})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, tx := range txs {
		for _, line := range tx.Entries {
			if line.AccountCode == code || ParentCode(line.AccountCode) == code {
				total = total.Add(line.Net())
			}
		}
	}
	return total, nil
}

// IsDuplicate reports whether err means the write already happened.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
