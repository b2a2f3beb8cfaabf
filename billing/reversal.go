/*
reversal.go - Reversal Engine

PURPOSE:
  The only sanctioned way to undo a posting. A reversal is a new
  transaction whose lines are the original's with debit and credit
  swapped, so the net effect on every account touched is zero.

RULES:
  - A transaction may be reversed at most once (AlreadyReversedError).
  - A reversal cannot itself be reversed (ErrCannotReverseReversal).
  - The original is never edited; it is "void" because a reversal with
    Metadata.OriginalTransactionID == original.ID exists.
  - The reversal keeps the original's Period / MonthSettled so the Deriver
    nets it against the same obligation month.

SEMANTIC TARGETS:
  ReverseAccruals reverses every live accrual of a lease in one atomic
  batch. Used for no-show / forfeiture: the tenant never moved in, so
  nothing they were billed should stand.

SEE ALSO:
  - ledger/types.go: Transaction.Mirror
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/ledger"
)

type ReversalEngine struct {
	Ledger *ledger.Ledger
	NewID  func() ledger.TransactionID
	Now    func() time.Time
	Logger *zap.Logger
}

// Reverse posts the mirror of transaction id.
func (e *ReversalEngine) Reverse(ctx context.Context, id ledger.TransactionID, reason string) (ledger.Transaction, error) {
	orig, err := e.Ledger.Get(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	rev, err := e.build(ctx, orig, reason)
	if err != nil {
		return ledger.Transaction{}, err
	}

	posted, err := e.Ledger.Post(ctx, rev)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		return ledger.Transaction{}, e.alreadyReversed(ctx, id)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	e.logger().Info("transaction reversed",
		zap.String("tx_id", string(id)),
		zap.String("reversal_id", string(posted.ID)),
		zap.String("tenant_id", string(orig.Metadata.TenantID)),
		zap.String("reason", reason),
	)
	return posted, nil
}

// AccrualTarget selects accruals by meaning rather than id.
type AccrualTarget struct {
	TenantID ledger.TenantID
	LeaseID  string
	// Month restricts the target to one billing month (e.g. the lease-start
	// month). Zero means every month.
	Month ledger.Month
}

// ReverseAccruals reverses every not-yet-reversed accrual matching target
// in one atomic batch. ErrNotFound if there is nothing to reverse.
func (e *ReversalEngine) ReverseAccruals(ctx context.Context, target AccrualTarget, reason string) ([]ledger.Transaction, error) {
	if target.LeaseID == "" && target.TenantID == "" {
		return nil, fmt.Errorf("%w: accrual target needs a tenant or lease", ledger.ErrInvalidLease)
	}
	accruals, err := e.Ledger.Find(ctx, ledger.Query{
		TenantID: target.TenantID,
		LeaseID:  target.LeaseID,
		Month:    target.Month,
		Sources:  []ledger.Source{ledger.SourceAccrual},
	})
	if err != nil {
		return nil, err
	}

	var reversals []ledger.Transaction
	for _, orig := range accruals {
		if !target.Month.IsZero() && orig.Metadata.Period != target.Month {
			continue
		}
		rev, err := e.build(ctx, orig, reason)
		if errors.Is(err, ledger.ErrAlreadyReversed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reversals = append(reversals, rev)
	}
	if len(reversals) == 0 {
		return nil, fmt.Errorf("no live accruals for tenant %q lease %q: %w", target.TenantID, target.LeaseID, ledger.ErrNotFound)
	}

	posted, err := e.Ledger.PostBatch(ctx, reversals)
	if err != nil {
		return nil, err
	}
	e.logger().Info("accruals reversed",
		zap.String("tenant_id", string(target.TenantID)),
		zap.String("lease_id", target.LeaseID),
		zap.Int("count", len(posted)),
		zap.String("reason", reason),
	)
	return posted, nil
}

func (e *ReversalEngine) build(ctx context.Context, orig ledger.Transaction, reason string) (ledger.Transaction, error) {
	if orig.IsReversal() {
		return ledger.Transaction{}, fmt.Errorf("%w: %s", ledger.ErrCannotReverseReversal, orig.ID)
	}
	if _, found, err := e.Ledger.ReversalOf(ctx, orig.ID); err != nil {
		return ledger.Transaction{}, err
	} else if found {
		return ledger.Transaction{}, e.alreadyReversed(ctx, orig.ID)
	}

	// Dated now, but never before the original.
	date := ledger.Day(e.Now())
	if orig.Date.After(date) {
		date = orig.Date
	}
	return orig.Mirror(e.NewID(), date, reason)
}

func (e *ReversalEngine) alreadyReversed(ctx context.Context, id ledger.TransactionID) error {
	rev, _, err := e.Ledger.ReversalOf(ctx, id)
	if err != nil {
		return err
	}
	return &ledger.AlreadyReversedError{TransactionID: id, ReversalID: rev.ID}
}

func (e *ReversalEngine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
