/*
accrual.go - Monthly obligation recognition

PURPOSE:
  The Accrual Poster turns a lease and a billing month into exactly one
  balanced transaction: debit the tenant receivable, credit Rental Income,
  Admin Fee Income and Deposit Liability.

PRORATION:
  rent = roomRate × coveredDays / daysInMonth, rounded to cents.
  A lease starting 2025-05-15 at 310/month covers 17 of May's 31 days:
  310 × 17/31 = 170.00. Full months are never prorated.

FIRST MONTH ONLY:
  Admin fee and deposit are charged in the month containing LeaseStart.

IDEMPOTENCY:
  At most one accrual per lease per month. Checked twice:
  1. Post() looks for a prior accrual for (tenant, lease, month)
  2. The idempotency key accrual:{lease}:{YYYY-MM} is unique in the store,
     so two posters racing past step 1 cannot both write.

SEE ALSO:
  - obligations.go: Reads accruals back as "owed"
  - reversal.go: No-show handling reverses accruals
*/
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// AccrualKey is the idempotency key of a lease's accrual for month.
func AccrualKey(leaseID string, month ledger.Month) string {
	return "accrual:" + leaseID + ":" + month.String()
}

// Charges are the amounts a lease owes for one month, by component.
type Charges struct {
	Rent     decimal.Decimal
	AdminFee decimal.Decimal
	Deposit  decimal.Decimal
}

func (c Charges) Total() decimal.Decimal {
	return c.Rent.Add(c.AdminFee).Add(c.Deposit)
}

// Get returns the amount for component.
func (c Charges) Get(component ledger.Component) decimal.Decimal {
	switch component {
	case ledger.ComponentRent:
		return c.Rent
	case ledger.ComponentAdminFee:
		return c.AdminFee
	case ledger.ComponentDeposit:
		return c.Deposit
	}
	return decimal.Zero
}

// ChargesFor computes what lease owes for month. Months entirely outside
// the lease are rejected.
func ChargesFor(lease Lease, month ledger.Month) (Charges, error) {
	if err := lease.Validate(); err != nil {
		return Charges{}, err
	}
	covered := lease.CoveredDays(month)
	if covered == 0 {
		return Charges{}, fmt.Errorf("%w: month %s is outside lease %s (%s)",
			ledger.ErrInvalidLease, month, lease.ID, lease.Period())
	}

	c := Charges{Rent: lease.RoomRate, AdminFee: decimal.Zero, Deposit: decimal.Zero}
	if days := month.Days(); covered < days {
		c.Rent = ledger.RoundCents(lease.RoomRate.Mul(decimal.NewFromInt(int64(covered))).Div(decimal.NewFromInt(int64(days))))
	}
	if month == lease.FirstMonth() {
		c.AdminFee = lease.AdminFee
		c.Deposit = lease.DepositAmount
	}
	return c, nil
}

// BuildAccrual builds (but does not post) the accrual of lease for month.
// The tenant receivable must already be open in chart.
func BuildAccrual(chart *accounts.Chart, lease Lease, month ledger.Month, id ledger.TransactionID) (ledger.Transaction, error) {
	charges, err := ChargesFor(lease, month)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !charges.Total().IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("%w: lease %s owes nothing for %s", ledger.ErrInvalidLease, lease.ID, month)
	}

	receivable := accounts.TenantReceivable(lease.TenantID)
	credits := []struct {
		component ledger.Component
		ref       accounts.Ref
		amount    decimal.Decimal
	}{
		{ledger.ComponentRent, accounts.Ref{Role: accounts.RoleRentalIncome}, charges.Rent},
		{ledger.ComponentAdminFee, accounts.Ref{Role: accounts.RoleAdminIncome}, charges.AdminFee},
		{ledger.ComponentDeposit, accounts.Ref{Role: accounts.RoleDepositLiability}, charges.Deposit},
	}

	var lines []ledger.Line
	for _, c := range credits {
		if !c.amount.IsPositive() {
			continue
		}
		debit, err := chart.Debit(receivable, c.amount)
		if err != nil {
			return ledger.Transaction{}, err
		}
		credit, err := chart.Credit(c.ref, c.amount)
		if err != nil {
			return ledger.Transaction{}, err
		}
		debit.Description = string(c.component) + " " + month.String()
		lines = append(lines, debit.WithComponent(c.component), credit.WithComponent(c.component))
	}

	// Dated inside the month it recognizes: the later of month start and lease start.
	date := month.Start()
	if start := ledger.Day(lease.LeaseStart); start.After(date) {
		date = start
	}

	return ledger.NewTransaction(ledger.Transaction{
		ID:          id,
		Date:        date,
		Description: fmt.Sprintf("Accrual %s lease %s", month, lease.ID),
		Reference:   "ACR-" + lease.ID + "-" + month.String(),
		Source:      ledger.SourceAccrual,
		SourceID:    lease.ID,
		Entries:     lines,
		Metadata: ledger.Metadata{
			TenantID: lease.TenantID,
			LeaseID:  lease.ID,
			Period:   month,
		},
		IdempotencyKey: AccrualKey(lease.ID, month),
	})
}

// =============================================================================
// POSTER
// =============================================================================

// Poster posts monthly accruals.
type Poster struct {
	Ledger *ledger.Ledger
	Chart  *accounts.Chart
	NewID  func() ledger.TransactionID
	Logger *zap.Logger
}

// Post accrues lease for month. A second call for the same lease and month
// returns *ledger.AlreadyAccruedError and writes nothing.
func (p *Poster) Post(ctx context.Context, lease Lease, month ledger.Month) (ledger.Transaction, error) {
	if err := lease.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	if existing, found, err := p.existing(ctx, lease, month); err != nil {
		return ledger.Transaction{}, err
	} else if found {
		return ledger.Transaction{}, &ledger.AlreadyAccruedError{
			TenantID: lease.TenantID, LeaseID: lease.ID, Month: month, ExistingTxID: existing.ID,
		}
	}

	if _, err := p.Chart.OpenReceivable(lease.TenantID); err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := BuildAccrual(p.Chart, lease, month, p.NewID())
	if err != nil {
		return ledger.Transaction{}, err
	}

	posted, err := p.Ledger.Post(ctx, tx)
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		// Lost a race with another poster for the same month
		existing, _, findErr := p.existing(ctx, lease, month)
		if findErr != nil {
			return ledger.Transaction{}, findErr
		}
		return ledger.Transaction{}, &ledger.AlreadyAccruedError{
			TenantID: lease.TenantID, LeaseID: lease.ID, Month: month, ExistingTxID: existing.ID,
		}
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	p.logger().Info("accrual posted",
		zap.String("tenant_id", string(lease.TenantID)),
		zap.String("lease_id", lease.ID),
		zap.Stringer("month", month),
		zap.String("tx_id", string(posted.ID)),
		zap.String("amount", posted.TotalDebit.StringFixed(2)),
	)
	return posted, nil
}

// existing returns the prior accrual of lease for month, if any.
func (p *Poster) existing(ctx context.Context, lease Lease, month ledger.Month) (ledger.Transaction, bool, error) {
	txs, err := p.Ledger.Find(ctx, ledger.Query{
		TenantID: lease.TenantID,
		LeaseID:  lease.ID,
		Month:    month,
		Sources:  []ledger.Source{ledger.SourceAccrual},
	})
	if err != nil {
		return ledger.Transaction{}, false, err
	}
	for _, tx := range txs {
		if tx.Metadata.Period == month {
			return tx, true, nil
		}
	}
	return ledger.Transaction{}, false, nil
}

// Accrued reports whether lease already has an accrual for month.
func (p *Poster) Accrued(ctx context.Context, lease Lease, month ledger.Month) (bool, error) {
	_, found, err := p.existing(ctx, lease, month)
	return found, err
}

func (p *Poster) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
