/*
obligations.go - Balance/Aging Deriver (tenant side)

PURPOSE:
  Computes what a tenant owes, month by month, by replaying the log.
  Nothing here reads a stored balance: obligations are recomputed from
  immutable transactions every time, so they cannot drift from the ledger.

RULES (per tenant, per month M):
  owed(M)        = Σ net of tenant-receivable lines on accrual transactions
                   whose Period == M (accrual reversals subtract)
  paid(M)        = Σ credits on tenant-receivable lines of payment slices
                   whose MonthSettled == M (payment reversals subtract)
  outstanding(M) = owed(M) - paid(M) - carried(M)
  daysOverdue(M) = max(0, asOf - dueDate(M)) when outstanding(M) > 0

  A payment slice tagged for June never counts toward May, even when it
  was received in May. That attribution is the whole point of MonthSettled.

CARRIED SURPLUS:
  A month that has been accrued can end up paid beyond what it owes, most
  often when its accrual is reversed after a payment settled against it.
  That surplus is carried to the oldest months still outstanding, in
  component order: carried(M) is negative on the month it leaves and
  positive on the months it settles. Whatever no month can absorb stays on
  its own month as negative outstanding (a credit). Months never accrued
  keep their prepayments; they are settled by their own accrual.

POINT IN TIME:
  Only transactions dated on or before asOf count, and only months up to
  asOf's month are reported.

SEE ALSO:
  - allocation.go: Consumes Outstanding to plan payment slices
  - reports.go: Ledger-wide views (trial balance, income statement, ...)
*/
package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// ComponentBalance is one charge type inside a monthly obligation.
type ComponentBalance struct {
	Component   ledger.Component `json:"component"`
	Owed        decimal.Decimal  `json:"owed"`
	Paid        decimal.Decimal  `json:"paid"`
	Carried     decimal.Decimal  `json:"carried"`
	Outstanding decimal.Decimal  `json:"outstanding"`
}

// MonthlyObligation is the derived view of one tenant month. Never stored.
type MonthlyObligation struct {
	Month       ledger.Month       `json:"month"`
	DueDate     time.Time          `json:"dueDate"`
	Owed        decimal.Decimal    `json:"owed"`
	Paid        decimal.Decimal    `json:"paid"`
	Carried     decimal.Decimal    `json:"carried"`
	Outstanding decimal.Decimal    `json:"outstanding"`
	DaysOverdue int                `json:"daysOverdue"`
	Components  []ComponentBalance `json:"components"`
}

// Component returns the balance of c, zero if absent.
func (o MonthlyObligation) Component(c ledger.Component) ComponentBalance {
	for _, cb := range o.Components {
		if cb.Component == c {
			return cb
		}
	}
	return ComponentBalance{Component: c, Owed: decimal.Zero, Paid: decimal.Zero, Carried: decimal.Zero, Outstanding: decimal.Zero}
}

// Deriver answers read-side questions by replaying the ledger.
type Deriver struct {
	Ledger      *ledger.Ledger
	Chart       *accounts.Chart
	Receivables *Receivables
	Policy      Policy
}

// Obligations returns the tenant's obligations per month up to asOf,
// oldest first. A tenant with no receivable has no obligations.
func (d *Deriver) Obligations(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]MonthlyObligation, error) {
	obligations, err := d.obligations(ctx, tenant, asOf)
	if errors.Is(err, ledger.ErrNoReceivableAccount) {
		return []MonthlyObligation{}, nil
	}
	return obligations, err
}

// obligations replays the tenant's log. A zero asOf means the whole log.
func (d *Deriver) obligations(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]MonthlyObligation, error) {
	receivable, err := resolveReceivable(ctx, d.Receivables, d.Chart, tenant)
	if err != nil {
		return nil, err
	}
	txs, err := d.Ledger.Find(ctx, ledger.Query{
		TenantID: tenant,
		Sources:  []ledger.Source{ledger.SourceAccrual, ledger.SourcePayment, ledger.SourceReversal},
		To:       asOf,
	})
	if err != nil {
		return nil, err
	}

	type amounts struct{ owed, paid decimal.Decimal }
	byMonth := make(map[ledger.Month]map[ledger.Component]*amounts)
	accrued := make(map[ledger.Month]bool)
	get := func(m ledger.Month, c ledger.Component) *amounts {
		if byMonth[m] == nil {
			byMonth[m] = make(map[ledger.Component]*amounts)
		}
		a := byMonth[m][c]
		if a == nil {
			a = &amounts{owed: decimal.Zero, paid: decimal.Zero}
			byMonth[m][c] = a
		}
		return a
	}

	for _, tx := range txs {
		for _, line := range tx.LinesFor(receivable.Code) {
			switch tx.EffectiveSource() {
			case ledger.SourceAccrual:
				m := tx.Metadata.Period
				if m.IsZero() {
					m = ledger.MonthOf(tx.Date)
				}
				accrued[m] = true
				a := get(m, line.Component)
				a.owed = a.owed.Add(line.Net())
			case ledger.SourcePayment:
				m := tx.Metadata.MonthSettled
				if m.IsZero() {
					continue
				}
				a := get(m, line.Component)
				a.paid = a.paid.Sub(line.Net())
			}
		}
	}

	months := make([]ledger.Month, 0, len(byMonth))
	for m := range byMonth {
		if !asOf.IsZero() && m.After(ledger.MonthOf(asOf)) {
			continue
		}
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	result := make([]MonthlyObligation, 0, len(months))
	for _, m := range months {
		o := MonthlyObligation{
			Month:       m,
			DueDate:     d.Policy.DueDate(m),
			Owed:        decimal.Zero,
			Paid:        decimal.Zero,
		}
		present := make([]ledger.Component, 0, len(byMonth[m]))
		for c := range byMonth[m] {
			present = append(present, c)
		}
		for _, c := range d.Policy.Order(present) {
			a := byMonth[m][c]
			o.Components = append(o.Components, ComponentBalance{
				Component:   c,
				Owed:        a.owed,
				Paid:        a.paid,
				Carried:     decimal.Zero,
				Outstanding: a.owed.Sub(a.paid),
			})
			o.Owed = o.Owed.Add(a.owed)
			o.Paid = o.Paid.Add(a.paid)
		}
		result = append(result, o)
	}

	carrySurplus(result, accrued)

	for i := range result {
		o := &result[i]
		o.Carried = decimal.Zero
		for _, cb := range o.Components {
			o.Carried = o.Carried.Add(cb.Carried)
		}
		o.Outstanding = o.Owed.Sub(o.Paid).Sub(o.Carried)
		if o.Outstanding.IsPositive() && !asOf.IsZero() && asOf.After(o.DueDate) {
			o.DaysOverdue = ledger.DaysBetween(o.DueDate, asOf)
		}
	}
	return result, nil
}

// carrySurplus moves what accrued months were paid beyond their charges
// onto the oldest outstanding components. obligations are oldest first.
func carrySurplus(obligations []MonthlyObligation, accrued map[ledger.Month]bool) {
	pool := decimal.Zero
	for i := range obligations {
		if !accrued[obligations[i].Month] {
			continue
		}
		for j := range obligations[i].Components {
			cb := &obligations[i].Components[j]
			if cb.Outstanding.IsNegative() {
				pool = pool.Sub(cb.Outstanding)
				cb.Carried = cb.Outstanding
				cb.Outstanding = decimal.Zero
			}
		}
	}
	if !pool.IsPositive() {
		return
	}

	for i := range obligations {
		for j := range obligations[i].Components {
			cb := &obligations[i].Components[j]
			if !pool.IsPositive() {
				return
			}
			if !cb.Outstanding.IsPositive() {
				continue
			}
			take := decimal.Min(pool, cb.Outstanding)
			cb.Carried = cb.Carried.Add(take)
			cb.Outstanding = cb.Outstanding.Sub(take)
			pool = pool.Sub(take)
		}
	}

	// Nothing left to settle: the rest stays where it came from.
	for i := range obligations {
		for j := range obligations[i].Components {
			cb := &obligations[i].Components[j]
			if !pool.IsPositive() {
				return
			}
			if !cb.Carried.IsNegative() {
				continue
			}
			back := decimal.Min(pool, cb.Carried.Neg())
			cb.Carried = cb.Carried.Add(back)
			cb.Outstanding = cb.Outstanding.Sub(back)
			pool = pool.Sub(back)
		}
	}
}

// TotalOutstanding sums Outstanding over obligations.
func TotalOutstanding(obligations []MonthlyObligation) decimal.Decimal {
	total := decimal.Zero
	for _, o := range obligations {
		total = total.Add(o.Outstanding)
	}
	return total
}

// =============================================================================
// AGING
// =============================================================================

// Aging buckets a tenant's positive outstanding balances by days overdue.
type Aging struct {
	TenantID   ledger.TenantID `json:"tenantId"`
	AsOf       time.Time       `json:"asOf"`
	Current    decimal.Decimal `json:"current"`
	Days1To30  decimal.Decimal `json:"days1To30"`
	Days31To60 decimal.Decimal `json:"days31To60"`
	Days61To90 decimal.Decimal `json:"days61To90"`
	Over90     decimal.Decimal `json:"over90"`
	Total      decimal.Decimal `json:"total"`
}

// Aging classifies the tenant's outstanding months as of asOf.
func (d *Deriver) Aging(ctx context.Context, tenant ledger.TenantID, asOf time.Time) (Aging, error) {
	obligations, err := d.Obligations(ctx, tenant, asOf)
	if err != nil {
		return Aging{}, err
	}
	a := Aging{
		TenantID: tenant, AsOf: asOf,
		Current: decimal.Zero, Days1To30: decimal.Zero, Days31To60: decimal.Zero,
		Days61To90: decimal.Zero, Over90: decimal.Zero, Total: decimal.Zero,
	}
	for _, o := range obligations {
		if !o.Outstanding.IsPositive() {
			continue
		}
		switch {
		case o.DaysOverdue == 0:
			a.Current = a.Current.Add(o.Outstanding)
		case o.DaysOverdue <= 30:
			a.Days1To30 = a.Days1To30.Add(o.Outstanding)
		case o.DaysOverdue <= 60:
			a.Days31To60 = a.Days31To60.Add(o.Outstanding)
		case o.DaysOverdue <= 90:
			a.Days61To90 = a.Days61To90.Add(o.Outstanding)
		default:
			a.Over90 = a.Over90.Add(o.Outstanding)
		}
		a.Total = a.Total.Add(o.Outstanding)
	}
	return a, nil
}
