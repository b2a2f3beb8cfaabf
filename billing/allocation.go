/*
allocation.go - Payment Allocator

PURPOSE:
  Splits an incoming payment across a tenant's outstanding monthly
  obligations and posts one balanced transaction per slice:
  debit the cash/bank account of the payment method, credit the tenant
  receivable, tagged with the month the slice settles.

ALGORITHM:
  1. Replay obligations; walk months oldest first.
  2. Within a month pay components in Policy.ComponentOrder
     (default rent → admin fee → deposit).
  3. Each slice = min(remaining, component outstanding).
  4. Remainder after every obligation is cleared:
     - prepay: fill the earliest lease months not yet accrued, from the
       payment's month on, up to what each will be charged
       (AllocationType "prepayment")
     - whatever is still left (or everything, under the credit policy)
       goes to the tenant's credit sub-ledger (AllocationType "credit")
     Nothing is ever dropped.
  5. Σ slices must equal the payment, else AllocationImbalanceError and
     nothing is written. All slices are posted in one atomic batch.

CONCURRENCY:
  Steps 1-5 run under the tenant lock, so two payments for the same tenant
  cannot both read the same outstanding snapshot.

EXAMPLE:
  May 180 unpaid, June 180 unpaid, payment 200:
    slice 1: 180 → May  (MonthSettled 2025-05)
    slice 2:  20 → June (MonthSettled 2025-06)

SEE ALSO:
  - obligations.go: Source of "outstanding"
  - lock.go: Tenant lock
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// POLICY
// =============================================================================

// OverpaymentPolicy decides where a remainder goes once every known
// obligation is paid.
type OverpaymentPolicy string

const (
	OverpaymentPrepay OverpaymentPolicy = "prepay"
	OverpaymentCredit OverpaymentPolicy = "credit"
)

func (p OverpaymentPolicy) IsValid() bool {
	return p == OverpaymentPrepay || p == OverpaymentCredit
}

// Policy is the configurable part of allocation and aging.
type Policy struct {
	ComponentOrder []ledger.Component
	Overpayment    OverpaymentPolicy
	// DueDay is the day of month an obligation falls due (1-28 typical).
	DueDay int
}

// DefaultPolicy pays rent before admin fee before deposit, prepays future
// months, and makes each month due on the 1st.
func DefaultPolicy() Policy {
	return Policy{
		ComponentOrder: append([]ledger.Component(nil), ledger.DefaultComponentOrder...),
		Overpayment:    OverpaymentPrepay,
		DueDay:         1,
	}
}

// DueDate is the date obligations for m fall due.
func (p Policy) DueDate(m ledger.Month) time.Time {
	day := p.DueDay
	if day < 1 {
		day = 1
	}
	if day > m.Days() {
		day = m.Days()
	}
	return m.Start().AddDate(0, 0, day-1)
}

// Order returns present sorted by ComponentOrder; components the policy
// does not name follow in lexical order.
func (p Policy) Order(present []ledger.Component) []ledger.Component {
	order := p.ComponentOrder
	if len(order) == 0 {
		order = ledger.DefaultComponentOrder
	}
	rank := make(map[ledger.Component]int, len(order))
	for i, c := range order {
		rank[c] = i
	}
	out := append([]ledger.Component(nil), present...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// =============================================================================
// PLANNING (pure)
// =============================================================================

// PaymentRequest is an incoming tenant payment.
type PaymentRequest struct {
	TenantID  ledger.TenantID
	Amount    decimal.Decimal
	Date      time.Time
	Method    accounts.PaymentMethod
	Reference string
	// PaymentID groups the slices; retries with the same id are rejected
	// as duplicates. Generated when empty.
	PaymentID string
}

func (r PaymentRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: missing tenant", ledger.ErrNoReceivableAccount)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive, got %s", ledger.ErrInvalidAmount, r.Amount)
	}
	if !ledger.IsCents(r.Amount) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", ledger.ErrInvalidAmount, r.Amount)
	}
	if !r.Method.IsValid() {
		return fmt.Errorf("%w: %q", ledger.ErrInvalidPaymentMethod, r.Method)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: missing payment date", ledger.ErrInvalidAmount)
	}
	return nil
}

// Slice is one planned piece of a payment.
type Slice struct {
	Month          ledger.Month     `json:"month"`
	Component      ledger.Component `json:"component"`
	Amount         decimal.Decimal  `json:"amount"`
	AllocationType string           `json:"allocationType"`
	LeaseID        string           `json:"leaseId,omitempty"`
}

// ProjectedMonth is a lease month not yet accrued, with what it can still
// absorb per component.
type ProjectedMonth struct {
	Month   ledger.Month
	LeaseID string
	Charges Charges
}

// PlanAllocation splits amount over obligations (oldest first), then over
// future months per policy, then into a credit slice. It never returns
// slices summing to anything but amount.
func PlanAllocation(amount decimal.Decimal, obligations []MonthlyObligation, future []ProjectedMonth, policy Policy) []Slice {
	var slices []Slice
	remaining := amount

	sorted := append([]MonthlyObligation(nil), obligations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Month.Before(sorted[j].Month) })

	for _, o := range sorted {
		if !remaining.IsPositive() {
			break
		}
		present := make([]ledger.Component, 0, len(o.Components))
		for _, cb := range o.Components {
			present = append(present, cb.Component)
		}
		for _, c := range policy.Order(present) {
			if !remaining.IsPositive() {
				break
			}
			outstanding := o.Component(c).Outstanding
			if !outstanding.IsPositive() {
				continue
			}
			take := decimal.Min(remaining, outstanding)
			slices = append(slices, Slice{Month: o.Month, Component: c, Amount: take, AllocationType: ledger.AllocationRegular})
			remaining = remaining.Sub(take)
		}
	}

	if remaining.IsPositive() && policy.Overpayment != OverpaymentCredit {
		for _, pm := range future {
			for _, c := range policy.Order(ledger.DefaultComponentOrder) {
				if !remaining.IsPositive() {
					break
				}
				capacity := pm.Charges.Get(c)
				if !capacity.IsPositive() {
					continue
				}
				take := decimal.Min(remaining, capacity)
				slices = append(slices, Slice{
					Month: pm.Month, Component: c, Amount: take,
					AllocationType: ledger.AllocationPrepayment, LeaseID: pm.LeaseID,
				})
				remaining = remaining.Sub(take)
			}
		}
	}

	if remaining.IsPositive() {
		slices = append(slices, Slice{Component: ledger.ComponentCredit, Amount: remaining, AllocationType: ledger.AllocationCredit})
	}
	return slices
}

// SumSlices totals slice amounts.
func SumSlices(slices []Slice) decimal.Decimal {
	total := decimal.Zero
	for _, s := range slices {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator plans and posts payment slices.
type Allocator struct {
	Ledger  *ledger.Ledger
	Chart   *accounts.Chart
	Deriver *Deriver
	Leases  LeaseStore
	Locker  Locker
	Policy  Policy
	NewID   func() ledger.TransactionID
	Logger  *zap.Logger

	// plan is PlanAllocation; replaced in tests to break the post-condition.
	plan func(decimal.Decimal, []MonthlyObligation, []ProjectedMonth, Policy) []Slice
}

// Allocate posts req as one or more payment slices, atomically.
func (a *Allocator) Allocate(ctx context.Context, req PaymentRequest) ([]ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := resolveReceivable(ctx, a.Deriver.Receivables, a.Chart, req.TenantID); err != nil {
		return nil, err
	}
	cashRef, err := accounts.CashAccountFor(req.Method)
	if err != nil {
		return nil, err
	}
	if req.PaymentID == "" {
		req.PaymentID = uuid.NewString()
	}

	unlock, err := a.Locker.Lock(ctx, TenantLockKey(req.TenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	obligations, err := a.Deriver.obligations(ctx, req.TenantID, time.Time{})
	if err != nil {
		return nil, err
	}
	future, err := a.project(ctx, req.TenantID, ledger.MonthOf(req.Date), obligations)
	if err != nil {
		return nil, err
	}

	plan := a.plan
	if plan == nil {
		plan = PlanAllocation
	}
	slices := plan(req.Amount, obligations, future, a.Policy)
	if allocated := SumSlices(slices); !allocated.Equal(req.Amount) {
		a.logger().Error("allocation imbalance",
			zap.String("tenant_id", string(req.TenantID)),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.String("allocated", allocated.StringFixed(2)),
		)
		return nil, &ledger.AllocationImbalanceError{TenantID: req.TenantID, Amount: req.Amount, Allocated: allocated}
	}

	txs := make([]ledger.Transaction, 0, len(slices))
	for i, s := range slices {
		tx, err := a.buildSlice(req, cashRef, s, i)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	posted, err := a.Ledger.PostBatch(ctx, txs)
	if err != nil {
		return nil, err
	}
	a.logger().Info("payment allocated",
		zap.String("tenant_id", string(req.TenantID)),
		zap.String("payment_id", req.PaymentID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Int("slices", len(posted)),
	)
	return posted, nil
}

func (a *Allocator) buildSlice(req PaymentRequest, cashRef accounts.Ref, s Slice, i int) (ledger.Transaction, error) {
	target := accounts.TenantReceivable(req.TenantID)
	desc := fmt.Sprintf("Payment %s: %s %s", req.PaymentID, s.Component, s.Month)
	if s.AllocationType == ledger.AllocationCredit {
		target = accounts.TenantCredit(req.TenantID)
		desc = fmt.Sprintf("Payment %s: credit balance", req.PaymentID)
	}
	debit, err := a.Chart.Debit(cashRef, s.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	credit, err := a.Chart.Credit(target, s.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.NewTransaction(ledger.Transaction{
		ID:          a.NewID(),
		Date:        req.Date,
		Description: desc,
		Reference:   req.Reference,
		Source:      ledger.SourcePayment,
		SourceID:    req.PaymentID,
		Entries:     []ledger.Line{debit.WithComponent(s.Component), credit.WithComponent(s.Component)},
		Metadata: ledger.Metadata{
			TenantID:       req.TenantID,
			LeaseID:        s.LeaseID,
			MonthSettled:   s.Month,
			PaymentType:    string(req.Method),
			AllocationType: s.AllocationType,
		},
		IdempotencyKey: fmt.Sprintf("payment:%s:%d", req.PaymentID, i),
	})
}

// project lists the tenant's lease months from `from` on with no accrual
// yet, oldest first, with the capacity left after earlier prepayments.
// Past months are never prepaid; they are caught up by accrual.
func (a *Allocator) project(ctx context.Context, tenant ledger.TenantID, from ledger.Month, obligations []MonthlyObligation) ([]ProjectedMonth, error) {
	if a.Leases == nil || a.Policy.Overpayment == OverpaymentCredit {
		return nil, nil
	}
	leases, err := a.Leases.LeasesByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	accruals, err := a.Ledger.Find(ctx, ledger.Query{TenantID: tenant, Sources: []ledger.Source{ledger.SourceAccrual}})
	if err != nil {
		return nil, err
	}
	type leaseMonth struct {
		lease string
		month ledger.Month
	}
	accrued := make(map[leaseMonth]bool, len(accruals))
	for _, tx := range accruals {
		accrued[leaseMonth{tx.Metadata.LeaseID, tx.Metadata.Period}] = true
	}

	prepaid := make(map[ledger.Month]map[ledger.Component]decimal.Decimal)
	for _, o := range obligations {
		for _, cb := range o.Components {
			if prepaid[o.Month] == nil {
				prepaid[o.Month] = make(map[ledger.Component]decimal.Decimal)
			}
			prepaid[o.Month][cb.Component] = cb.Paid.Sub(cb.Owed)
		}
	}

	var future []ProjectedMonth
	for _, l := range leases {
		for _, m := range l.Months() {
			if m.Before(from) || accrued[leaseMonth{l.ID, m}] {
				continue
			}
			charges, err := ChargesFor(l, m)
			if err != nil {
				a.logger().Warn("skipping lease in prepayment projection",
					zap.String("lease_id", l.ID), zap.Error(err))
				break
			}
			for _, c := range ledger.DefaultComponentOrder {
				already := prepaid[m][c]
				if !already.IsPositive() {
					continue
				}
				absorbed := decimal.Min(already, charges.Get(c))
				prepaid[m][c] = already.Sub(absorbed)
				charges = charges.minus(c, absorbed)
			}
			if charges.Total().IsPositive() {
				future = append(future, ProjectedMonth{Month: m, LeaseID: l.ID, Charges: charges})
			}
		}
	}
	sort.SliceStable(future, func(i, j int) bool { return future[i].Month.Before(future[j].Month) })
	return future, nil
}

func (c Charges) minus(component ledger.Component, amount decimal.Decimal) Charges {
	switch component {
	case ledger.ComponentRent:
		c.Rent = c.Rent.Sub(amount)
	case ledger.ComponentAdminFee:
		c.AdminFee = c.AdminFee.Sub(amount)
	case ledger.ComponentDeposit:
		c.Deposit = c.Deposit.Sub(amount)
	}
	return c
}

func (a *Allocator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
