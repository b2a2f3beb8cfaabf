package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// PLANNING (pure)
// =============================================================================

func obligationOf(m string, components map[ledger.Component]string) billing.MonthlyObligation {
	o := billing.MonthlyObligation{Month: month(m), Owed: decimal.Zero, Paid: decimal.Zero}
	for _, c := range ledger.DefaultComponentOrder {
		amt, ok := components[c]
		if !ok {
			continue
		}
		o.Components = append(o.Components, billing.ComponentBalance{
			Component: c, Owed: dec(amt), Paid: decimal.Zero, Outstanding: dec(amt),
		})
		o.Owed = o.Owed.Add(dec(amt))
	}
	o.Outstanding = o.Owed
	return o
}

func TestPlanAllocation_OldestMonthFirst(t *testing.T) {
	// GIVEN: June listed before May
	obligations := []billing.MonthlyObligation{
		obligationOf("2025-06", map[ledger.Component]string{ledger.ComponentRent: "180"}),
		obligationOf("2025-05", map[ledger.Component]string{ledger.ComponentRent: "180"}),
	}

	// WHEN: 200 is planned
	slices := billing.PlanAllocation(dec("200"), obligations, nil, billing.DefaultPolicy())

	// THEN: May is cleared first, June gets the rest
	require.Len(t, slices, 2)
	assert.Equal(t, month("2025-05"), slices[0].Month)
	requireEqualDec(t, "180", slices[0].Amount)
	assert.Equal(t, month("2025-06"), slices[1].Month)
	requireEqualDec(t, "20", slices[1].Amount)
}

func TestPlanAllocation_ComponentOrderWithinMonth(t *testing.T) {
	may := obligationOf("2025-05", map[ledger.Component]string{
		ledger.ComponentRent: "100", ledger.ComponentAdminFee: "50", ledger.ComponentDeposit: "200",
	})

	tests := []struct {
		name  string
		order []ledger.Component
		want  []ledger.Component
	}{
		{"default rent first", nil, []ledger.Component{ledger.ComponentRent, ledger.ComponentAdminFee}},
		{"deposit first", []ledger.Component{ledger.ComponentDeposit, ledger.ComponentRent, ledger.ComponentAdminFee}, []ledger.Component{ledger.ComponentDeposit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := billing.DefaultPolicy()
			if tt.order != nil {
				policy.ComponentOrder = tt.order
			}

			slices := billing.PlanAllocation(dec("120"), []billing.MonthlyObligation{may}, nil, policy)

			var got []ledger.Component
			for _, s := range slices {
				got = append(got, s.Component)
			}
			assert.Equal(t, tt.want, got)
			requireEqualDec(t, "120", billing.SumSlices(slices))
		})
	}
}

func TestPlanAllocation_NeverDropsRemainder(t *testing.T) {
	may := obligationOf("2025-05", map[ledger.Component]string{ledger.ComponentRent: "180"})
	future := []billing.ProjectedMonth{{Month: month("2025-06"), LeaseID: "L1", Charges: billing.Charges{Rent: dec("180"), AdminFee: decimal.Zero, Deposit: decimal.Zero}}}

	for _, policy := range []billing.OverpaymentPolicy{billing.OverpaymentPrepay, billing.OverpaymentCredit} {
		t.Run(string(policy), func(t *testing.T) {
			p := billing.DefaultPolicy()
			p.Overpayment = policy

			slices := billing.PlanAllocation(dec("500.55"), []billing.MonthlyObligation{may}, future, p)

			requireEqualDec(t, "500.55", billing.SumSlices(slices))
			last := slices[len(slices)-1]
			assert.Equal(t, ledger.AllocationCredit, last.AllocationType)
		})
	}
}

// =============================================================================
// ALLOCATOR
// =============================================================================

func TestAllocate_TwoHundredExample(t *testing.T) {
	// GIVEN: May 180 unpaid, June 180 unpaid
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")

	// WHEN: the tenant pays 200
	slices := f.pay(t, "T1", "200", date(2025, 6, 10))

	// THEN: 180 settles May, 20 settles June
	require.Len(t, slices, 2)
	assert.Equal(t, month("2025-05"), slices[0].Metadata.MonthSettled)
	requireEqualDec(t, "180", slices[0].TotalDebit)
	assert.Equal(t, month("2025-06"), slices[1].Metadata.MonthSettled)
	requireEqualDec(t, "20", slices[1].TotalDebit)
	for i, tx := range slices {
		assert.Equal(t, ledger.SourcePayment, tx.Source)
		assert.Equal(t, ledger.AllocationRegular, tx.Metadata.AllocationType)
		assert.Equal(t, "1010", string(tx.Entries[0].AccountCode), "bank transfer debits the bank account")
		assert.Equal(t, "1100-T1", string(tx.Entries[1].AccountCode))
		assert.Equal(t, tx.SourceID, slices[0].SourceID, "slices share the payment id")
		assert.Equal(t, fmt.Sprintf("payment:%s:%d", tx.SourceID, i), tx.IdempotencyKey)
	}

	may := f.obligation(t, "T1", date(2025, 6, 30), "2025-05")
	june := f.obligation(t, "T1", date(2025, 6, 30), "2025-06")
	assert.True(t, may.Outstanding.IsZero())
	requireEqualDec(t, "160", june.Outstanding)
}

func TestAllocate_OverpaymentPrepaysNextUnaccruedMonth(t *testing.T) {
	// GIVEN: only May accrued on a May-August lease
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 8, 31), "180"))
	f.accrue(t, "T1", "2025-05")

	// WHEN: the tenant pays 250
	slices := f.pay(t, "T1", "250", date(2025, 5, 5))

	// THEN: 70 prepays June, tagged as a prepayment
	require.Len(t, slices, 2)
	assert.Equal(t, month("2025-06"), slices[1].Metadata.MonthSettled)
	assert.Equal(t, ledger.AllocationPrepayment, slices[1].Metadata.AllocationType)
	assert.Equal(t, "L1", slices[1].Metadata.LeaseID)
	requireEqualDec(t, "70", slices[1].TotalDebit)

	// AND: once June accrues, the prepayment counts toward it
	f.accrue(t, "T1", "2025-06")
	june := f.obligation(t, "T1", date(2025, 6, 30), "2025-06")
	requireEqualDec(t, "180", june.Owed)
	requireEqualDec(t, "70", june.Paid)
	requireEqualDec(t, "110", june.Outstanding)

	// AND: a second prepayment continues where the first stopped
	second := f.pay(t, "T1", "300", date(2025, 6, 2))
	require.Len(t, second, 3)
	requireEqualDec(t, "110", second[0].TotalDebit)
	assert.Equal(t, month("2025-06"), second[0].Metadata.MonthSettled)
	requireEqualDec(t, "180", second[1].TotalDebit)
	assert.Equal(t, month("2025-07"), second[1].Metadata.MonthSettled)
	requireEqualDec(t, "10", second[2].TotalDebit)
	assert.Equal(t, month("2025-08"), second[2].Metadata.MonthSettled)
}

func TestAllocate_OverpaymentBeyondLeaseGoesToCredit(t *testing.T) {
	// GIVEN: a one-month lease, accrued
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 5, 31), "180"))
	f.accrue(t, "T1", "2025-05")

	// WHEN: the tenant pays 200
	slices := f.pay(t, "T1", "200", date(2025, 5, 5))

	// THEN: the 20 remainder sits on the tenant's credit sub-ledger
	require.Len(t, slices, 2)
	credit := slices[1]
	assert.Equal(t, ledger.AllocationCredit, credit.Metadata.AllocationType)
	assert.True(t, credit.Metadata.MonthSettled.IsZero())
	assert.Equal(t, "2100-T1", string(credit.Entries[1].AccountCode))
	requireEqualDec(t, "20", credit.TotalCredit)

	st, err := f.svc.GetStatement(context.Background(), "T1", date(2025, 5, 1), date(2025, 5, 31))
	require.NoError(t, err)
	requireEqualDec(t, "20", st.Credit)
}

func TestAllocate_CreditPolicyNeverPrepays(t *testing.T) {
	policy := billing.DefaultPolicy()
	policy.Overpayment = billing.OverpaymentCredit
	f := newFixture(t, &policy)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 8, 31), "180"))
	f.accrue(t, "T1", "2025-05")

	slices := f.pay(t, "T1", "250", date(2025, 5, 5))

	require.Len(t, slices, 2)
	assert.Equal(t, ledger.AllocationCredit, slices[1].Metadata.AllocationType)
	requireEqualDec(t, "70", slices[1].TotalDebit)
}

func TestAllocate_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))

	valid := billing.PaymentRequest{TenantID: "T1", Amount: dec("100"), Date: date(2025, 5, 5), Method: "cash"}
	tests := []struct {
		name    string
		mutate  func(*billing.PaymentRequest)
		wantErr error
	}{
		{"zero amount", func(r *billing.PaymentRequest) { r.Amount = decimal.Zero }, ledger.ErrInvalidAmount},
		{"negative amount", func(r *billing.PaymentRequest) { r.Amount = dec("-5") }, ledger.ErrInvalidAmount},
		{"sub-cent amount", func(r *billing.PaymentRequest) { r.Amount = dec("10.001") }, ledger.ErrInvalidAmount},
		{"unknown method", func(r *billing.PaymentRequest) { r.Method = "cheque" }, ledger.ErrInvalidPaymentMethod},
		{"unknown tenant", func(r *billing.PaymentRequest) { r.TenantID = "T9" }, ledger.ErrNoReceivableAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			_, err := f.svc.AllocatePayment(context.Background(), req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.mem.Len())
		})
	}
}

func TestAllocate_RetryWithSamePaymentIDIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	req := billing.PaymentRequest{TenantID: "T1", Amount: dec("100"), Date: date(2025, 5, 5), Method: "cash", PaymentID: "pay-1"}

	_, err := f.svc.AllocatePayment(context.Background(), req)
	require.NoError(t, err)
	_, err = f.svc.AllocatePayment(context.Background(), req)

	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	requireEqualDec(t, "80", f.outstanding(t, "T1", date(2025, 5, 31)))
}

func TestAllocate_SameTenantPaymentsAreSerialized(t *testing.T) {
	// GIVEN: May and June accrued, credit policy so any double-counting
	// would surface as a credit slice
	policy := billing.DefaultPolicy()
	policy.Overpayment = billing.OverpaymentCredit
	f := newFixture(t, &policy)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")

	// WHEN: two payments of 180 arrive at once
	var wg sync.WaitGroup
	results := make([][]ledger.Transaction, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.AllocatePayment(context.Background(), billing.PaymentRequest{
				TenantID: "T1", Amount: dec("180"), Date: date(2025, 6, 2), Method: "cash",
			})
		}(i)
	}
	wg.Wait()

	// THEN: one settles May, the other June; nothing lands on credit
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	settled := map[ledger.Month]bool{}
	for _, txs := range results {
		require.Len(t, txs, 1)
		assert.Equal(t, ledger.AllocationRegular, txs[0].Metadata.AllocationType)
		settled[txs[0].Metadata.MonthSettled] = true
	}
	assert.True(t, settled[month("2025-05")])
	assert.True(t, settled[month("2025-06")])
	assert.True(t, f.outstanding(t, "T1", date(2025, 6, 30)).IsZero())
}

func TestAllocate_AfterReversedAccrualSettlesRemainingDebtExactly(t *testing.T) {
	// GIVEN: May-July at 180, 100 paid against May, May's accrual reversed
	f := reversedAfterPayment(t)

	// WHEN: the tenant pays the 260 still owed
	slices := f.pay(t, "T1", "260", f.now)

	// THEN: the slices cover June's 80 and July's 180, with no credit
	require.Len(t, slices, 2)
	assert.Equal(t, month("2025-06"), slices[0].Metadata.MonthSettled)
	requireEqualDec(t, "80", slices[0].TotalDebit)
	assert.Equal(t, month("2025-07"), slices[1].Metadata.MonthSettled)
	requireEqualDec(t, "180", slices[1].TotalDebit)
	for _, s := range slices {
		assert.Equal(t, ledger.AllocationRegular, s.Metadata.AllocationType)
	}

	// AND: nothing is owed or aged afterwards
	requireEqualDec(t, "0", f.outstanding(t, "T1", f.now))
	aging, err := f.svc.GetAging(context.Background(), "T1", f.now)
	require.NoError(t, err)
	assert.True(t, aging.Total.IsZero())
}

func TestAllocate_OverpaymentNeverPrepaysPastMonths(t *testing.T) {
	// GIVEN: a March-June lease where only May has been accrued
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 3, 1), date(2025, 6, 30), "180"))
	f.accrue(t, "T1", "2025-05")

	// WHEN: the tenant pays 300 in May
	slices := f.pay(t, "T1", "300", date(2025, 5, 5))

	// THEN: the 120 remainder prepays June, not the unaccrued March
	require.Len(t, slices, 2)
	assert.Equal(t, month("2025-05"), slices[0].Metadata.MonthSettled)
	assert.Equal(t, month("2025-06"), slices[1].Metadata.MonthSettled)
	assert.Equal(t, ledger.AllocationPrepayment, slices[1].Metadata.AllocationType)
	requireEqualDec(t, "120", slices[1].TotalDebit)
}
