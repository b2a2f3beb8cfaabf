package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// residenceMonth sets up May/June for one tenant with fees, a bank payment
// of 250 and a 40 cash utilities bill.
func residenceMonth(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	lease := monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 6, 30), "180")
	lease.AdminFee = dec("20")
	lease.DepositAmount = dec("100")
	f.register(t, lease)
	f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")
	f.pay(t, "T1", "250", date(2025, 5, 10))
	_, err := f.svc.RecordExpense(context.Background(), billing.ExpenseRequest{
		Category: "utilities", Amount: dec("40"), Date: date(2025, 5, 20), Method: "cash",
	})
	require.NoError(t, err)
	return f
}

func TestTrialBalance_AccrualBasisRollsUpSubLedgers(t *testing.T) {
	f := residenceMonth(t)

	tb, err := f.svc.GetTrialBalance(context.Background(), date(2025, 6, 30), billing.BasisAccrual)
	require.NoError(t, err)

	assert.Equal(t, billing.StatusBalanced, tb.Status)
	requireEqualDec(t, "770", tb.TotalDebit)
	requireEqualDec(t, "770", tb.TotalCredit)
	assert.True(t, tb.Difference.IsZero())

	receivable, ok := tb.Account("1100")
	require.True(t, ok, "tenant sub-ledgers roll up into 1100")
	assert.Equal(t, "Accounts Receivable - Tenants", receivable.Name)
	requireEqualDec(t, "230", receivable.DebitBalance)
	_, ok = tb.Account("1100-T1")
	assert.False(t, ok)

	rent, ok := tb.Account("4000")
	require.True(t, ok)
	requireEqualDec(t, "360", rent.CreditBalance)
	cash, ok := tb.Account("1000")
	require.True(t, ok)
	requireEqualDec(t, "40", cash.CreditBalance)
}

func TestTrialBalance_CashBasisOnlyCountsCashMovements(t *testing.T) {
	f := residenceMonth(t)

	tb, err := f.svc.GetTrialBalance(context.Background(), date(2025, 6, 30), billing.BasisCash)
	require.NoError(t, err)

	assert.True(t, tb.IsBalanced())
	requireEqualDec(t, "290", tb.TotalDebit)
	_, ok := tb.Account("4000")
	assert.False(t, ok, "accruals are not cash")
	bank, ok := tb.Account("1010")
	require.True(t, ok)
	requireEqualDec(t, "250", bank.DebitBalance)
}

func TestTrialBalance_AsOfExcludesLaterPostings(t *testing.T) {
	f := residenceMonth(t)

	tb, err := f.svc.GetTrialBalance(context.Background(), date(2025, 5, 5), billing.BasisAccrual)
	require.NoError(t, err)

	requireEqualDec(t, "300", tb.TotalDebit)
	assert.Equal(t, 4, tb.AccountsCount)
}

func TestIncomeStatement(t *testing.T) {
	f := residenceMonth(t)

	tests := []struct {
		basis   billing.Basis
		income  string
		expense string
		net     string
	}{
		{billing.BasisAccrual, "380", "40", "340"},
		{billing.BasisCash, "200", "40", "160"},
	}
	for _, tt := range tests {
		t.Run(string(tt.basis), func(t *testing.T) {
			is, err := f.svc.GetIncomeStatement(context.Background(), date(2025, 5, 1), date(2025, 6, 30), tt.basis)

			require.NoError(t, err)
			requireEqualDec(t, tt.income, is.TotalIncome)
			requireEqualDec(t, tt.expense, is.TotalExpense)
			requireEqualDec(t, tt.net, is.NetIncome)
		})
	}
}

func TestCashFlow_ByMonth(t *testing.T) {
	f := residenceMonth(t)
	f.pay(t, "T1", "100", date(2025, 6, 3))

	cf, err := f.svc.GetCashFlow(context.Background(), date(2025, 5, 1), date(2025, 6, 30))
	require.NoError(t, err)

	require.Len(t, cf.Months, 2)
	assert.Equal(t, month("2025-05"), cf.Months[0].Month)
	requireEqualDec(t, "250", cf.Months[0].Inflow)
	requireEqualDec(t, "40", cf.Months[0].Outflow)
	requireEqualDec(t, "210", cf.Months[0].Net)
	requireEqualDec(t, "100", cf.Months[1].Inflow)
	requireEqualDec(t, "310", cf.Net)
}

func TestStatement_RunningBalance(t *testing.T) {
	f := residenceMonth(t)

	t.Run("whole history", func(t *testing.T) {
		st, err := f.svc.GetStatement(context.Background(), "T1", date(2024, 1, 1), date(2025, 6, 30))
		require.NoError(t, err)

		assert.True(t, st.OpeningBalance.IsZero())
		require.Len(t, st.Entries, 7)
		requireEqualDec(t, "180", st.Entries[0].Balance)
		requireEqualDec(t, "230", st.ClosingBalance)
		last := st.Entries[len(st.Entries)-1]
		assert.Equal(t, month("2025-06"), last.Month)
		assert.True(t, last.Balance.Equal(st.ClosingBalance))
	})

	t.Run("from June", func(t *testing.T) {
		st, err := f.svc.GetStatement(context.Background(), "T1", date(2025, 6, 1), date(2025, 6, 30))
		require.NoError(t, err)

		requireEqualDec(t, "50", st.OpeningBalance)
		require.Len(t, st.Entries, 1)
		requireEqualDec(t, "230", st.ClosingBalance)
	})
}

// =============================================================================
// EXPENSES / MANUAL ENTRIES
// =============================================================================

func TestRecordExpense_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	valid := billing.ExpenseRequest{Category: "cleaning", Amount: dec("15"), Date: date(2025, 5, 2), Method: "mobile_money", IdempotencyKey: "exp-1"}

	tx, err := f.svc.RecordExpense(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceExpensePayment, tx.Source)
	assert.Equal(t, "1020", string(tx.Entries[1].AccountCode))

	tests := []struct {
		name    string
		mutate  func(*billing.ExpenseRequest)
		wantErr error
	}{
		{"retry", func(r *billing.ExpenseRequest) {}, ledger.ErrDuplicateIdempotencyKey},
		{"unknown category", func(r *billing.ExpenseRequest) { r.Category = "yachts"; r.IdempotencyKey = "" }, ledger.ErrUnknownAccount},
		{"unknown method", func(r *billing.ExpenseRequest) { r.Method = "barter"; r.IdempotencyKey = "" }, ledger.ErrInvalidPaymentMethod},
		{"zero amount", func(r *billing.ExpenseRequest) { r.Amount = dec("0"); r.IdempotencyKey = "" }, ledger.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.svc.RecordExpense(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 1, f.mem.Len())
}

func TestPostManual(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 6, 30), "180"))

	tx, err := f.svc.PostManual(context.Background(), billing.ManualEntry{
		Date:        date(2025, 5, 1),
		Description: "Owner capital",
		Lines: []billing.ManualLine{
			{AccountCode: "1010", Debit: dec("1000")},
			{AccountCode: "3000", Credit: dec("1000")},
		},
		CreatedBy: "accountant",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceManual, tx.Source)
	assert.Equal(t, "Bank Account", tx.Entries[0].AccountName)

	tests := []struct {
		name    string
		lines   []billing.ManualLine
		wantErr error
	}{
		{"unbalanced", []billing.ManualLine{{AccountCode: "1010", Debit: dec("10")}, {AccountCode: "3000", Credit: dec("9")}}, ledger.ErrUnbalanced},
		{"unknown account", []billing.ManualLine{{AccountCode: "9999", Debit: dec("10")}, {AccountCode: "3000", Credit: dec("10")}}, ledger.ErrUnknownAccount},
		{"tenant receivable", []billing.ManualLine{{AccountCode: "1100-T1", Debit: dec("10")}, {AccountCode: "4000", Credit: dec("10")}}, ledger.ErrInvalidLine},
		{"empty line", []billing.ManualLine{{AccountCode: "1010"}, {AccountCode: "3000", Credit: dec("10")}}, ledger.ErrInvalidLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PostManual(context.Background(), billing.ManualEntry{Date: date(2025, 5, 2), Lines: tt.lines})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 1, f.mem.Len())
}

func TestRestore_ReopensReceivables(t *testing.T) {
	// GIVEN: a tenant accrued by one service instance
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 6, 30), "180"))
	f.accrue(t, "T1", "2025-05")

	// WHEN: a new instance starts over the same stores
	restarted := billing.NewService(billing.Options{Store: f.mem, Leases: f.svc.Leases, NewID: sequentialIDs()})
	require.False(t, restarted.Chart.HasReceivable("T1"))
	n, err := restarted.Restore(context.Background())

	// THEN: the tenant can pay again
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = restarted.AllocatePayment(context.Background(), billing.PaymentRequest{
		TenantID: "T1", Amount: dec("180"), Date: date(2025, 5, 3), Method: "cash", PaymentID: "p-restart",
	})
	require.NoError(t, err)
}
