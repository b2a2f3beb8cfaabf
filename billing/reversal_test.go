package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// balances snapshots the balance of every account code touched so far.
func balances(t *testing.T, f *fixture, codes ...ledger.AccountCode) map[ledger.AccountCode]decimal.Decimal {
	t.Helper()
	out := make(map[ledger.AccountCode]decimal.Decimal, len(codes))
	for _, code := range codes {
		b, err := f.svc.Ledger.Balance(context.Background(), code, ledger.Day(f.now))
		require.NoError(t, err)
		out[code] = b
	}
	return out
}

func TestReverse_RestoresEveryBalanceAndObligation(t *testing.T) {
	// GIVEN: May and June accrued
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")
	codes := []ledger.AccountCode{"1000", "1010", "1100-T1", "1100", "2100-T1", "4000"}
	before := balances(t, f, codes...)
	obligationsBefore, err := f.svc.GetObligations(context.Background(), "T1", f.now)
	require.NoError(t, err)

	// WHEN: a payment is posted and then reversed
	slices := f.pay(t, "T1", "180", date(2025, 6, 10))
	require.Len(t, slices, 1)
	rev, err := f.svc.ReverseTransaction(context.Background(), slices[0].ID, "bounced transfer")
	require.NoError(t, err)

	// THEN: the reversal mirrors the original
	assert.Equal(t, ledger.SourceReversal, rev.Source)
	assert.Equal(t, slices[0].ID, rev.Metadata.OriginalTransactionID)
	assert.Equal(t, ledger.SourcePayment, rev.Metadata.ReversedSource)
	assert.Equal(t, slices[0].Metadata.MonthSettled, rev.Metadata.MonthSettled)
	assert.Equal(t, "bounced transfer", rev.Metadata.Reason)
	assert.Equal(t, "reversal:"+string(slices[0].ID), rev.IdempotencyKey)

	// AND: every balance and every obligation is as before the original
	after := balances(t, f, codes...)
	for _, code := range codes {
		assert.True(t, before[code].Equal(after[code]), "%s: %s != %s", code, before[code], after[code])
	}
	obligationsAfter, err := f.svc.GetObligations(context.Background(), "T1", f.now)
	require.NoError(t, err)
	require.Len(t, obligationsAfter, len(obligationsBefore))
	for i := range obligationsBefore {
		assert.True(t, obligationsBefore[i].Outstanding.Equal(obligationsAfter[i].Outstanding))
	}

	// AND: the original now reads as void
	orig, err := f.svc.GetTransaction(context.Background(), slices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusVoid, orig.Status)
}

func TestReverse_AtMostOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	accrual := f.accrue(t, "T1", "2025-05")
	rev, err := f.svc.ReverseTransaction(context.Background(), accrual.ID, "entered twice")
	require.NoError(t, err)

	t.Run("second reversal", func(t *testing.T) {
		_, err := f.svc.ReverseTransaction(context.Background(), accrual.ID, "again")

		require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
		var already *ledger.AlreadyReversedError
		require.True(t, errors.As(err, &already))
		assert.Equal(t, rev.ID, already.ReversalID)
	})

	t.Run("reversal of a reversal", func(t *testing.T) {
		_, err := f.svc.ReverseTransaction(context.Background(), rev.ID, "undo undo")

		assert.ErrorIs(t, err, ledger.ErrCannotReverseReversal)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := f.svc.ReverseTransaction(context.Background(), "nope", "")

		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	assert.Equal(t, 2, f.mem.Len())
}

func TestReverse_DatedNoEarlierThanOriginal(t *testing.T) {
	// GIVEN: the clock is behind the original's date
	f := newFixture(t, nil)
	f.now = date(2025, 5, 1)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	june := f.accrue(t, "T1", "2025-06")

	rev, err := f.svc.ReverseTransaction(context.Background(), june.ID, "clock skew")

	require.NoError(t, err)
	assert.Equal(t, june.Date, rev.Date)
}

func TestHandleNoShow_ReversesEveryAccrualOfTheLease(t *testing.T) {
	// GIVEN: first month with admin fee and deposit, plus the next month
	f := newFixture(t, nil)
	lease := monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180")
	lease.AdminFee = dec("20")
	lease.DepositAmount = dec("100")
	f.register(t, lease)
	may := f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")

	// WHEN: the tenant never shows up
	reversals, err := f.svc.HandleNoShow(context.Background(), "L1", "")

	// THEN: both accruals are reversed; nothing is owed; income and deposit
	// liability are back to zero
	require.NoError(t, err)
	require.Len(t, reversals, 2)
	assert.Equal(t, "no-show", reversals[0].Metadata.Reason)
	assert.True(t, f.outstanding(t, "T1", f.now).IsZero())
	for _, code := range []ledger.AccountCode{"4000", "4010", "2000", "1100"} {
		b, err := f.svc.Ledger.Balance(context.Background(), code, f.now)
		require.NoError(t, err)
		assert.True(t, b.IsZero(), "%s = %s", code, b)
	}
	voided, err := f.svc.Ledger.IsVoided(context.Background(), may.ID)
	require.NoError(t, err)
	assert.True(t, voided)

	// AND: a second no-show has nothing left to reverse
	_, err = f.svc.HandleNoShow(context.Background(), "L1", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReverseAccruals_SingleMonth(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")

	reversals, err := f.svc.Reversals.ReverseAccruals(context.Background(),
		billing.AccrualTarget{TenantID: "T1", LeaseID: "L1", Month: month("2025-05")}, "forfeit first month")

	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, month("2025-05"), reversals[0].Metadata.Period)
	requireEqualDec(t, "180", f.outstanding(t, "T1", f.now))
}

func TestEndToEnd_AccruePayReverse(t *testing.T) {
	// GIVEN: three months at 180 accrued (540 owed)
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	may := f.accrue(t, "T1", "2025-05")
	f.accrue(t, "T1", "2025-06")
	f.accrue(t, "T1", "2025-07")
	requireEqualDec(t, "540", f.outstanding(t, "T1", date(2025, 7, 31)))

	// WHEN: 100 is paid and the first month's accrual is reversed
	f.pay(t, "T1", "100", date(2025, 5, 10))
	_, err := f.svc.ReverseTransaction(context.Background(), may.ID, "waived")
	require.NoError(t, err)

	// THEN: 540 - 180 - 100 = 260 once the reversal (dated today) is in view
	requireEqualDec(t, "440", f.outstanding(t, "T1", date(2025, 7, 31)))
	requireEqualDec(t, "260", f.outstanding(t, "T1", f.now))

	// AND: the ledger still balances on both bases
	for _, basis := range []billing.Basis{billing.BasisAccrual, billing.BasisCash} {
		tb, err := f.svc.GetTrialBalance(context.Background(), f.now, basis)
		require.NoError(t, err)
		assert.True(t, tb.IsBalanced(), basis)
	}
}
