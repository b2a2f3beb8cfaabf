package billing_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func month(s string) ledger.Month { return ledger.MustParseMonth(s) }

// sequentialIDs returns a goroutine-safe generator of tx-0001, tx-0002, ...
func sequentialIDs() func() ledger.TransactionID {
	var n atomic.Int64
	return func() ledger.TransactionID {
		return ledger.TransactionID(fmt.Sprintf("tx-%04d", n.Add(1)))
	}
}

type fixture struct {
	svc *billing.Service
	mem *store.Memory
	now time.Time
}

func newFixture(t *testing.T, policy *billing.Policy) *fixture {
	t.Helper()
	f := &fixture{mem: store.NewMemory(), now: date(2025, 8, 1)}
	f.svc = billing.NewService(billing.Options{
		Store:  f.mem,
		Policy: policy,
		Now:    func() time.Time { return f.now },
		NewID:  sequentialIDs(),
	})
	return f
}

// monthlyLease is a rent-only lease, no admin fee or deposit.
func monthlyLease(id, tenant string, start, end time.Time, rate string) billing.Lease {
	return billing.Lease{
		ID:            id,
		TenantID:      ledger.TenantID(tenant),
		ResidenceID:   "res-1",
		RoomRate:      dec(rate),
		AdminFee:      decimal.Zero,
		DepositAmount: decimal.Zero,
		LeaseStart:    start,
		LeaseEnd:      end,
	}
}

func (f *fixture) register(t *testing.T, lease billing.Lease) billing.Lease {
	t.Helper()
	l, err := f.svc.RegisterLease(t.Context(), lease)
	require.NoError(t, err)
	return l
}

func (f *fixture) accrue(t *testing.T, tenant string, m string) ledger.Transaction {
	t.Helper()
	tx, err := f.svc.PostAccrual(t.Context(), ledger.TenantID(tenant), month(m))
	require.NoError(t, err)
	return tx
}

func (f *fixture) pay(t *testing.T, tenant, amount string, on time.Time) []ledger.Transaction {
	t.Helper()
	txs, err := f.svc.AllocatePayment(t.Context(), billing.PaymentRequest{
		TenantID: ledger.TenantID(tenant),
		Amount:   dec(amount),
		Date:     on,
		Method:   "bank_transfer",
	})
	require.NoError(t, err)
	return txs
}

func (f *fixture) obligation(t *testing.T, tenant string, asOf time.Time, m string) billing.MonthlyObligation {
	t.Helper()
	obligations, err := f.svc.GetObligations(t.Context(), ledger.TenantID(tenant), asOf)
	require.NoError(t, err)
	for _, o := range obligations {
		if o.Month == month(m) {
			return o
		}
	}
	t.Fatalf("no obligation for %s", m)
	return billing.MonthlyObligation{}
}

func (f *fixture) outstanding(t *testing.T, tenant string, asOf time.Time) decimal.Decimal {
	t.Helper()
	obligations, err := f.svc.GetObligations(t.Context(), ledger.TenantID(tenant), asOf)
	require.NoError(t, err)
	return billing.TotalOutstanding(obligations)
}

// requireEqualDec compares decimals by value.
func requireEqualDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
