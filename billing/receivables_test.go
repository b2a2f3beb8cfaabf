package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/ledger/store"
)

func TestReceivables_SecondInstanceSeesPersistedTenants(t *testing.T) {
	// GIVEN: two instances over one ledger and one lease store
	mem := store.NewMemory()
	leases := billing.NewMemoryLeases()
	ids := sequentialIDs()
	a := billing.NewService(billing.Options{Store: mem, Leases: leases, NewID: ids})
	b := billing.NewService(billing.Options{Store: mem, Leases: leases, NewID: ids})

	// WHEN: instance A registers the lease and accrues May
	_, err := a.RegisterLease(t.Context(), monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 7, 31), "180"))
	require.NoError(t, err)
	_, err = a.PostAccrual(t.Context(), "T1", month("2025-05"))
	require.NoError(t, err)
	require.False(t, b.Chart.HasReceivable("T1"))

	// THEN: instance B derives the same obligations
	obligations, err := b.GetObligations(t.Context(), "T1", date(2025, 5, 31))
	require.NoError(t, err)
	require.Len(t, obligations, 1)
	requireEqualDec(t, "180", obligations[0].Outstanding)
	assert.True(t, b.Chart.HasReceivable("T1"))

	// AND: instance B accepts the tenant's payment
	slices, err := b.AllocatePayment(t.Context(), billing.PaymentRequest{
		TenantID: "T1", Amount: dec("180"), Date: date(2025, 5, 3), Method: "cash", PaymentID: "p-b",
	})
	require.NoError(t, err)
	require.Len(t, slices, 1)

	st, err := b.GetStatement(t.Context(), "T1", date(2025, 5, 1), date(2025, 5, 31))
	require.NoError(t, err)
	requireEqualDec(t, "0", st.ClosingBalance)
}

func TestReceivables_AccrualWithoutLeaseOpensReceivable(t *testing.T) {
	// GIVEN: an accrual in the ledger but a lease store that has lost the lease
	f := newFixture(t, nil)
	f.register(t, monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 5, 31), "180"))
	f.accrue(t, "T1", "2025-05")
	other := billing.NewService(billing.Options{Store: f.mem, NewID: sequentialIDs()})

	// WHEN: the other instance resolves the receivable
	a, err := other.Receivables.Resolve(t.Context(), "T1")

	// THEN: the ledger alone is enough
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountCode("1100-T1"), a.Code)
}

func TestReceivables_UnknownTenantIsNeverCached(t *testing.T) {
	// GIVEN: an instance that has looked up a tenant before it existed
	mem := store.NewMemory()
	leases := billing.NewMemoryLeases()
	a := billing.NewService(billing.Options{Store: mem, Leases: leases, NewID: sequentialIDs()})
	b := billing.NewService(billing.Options{Store: mem, Leases: leases, NewID: sequentialIDs()})
	_, err := b.Receivables.Resolve(t.Context(), "T1")
	require.ErrorIs(t, err, ledger.ErrNoReceivableAccount)

	// WHEN: the other instance registers the tenant's lease
	_, err = a.RegisterLease(t.Context(), monthlyLease("L1", "T1", date(2025, 5, 1), date(2025, 5, 31), "180"))
	require.NoError(t, err)

	// THEN: the next lookup finds it
	_, err = b.Receivables.Resolve(t.Context(), "T1")
	assert.NoError(t, err)
}
