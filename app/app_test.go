package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/config"
	"github.com/warp/tenant-ledger/ledger"
)

func testConfig(t *testing.T, driver, dsn string) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Driver = driver
	cfg.Database.DSN = dsn
	return cfg
}

func hasAccount(svc *billing.Service, code ledger.AccountCode) bool {
	for _, a := range svc.Accounts() {
		if a.Code == code {
			return true
		}
	}
	return false
}

func TestNew_SQLiteRestoresReceivables(t *testing.T) {
	// GIVEN: A SQLite ledger with one lease and one accrual
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := testConfig(t, "sqlite", path)
	ctx := t.Context()

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = a.Service.RegisterLease(ctx, billing.Lease{
		ID: "L1", TenantID: "T1", RoomRate: decimal.NewFromInt(700),
		LeaseStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		LeaseEnd:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = a.Service.PostAccrual(ctx, "T1", ledger.MustParseMonth("2025-01"))
	require.NoError(t, err)
	assert.Contains(t, a.Health, "database")
	require.NoError(t, a.Close())

	// WHEN: The application starts again on the same file
	a, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	// THEN: The tenant's receivable is open and the accrual is remembered
	assert.True(t, hasAccount(a.Service, "1100-T1"))
	_, err = a.Service.PostAccrual(ctx, "T1", ledger.MustParseMonth("2025-01"))
	assert.ErrorIs(t, err, ledger.ErrAlreadyAccrued)
}

func TestNew_Memory(t *testing.T) {
	cfg := testConfig(t, "memory", "")

	a, err := New(t.Context(), cfg, nil)

	require.NoError(t, err)
	assert.Empty(t, a.Health)
	assert.NoError(t, a.Close())
}

func TestNew_BadDriverFails(t *testing.T) {
	cfg := testConfig(t, "oracle", "x")

	_, err := New(t.Context(), cfg, nil)

	assert.Error(t, err)
}

func TestNew_PolicyFromConfig(t *testing.T) {
	cfg := testConfig(t, "memory", "")
	cfg.Billing.OverpaymentPolicy = string(billing.OverpaymentCredit)
	cfg.Billing.DueDay = 5

	a, err := New(t.Context(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, billing.OverpaymentCredit, a.Service.Policy.Overpayment)
	assert.Equal(t, 5, a.Service.Policy.DueDay)
}
