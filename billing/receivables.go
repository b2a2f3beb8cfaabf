package billing

import (
	"context"
	"errors"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// Receivables resolves tenant receivables against persisted state.
//
// The chart only knows the tenants this process has seen. Another process
// sharing the same stores may have registered a lease or posted an accrual,
// so a miss in the chart is checked against the lease store and the ledger
// before it becomes ErrNoReceivableAccount. Hits are opened in the chart;
// misses are never cached.
type Receivables struct {
	Chart  *accounts.Chart
	Leases LeaseStore
	Ledger *ledger.Ledger
}

// Resolve returns tenant's receivable account.
func (r *Receivables) Resolve(ctx context.Context, tenant ledger.TenantID) (accounts.Account, error) {
	a, err := r.Chart.Resolve(accounts.TenantReceivable(tenant))
	if !errors.Is(err, ledger.ErrNoReceivableAccount) || tenant == "" {
		return a, err
	}
	known, lerr := r.persisted(ctx, tenant)
	if lerr != nil {
		return accounts.Account{}, lerr
	}
	if !known {
		return accounts.Account{}, err
	}
	return r.Chart.OpenReceivable(tenant)
}

// persisted reports whether tenant has a lease or a posted accrual.
func (r *Receivables) persisted(ctx context.Context, tenant ledger.TenantID) (bool, error) {
	if r.Leases != nil {
		leases, err := r.Leases.LeasesByTenant(ctx, tenant)
		if err != nil {
			return false, err
		}
		if len(leases) > 0 {
			return true, nil
		}
	}
	if r.Ledger == nil {
		return false, nil
	}
	accruals, err := r.Ledger.Find(ctx, ledger.Query{TenantID: tenant, Sources: []ledger.Source{ledger.SourceAccrual}})
	if err != nil {
		return false, err
	}
	return len(accruals) > 0, nil
}

// resolveReceivable uses r when set, the chart alone otherwise.
func resolveReceivable(ctx context.Context, r *Receivables, chart *accounts.Chart, tenant ledger.TenantID) (accounts.Account, error) {
	if r != nil {
		return r.Resolve(ctx, tenant)
	}
	return chart.Resolve(accounts.TenantReceivable(tenant))
}
