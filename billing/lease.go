package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/tenant-ledger/ledger"
)

// =============================================================================
// LEASE - What the Accrual Poster bills
// =============================================================================

// Lease is a tenant's occupancy agreement. Rent accrues monthly over
// [LeaseStart, LeaseEnd]; the admin fee and deposit accrue once, in the
// month containing LeaseStart.
type Lease struct {
	ID            string          `json:"id"`
	TenantID      ledger.TenantID `json:"tenantId"`
	ResidenceID   string          `json:"residenceId"`
	RoomRate      decimal.Decimal `json:"roomRate"`
	AdminFee      decimal.Decimal `json:"adminFee"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	LeaseStart    time.Time       `json:"leaseStart"`
	LeaseEnd      time.Time       `json:"leaseEnd"`
}

// Validate rejects leases the poster cannot bill.
func (l Lease) Validate() error {
	switch {
	case l.ID == "":
		return fmt.Errorf("%w: missing lease id", ledger.ErrInvalidLease)
	case l.TenantID == "":
		return fmt.Errorf("%w: lease %s has no tenant", ledger.ErrInvalidLease, l.ID)
	case l.LeaseStart.IsZero() || l.LeaseEnd.IsZero():
		return fmt.Errorf("%w: lease %s needs start and end dates", ledger.ErrInvalidLease, l.ID)
	case ledger.Day(l.LeaseEnd).Before(ledger.Day(l.LeaseStart)):
		return fmt.Errorf("%w: lease %s ends before it starts", ledger.ErrInvalidLease, l.ID)
	}
	for name, amount := range map[string]decimal.Decimal{
		"room rate": l.RoomRate,
		"admin fee": l.AdminFee,
		"deposit":   l.DepositAmount,
	} {
		if amount.IsNegative() || !ledger.IsCents(amount) {
			return fmt.Errorf("%w: lease %s %s %s", ledger.ErrInvalidLease, l.ID, name, amount)
		}
	}
	return nil
}

// Period is the lease term as a closed day range.
func (l Lease) Period() ledger.Period {
	return ledger.Period{Start: l.LeaseStart, End: l.LeaseEnd}
}

func (l Lease) FirstMonth() ledger.Month { return ledger.MonthOf(l.LeaseStart) }
func (l Lease) LastMonth() ledger.Month  { return ledger.MonthOf(l.LeaseEnd) }

// Covers reports whether any day of m falls inside the lease.
func (l Lease) Covers(m ledger.Month) bool {
	_, ok := l.Period().Overlap(m.Period())
	return ok
}

// CoveredDays returns how many days of m the lease covers.
func (l Lease) CoveredDays(m ledger.Month) int {
	overlap, ok := l.Period().Overlap(m.Period())
	if !ok {
		return 0
	}
	return overlap.Days()
}

// Months returns every month the lease touches.
func (l Lease) Months() []ledger.Month {
	return ledger.MonthsBetween(l.FirstMonth(), l.LastMonth())
}

// IsActive reports whether the lease covers day t.
func (l Lease) IsActive(t time.Time) bool {
	return l.Period().Contains(t)
}

// =============================================================================
// LEASE STORE
// =============================================================================

// LeaseStore persists leases. Leases are reference data owned by the
// residence-management layer; the ledger core only reads them.
type LeaseStore interface {
	SaveLease(ctx context.Context, lease Lease) error
	GetLease(ctx context.Context, id string) (Lease, error)
	LeasesByTenant(ctx context.Context, tenant ledger.TenantID) ([]Lease, error)
	ListLeases(ctx context.Context) ([]Lease, error)
}

// MemoryLeases is an in-memory LeaseStore.
type MemoryLeases struct {
	mu     sync.RWMutex
	leases map[string]Lease
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{leases: make(map[string]Lease)}
}

func (m *MemoryLeases) SaveLease(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[lease.ID] = lease
	return nil
}

func (m *MemoryLeases) GetLease(_ context.Context, id string) (Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[id]
	if !ok {
		return Lease{}, fmt.Errorf("lease %s: %w", id, ledger.ErrNotFound)
	}
	return l, nil
}

func (m *MemoryLeases) LeasesByTenant(_ context.Context, tenant ledger.TenantID) ([]Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []Lease
	for _, l := range m.leases {
		if l.TenantID == tenant {
			result = append(result, l)
		}
	}
	SortLeases(result)
	return result, nil
}

func (m *MemoryLeases) ListLeases(_ context.Context) ([]Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Lease, 0, len(m.leases))
	for _, l := range m.leases {
		result = append(result, l)
	}
	SortLeases(result)
	return result, nil
}

// SortLeases orders leases by start date, then id.
func SortLeases(leases []Lease) {
	sort.Slice(leases, func(i, j int) bool {
		if !leases[i].LeaseStart.Equal(leases[j].LeaseStart) {
			return leases[i].LeaseStart.Before(leases[j].LeaseStart)
		}
		return leases[i].ID < leases[j].ID
	})
}
