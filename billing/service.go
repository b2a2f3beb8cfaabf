/*
service.go - Facade over the ledger core

PURPOSE:
  Service is the single entry point adapters (HTTP, CLI, scheduler) use.
  It wires the Poster, Allocator, Deriver, Reporter and ReversalEngine over
  one Ledger, one Chart and one LeaseStore, and takes the tenant lock
  around every write that reads tenant state first.

OPERATIONS:
  Writes:  RegisterLease, PostAccrual, AccrueThrough, AllocatePayment,
           ReverseTransaction, HandleNoShow, RecordExpense, PostManual
  Reads:   GetLease, GetTransaction, GetObligations, GetAging,
           GetTrialBalance, GetIncomeStatement, GetCashFlow, GetStatement,
           ActiveLeases, Accounts
  Startup: Restore

DEPENDENCIES:
  Nothing here opens a connection. Store, LeaseStore and Locker are
  injected so the same Service runs on memory, SQLite, or PostgreSQL with
  either an in-process or a Redis lock.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/accounts"
	"github.com/warp/tenant-ledger/ledger"
)

// Options configures NewService. Zero fields get in-memory / default values
// except Store, which is required.
type Options struct {
	Store  ledger.Store
	Leases LeaseStore
	Chart  *accounts.Chart
	Locker Locker
	Policy *Policy
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() ledger.TransactionID
}

type Service struct {
	Ledger      *ledger.Ledger
	Chart       *accounts.Chart
	Receivables *Receivables
	Leases      LeaseStore
	Locker      Locker
	Policy      Policy
	Poster      *Poster
	Allocator   *Allocator
	Deriver     *Deriver
	Reporter    *Reporter
	Reversals   *ReversalEngine

	logger *zap.Logger
	now    func() time.Time
	newID  func() ledger.TransactionID
}

// NewUUID generates transaction ids.
func NewUUID() ledger.TransactionID {
	return ledger.TransactionID(uuid.NewString())
}

func NewService(opts Options) *Service {
	if opts.Leases == nil {
		opts.Leases = NewMemoryLeases()
	}
	if opts.Chart == nil {
		opts.Chart = accounts.NewChart()
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewUUID
	}

	l := ledger.New(opts.Store)
	l.Now = opts.Now
	receivables := &Receivables{Chart: opts.Chart, Leases: opts.Leases, Ledger: l}
	deriver := &Deriver{Ledger: l, Chart: opts.Chart, Receivables: receivables, Policy: policy}

	return &Service{
		Ledger:      l,
		Chart:       opts.Chart,
		Receivables: receivables,
		Leases:      opts.Leases,
		Locker:      opts.Locker,
		Policy:      policy,
		Poster: &Poster{
			Ledger: l, Chart: opts.Chart, NewID: opts.NewID,
			Logger: opts.Logger.Named("accrual"),
		},
		Allocator: &Allocator{
			Ledger: l, Chart: opts.Chart, Deriver: deriver, Leases: opts.Leases,
			Locker: opts.Locker, Policy: policy, NewID: opts.NewID,
			Logger: opts.Logger.Named("allocation"),
		},
		Deriver:  deriver,
		Reporter: &Reporter{Ledger: l, Chart: opts.Chart, Receivables: receivables},
		Reversals: &ReversalEngine{
			Ledger: l, NewID: opts.NewID, Now: opts.Now,
			Logger: opts.Logger.Named("reversal"),
		},
		logger: opts.Logger,
		now:    opts.Now,
		newID:  opts.NewID,
	}
}

// =============================================================================
// LEASES
// =============================================================================

// RegisterLease saves lease and opens the tenant's receivable.
func (s *Service) RegisterLease(ctx context.Context, lease Lease) (Lease, error) {
	if err := lease.Validate(); err != nil {
		return Lease{}, err
	}
	if _, err := s.Chart.OpenReceivable(lease.TenantID); err != nil {
		return Lease{}, err
	}
	if err := s.Leases.SaveLease(ctx, lease); err != nil {
		return Lease{}, err
	}
	s.logger.Info("lease registered",
		zap.String("lease_id", lease.ID),
		zap.String("tenant_id", string(lease.TenantID)),
		zap.Stringer("period", lease.Period()),
	)
	return lease, nil
}

func (s *Service) GetLease(ctx context.Context, id string) (Lease, error) {
	return s.Leases.GetLease(ctx, id)
}

// ActiveLeases returns every lease covering at least one day of month.
func (s *Service) ActiveLeases(ctx context.Context, month ledger.Month) ([]Lease, error) {
	all, err := s.Leases.ListLeases(ctx)
	if err != nil {
		return nil, err
	}
	var active []Lease
	for _, l := range all {
		if l.Covers(month) {
			active = append(active, l)
		}
	}
	return active, nil
}

// =============================================================================
// ACCRUALS
// =============================================================================

// PostAccrual accrues month for the tenant's lease covering it. When the
// tenant holds several covering leases the first one not yet accrued is
// billed; when all are accrued the AlreadyAccruedError of the first is
// returned.
func (s *Service) PostAccrual(ctx context.Context, tenant ledger.TenantID, month ledger.Month) (ledger.Transaction, error) {
	if month.IsZero() {
		return ledger.Transaction{}, fmt.Errorf("%w: missing month", ledger.ErrInvalidMonth)
	}
	unlock, err := s.Locker.Lock(ctx, TenantLockKey(tenant))
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer unlock()

	leases, err := s.Leases.LeasesByTenant(ctx, tenant)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var firstErr error
	for _, lease := range leases {
		if !lease.Covers(month) {
			continue
		}
		tx, err := s.Poster.Post(ctx, lease, month)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ledger.ErrAlreadyAccrued) {
			return ledger.Transaction{}, s.rejected("accrual rejected", err, zap.String("tenant_id", string(tenant)), zap.Stringer("month", month))
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return ledger.Transaction{}, s.rejected("accrual rejected", firstErr, zap.String("tenant_id", string(tenant)), zap.Stringer("month", month))
	}
	return ledger.Transaction{}, fmt.Errorf("%w: tenant %s has no lease covering %s", ledger.ErrInvalidLease, tenant, month)
}

// PostLeaseAccrual accrues one specific lease for month.
func (s *Service) PostLeaseAccrual(ctx context.Context, leaseID string, month ledger.Month) (ledger.Transaction, error) {
	lease, err := s.Leases.GetLease(ctx, leaseID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	unlock, err := s.Locker.Lock(ctx, TenantLockKey(lease.TenantID))
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer unlock()
	return s.Poster.Post(ctx, lease, month)
}

// AccrueThrough catches the tenant up: every lease month from lease start
// through month that has no accrual yet is posted, oldest first.
func (s *Service) AccrueThrough(ctx context.Context, tenant ledger.TenantID, month ledger.Month) ([]ledger.Transaction, error) {
	unlock, err := s.Locker.Lock(ctx, TenantLockKey(tenant))
	if err != nil {
		return nil, err
	}
	defer unlock()

	leases, err := s.Leases.LeasesByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var posted []ledger.Transaction
	for _, lease := range leases {
		for _, m := range lease.Months() {
			if m.After(month) {
				break
			}
			done, err := s.Poster.Accrued(ctx, lease, m)
			if err != nil {
				return posted, err
			}
			if done {
				continue
			}
			tx, err := s.Poster.Post(ctx, lease, m)
			if errors.Is(err, ledger.ErrAlreadyAccrued) {
				continue
			}
			if err != nil {
				return posted, err
			}
			posted = append(posted, tx)
		}
	}
	return posted, nil
}

// =============================================================================
// PAYMENTS / REVERSALS
// =============================================================================

// AllocatePayment splits req over the tenant's obligations and posts the
// slices atomically.
func (s *Service) AllocatePayment(ctx context.Context, req PaymentRequest) ([]ledger.Transaction, error) {
	txs, err := s.Allocator.Allocate(ctx, req)
	if err != nil {
		return nil, s.rejected("payment rejected", err,
			zap.String("tenant_id", string(req.TenantID)), zap.String("amount", req.Amount.String()))
	}
	return txs, nil
}

// ReverseTransaction reverses id under the lock of the tenant it belongs to.
func (s *Service) ReverseTransaction(ctx context.Context, id ledger.TransactionID, reason string) (ledger.Transaction, error) {
	orig, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tenant := orig.Metadata.TenantID; tenant != "" {
		unlock, err := s.Locker.Lock(ctx, TenantLockKey(tenant))
		if err != nil {
			return ledger.Transaction{}, err
		}
		defer unlock()
	}
	rev, err := s.Reversals.Reverse(ctx, id, reason)
	if err != nil {
		return ledger.Transaction{}, s.rejected("reversal rejected", err, zap.String("tx_id", string(id)))
	}
	return rev, nil
}

// HandleNoShow reverses every live accrual of the lease: the tenant never
// took the room, so nothing billed under it stands.
func (s *Service) HandleNoShow(ctx context.Context, leaseID, reason string) ([]ledger.Transaction, error) {
	lease, err := s.Leases.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "no-show"
	}
	unlock, err := s.Locker.Lock(ctx, TenantLockKey(lease.TenantID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.Reversals.ReverseAccruals(ctx, AccrualTarget{TenantID: lease.TenantID, LeaseID: lease.ID}, reason)
}

// =============================================================================
// EXPENSES / MANUAL ENTRIES
// =============================================================================

// ExpenseRequest is money paid out for running the residence.
type ExpenseRequest struct {
	Category    string
	Amount      decimal.Decimal
	Date        time.Time
	Method      accounts.PaymentMethod
	Description string
	Reference   string
	// IdempotencyKey deduplicates retries; optional.
	IdempotencyKey string
	CreatedBy      string
}

// RecordExpense posts debit expense category / credit the paying account.
func (s *Service) RecordExpense(ctx context.Context, req ExpenseRequest) (ledger.Transaction, error) {
	if !req.Amount.IsPositive() || !ledger.IsCents(req.Amount) {
		return ledger.Transaction{}, fmt.Errorf("%w: expense amount %s", ledger.ErrInvalidAmount, req.Amount)
	}
	if req.Date.IsZero() {
		return ledger.Transaction{}, fmt.Errorf("%w: missing expense date", ledger.ErrInvalidAmount)
	}
	cashRef, err := accounts.CashAccountFor(req.Method)
	if err != nil {
		return ledger.Transaction{}, err
	}
	debit, err := s.Chart.Debit(accounts.ExpenseCategory(req.Category), req.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	credit, err := s.Chart.Credit(cashRef, req.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	desc := req.Description
	if desc == "" {
		desc = "Expense: " + req.Category
	}
	tx, err := s.Ledger.Post(ctx, ledger.Transaction{
		ID:          s.newID(),
		Date:        req.Date,
		Description: desc,
		Reference:   req.Reference,
		Source:      ledger.SourceExpensePayment,
		Entries: []ledger.Line{
			debit.WithComponent(ledger.ComponentExpense),
			credit.WithComponent(ledger.ComponentExpense),
		},
		Metadata:       ledger.Metadata{PaymentType: string(req.Method), Category: req.Category},
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		return ledger.Transaction{}, s.rejected("expense rejected", err, zap.String("category", req.Category))
	}
	s.logger.Info("expense recorded",
		zap.String("tx_id", string(tx.ID)),
		zap.String("category", req.Category),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return tx, nil
}

// ManualLine is one leg of a manual journal entry, by account code.
type ManualLine struct {
	AccountCode ledger.AccountCode
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// ManualEntry is an adjusting journal entry typed in by an accountant.
type ManualEntry struct {
	Date           time.Time
	Description    string
	Reference      string
	Lines          []ManualLine
	IdempotencyKey string
	CreatedBy      string
}

// PostManual posts a manual journal entry. Every code must be in the chart.
// Tenant receivables are off limits: obligations only move through
// accruals, payments and reversals.
func (s *Service) PostManual(ctx context.Context, entry ManualEntry) (ledger.Transaction, error) {
	if entry.Date.IsZero() {
		return ledger.Transaction{}, fmt.Errorf("%w: missing entry date", ledger.ErrInvalidLine)
	}
	lines := make([]ledger.Line, 0, len(entry.Lines))
	for _, ml := range entry.Lines {
		if ledger.ParentCode(ml.AccountCode) == accounts.CodeReceivable {
			return ledger.Transaction{}, fmt.Errorf("%w: manual entries cannot post to tenant receivable %s", ledger.ErrInvalidLine, ml.AccountCode)
		}
		a, ok := s.Chart.Lookup(ml.AccountCode)
		if !ok {
			return ledger.Transaction{}, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, ml.AccountCode)
		}
		debit, credit := ml.Debit, ml.Credit
		if debit.IsZero() && credit.IsZero() {
			return ledger.Transaction{}, fmt.Errorf("%w: %s has no amount", ledger.ErrInvalidLine, ml.AccountCode)
		}
		line := ledger.Line{
			AccountCode: a.Code, AccountName: a.Name, AccountType: a.Type,
			Debit: debit, Credit: credit, Description: ml.Description,
		}
		lines = append(lines, line)
	}

	tx, err := s.Ledger.Post(ctx, ledger.Transaction{
		ID:             s.newID(),
		Date:           entry.Date,
		Description:    entry.Description,
		Reference:      entry.Reference,
		Source:         ledger.SourceManual,
		Entries:        lines,
		IdempotencyKey: entry.IdempotencyKey,
		CreatedBy:      entry.CreatedBy,
	})
	if err != nil {
		return ledger.Transaction{}, s.rejected("manual entry rejected", err)
	}
	s.logger.Info("manual entry posted", zap.String("tx_id", string(tx.ID)), zap.String("amount", tx.TotalDebit.StringFixed(2)))
	return tx, nil
}

// =============================================================================
// READS
// =============================================================================

// GetTransaction returns id with its derived status.
func (s *Service) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.Ledger.WithStatus(ctx, tx)
}

func (s *Service) GetObligations(ctx context.Context, tenant ledger.TenantID, asOf time.Time) ([]MonthlyObligation, error) {
	return s.Deriver.Obligations(ctx, tenant, s.asOf(asOf))
}

func (s *Service) GetAging(ctx context.Context, tenant ledger.TenantID, asOf time.Time) (Aging, error) {
	return s.Deriver.Aging(ctx, tenant, s.asOf(asOf))
}

func (s *Service) GetTrialBalance(ctx context.Context, asOf time.Time, basis Basis) (TrialBalance, error) {
	return s.Reporter.TrialBalance(ctx, s.asOf(asOf), basis)
}

func (s *Service) GetIncomeStatement(ctx context.Context, from, to time.Time, basis Basis) (IncomeStatement, error) {
	return s.Reporter.IncomeStatement(ctx, from, s.asOf(to), basis)
}

func (s *Service) GetCashFlow(ctx context.Context, from, to time.Time) (CashFlow, error) {
	return s.Reporter.CashFlow(ctx, from, s.asOf(to))
}

func (s *Service) GetStatement(ctx context.Context, tenant ledger.TenantID, from, to time.Time) (Statement, error) {
	return s.Reporter.Statement(ctx, tenant, from, s.asOf(to))
}

// Accounts lists the top-level chart.
func (s *Service) Accounts() []accounts.Account {
	return s.Chart.All()
}

// =============================================================================
// STARTUP
// =============================================================================

// Restore reopens the receivables of every tenant that has a lease or a
// posted accrual. The chart lives in memory; the ledger and lease store do
// not, so a restarted process calls this before serving.
func (s *Service) Restore(ctx context.Context) (int, error) {
	opened := make(map[ledger.TenantID]bool)
	leases, err := s.Leases.ListLeases(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range leases {
		opened[l.TenantID] = true
	}
	accruals, err := s.Ledger.Find(ctx, ledger.Query{Sources: []ledger.Source{ledger.SourceAccrual}})
	if err != nil {
		return 0, err
	}
	for _, tx := range accruals {
		if tx.Metadata.TenantID != "" {
			opened[tx.Metadata.TenantID] = true
		}
	}
	for tenant := range opened {
		if _, err := s.Chart.OpenReceivable(tenant); err != nil {
			return 0, err
		}
	}
	s.logger.Info("receivables restored", zap.Int("tenants", len(opened)))
	return len(opened), nil
}

// asOf defaults a zero time to now.
func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func (s *Service) rejected(msg string, err error, fields ...zap.Field) error {
	level := s.logger.Warn
	if !ledger.IsValidation(err) && !ledger.IsConflict(err) && !ledger.IsNotFound(err) {
		level = s.logger.Error
	}
	level(msg, append(fields, zap.Error(err), zap.String("code", ledger.Code(err)))...)
	return err
}
