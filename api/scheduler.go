/*
scheduler.go - Automated monthly accrual scheduler

PURPOSE:
  Periodically posts the current month's accruals for every tenant with an
  active lease, and catches up months that were missed while the server
  was down.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Calls AccrueThrough per tenant, which skips months already accrued,
    so repeated runs within a month post nothing
  - A failure for one tenant is logged and does not stop the others

CONFIGURATION:
  - Interval:   How often to check (default: 1 hour)
  - JobTimeout: Upper bound on a single run (default: 5 minutes)

USAGE:
  scheduler := NewAccrualScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Accrue endpoint (manual accrual)
  - billing/service.go: AccrueThrough
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// AccrualScheduler posts monthly accruals in the background.
type AccrualScheduler struct {
	Service    *billing.Service
	Logger     *zap.Logger
	Interval   time.Duration
	JobTimeout time.Duration
	Now        func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// RunResult summarizes one scheduler pass.
type RunResult struct {
	Month   ledger.Month
	Tenants int
	Posted  int
	Failed  int
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(svc *billing.Service, log *zap.Logger) *AccrualScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccrualScheduler{
		Service:    svc,
		Logger:     log.Named("scheduler"),
		Interval:   time.Hour,
		JobTimeout: 5 * time.Minute,
		Now:        time.Now,
	}
}

// Start begins the scheduler. Calling Start on a running scheduler is a no-op.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("scheduler stopped")
}

func (s *AccrualScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.runWithTimeout(ctx)
	for {
		select {
		case <-ticker.C:
			s.runWithTimeout(ctx)
		case <-stop:
			return
		}
	}
}

func (s *AccrualScheduler) runWithTimeout(ctx context.Context) {
	if s.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.JobTimeout)
		defer cancel()
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.Logger.Error("accrual run failed", zap.Error(err))
	}
}

// RunOnce accrues every tenant with a lease active this month, through
// this month. It returns an error only when leases cannot be listed.
func (s *AccrualScheduler) RunOnce(ctx context.Context) (RunResult, error) {
	month := ledger.MonthOf(s.Now())
	res := RunResult{Month: month}

	leases, err := s.Service.ActiveLeases(ctx, month)
	if err != nil {
		return res, err
	}

	seen := make(map[ledger.TenantID]bool)
	for _, lease := range leases {
		if seen[lease.TenantID] {
			continue
		}
		seen[lease.TenantID] = true
		res.Tenants++

		posted, err := s.Service.AccrueThrough(ctx, lease.TenantID, month)
		res.Posted += len(posted)
		if err != nil {
			res.Failed++
			s.Logger.Warn("tenant accrual failed",
				zap.String("tenant_id", string(lease.TenantID)),
				zap.Stringer("month", month),
				zap.String("code", ledger.Code(err)),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
		}
	}

	if res.Posted > 0 || res.Failed > 0 {
		s.Logger.Info("accrual run completed",
			zap.Stringer("month", month),
			zap.Int("tenants", res.Tenants),
			zap.Int("posted", res.Posted),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}
