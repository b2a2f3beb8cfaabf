// Package app assembles a billing.Service from configuration. The HTTP
// server and the operator CLI share it so both see the same store, lock
// and policy.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/config"
	"github.com/warp/tenant-ledger/ledger"
	"github.com/warp/tenant-ledger/ledger/store"
	"github.com/warp/tenant-ledger/store/redislock"
	"github.com/warp/tenant-ledger/store/sqlstore"
)

// Pinger is a dependency /healthz can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App owns the service and the connections behind it.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Service *billing.Service
	// Health lists the external dependencies by name.
	Health map[string]Pinger

	closers []func() error
}

// New opens the configured store and lock, builds the service and restores
// tenant receivables from what is already persisted.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: log, Health: map[string]Pinger{}}

	var (
		ledgerStore ledger.Store
		leases      billing.LeaseStore
	)
	switch cfg.Database.Driver {
	case "memory":
		ledgerStore, leases = store.NewMemory(), billing.NewMemoryLeases()
		log.Warn("using in-memory store, data is lost on exit")
	default:
		s, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
		}
		s.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		a.closers = append(a.closers, s.Close)
		a.Health["database"] = s
		ledgerStore, leases = s, s
		log.Info("store opened", zap.String("driver", cfg.Database.Driver))
	}

	var locker billing.Locker = billing.NewKeyedMutex()
	if cfg.Redis.Enabled {
		rl, err := redislock.New(redislock.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.LockTTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rl.Close)
		a.Health["redis"] = rl
		locker = rl
		log.Info("using redis tenant lock", zap.String("addr", cfg.Redis.Addr))
	}

	policy := cfg.Billing.Policy()
	a.Service = billing.NewService(billing.Options{
		Store:  ledgerStore,
		Leases: leases,
		Locker: billing.WithTimeout(locker, cfg.Billing.LockTimeout),
		Policy: &policy,
		Logger: log,
	})

	if _, err := a.Service.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("restore receivables: %w", err)
	}
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
