/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tenant ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, then LEDGER_* environment)
  2. Build the zap logger
  3. Open the store and tenant lock, restore receivables
  4. Configure HTTP router
  5. Start the accrual scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file (default: search ./ledger.toml,
           /etc/tenant-ledger/ledger.toml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a run in progress)
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close database and Redis connections
  5. Exit

EXAMPLES:
  # Run with defaults (SQLite file ledger.db)
  ./server

  # Postgres with the Redis lock
  LEDGER_DATABASE_DRIVER=postgres \
  LEDGER_DATABASE_DSN="postgres://ledger@localhost/ledger?sslmode=disable" \
  LEDGER_REDIS_ENABLED=true ./server

SEE ALSO:
  - config/config.go: All settings and defaults
  - app/app.go: Store and service wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/tenant-ledger/api"
	"github.com/warp/tenant-ledger/app"
	"github.com/warp/tenant-ledger/config"
	"github.com/warp/tenant-ledger/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	handler := api.NewHandler(application.Service, log)
	for name, p := range application.Health {
		handler.Health[name] = p
	}
	router := api.NewRouter(handler, api.RouterOptions{
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		MaxBodySize:      cfg.HTTP.MaxBodySize,
	})

	if cfg.Scheduler.Enabled {
		scheduler := api.NewAccrualScheduler(application.Service, log)
		scheduler.Interval = cfg.Scheduler.Interval
		scheduler.JobTimeout = cfg.Scheduler.JobTimeout
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("database", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
