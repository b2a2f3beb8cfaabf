// Package commands implements ledgerctl, the operator CLI. Every command
// runs against the same store and policy as the server, loaded from the
// same configuration.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/tenant-ledger/app"
	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/config"
	"github.com/warp/tenant-ledger/logger"
)

// Set via ldflags during build.
var (
	Version = "dev"
	Commit  = "none"
)

// Options customizes how commands reach the ledger.
type Options struct {
	// Open builds the application for one command run. Defaults to loading
	// the config file and calling app.New.
	Open func(ctx context.Context, configPath string) (*app.App, error)
	// Now is used for default dates.
	Now func() time.Time
}

type runtime struct {
	opts       Options
	configPath string
	app        *app.App
}

func (r *runtime) service() *billing.Service { return r.app.Service }

func (r *runtime) today() time.Time {
	t := r.opts.Now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Open == nil {
		opts.Open = openFromConfig
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rt := &runtime{opts: opts}

	rootCmd := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Operate the tenant ledger: leases, accruals, payments and reports",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.opts.Open(cmd.Context(), rt.configPath)
			if err != nil {
				return err
			}
			rt.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if rt.app == nil {
				return nil
			}
			return rt.app.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "path to config file")

	rootCmd.AddCommand(
		newLeaseCommand(rt),
		newAccrueCommand(rt),
		newPayCommand(rt),
		newReverseCommand(rt),
		newNoShowCommand(rt),
		newObligationsCommand(rt),
		newAgingCommand(rt),
		newTrialBalanceCommand(rt),
		newScenarioCommand(rt),
	)
	return rootCmd
}

// openFromConfig logs to stderr so command output stays parseable.
func openFromConfig(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

// dayFlag parses s, or returns def when s is empty.
func dayFlag(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return parseDay(s)
}
