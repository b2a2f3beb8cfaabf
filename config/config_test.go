package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tenant-ledger", cfg.App.Name)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "ledger.db", cfg.Database.DSN)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1, cfg.Billing.DueDay)
	assert.Equal(t, "prepay", cfg.Billing.OverpaymentPolicy)
	assert.Equal(t, []string{"rent", "admin_fee", "deposit"}, cfg.Billing.ComponentOrder)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Empty(t, cfg.HTTP.CORSAllowOrigins)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: a TOML file and an env override
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
port = "9090"

[database]
driver = "postgres"
dsn = "postgres://ledger@localhost/ledger?sslmode=disable"

[billing]
due_day = 5
overpayment_policy = "credit"
component_order = ["deposit", "rent", "admin_fee"]

[scheduler]
enabled = true
interval = "15m"
`), 0o600))
	t.Setenv("LEDGER_APP_PORT", "7070")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")

	// WHEN
	cfg, err := Load(path)

	// THEN: env wins over file, file wins over defaults
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.App.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Billing.DueDay)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)

	policy := cfg.Billing.Policy()
	assert.Equal(t, billing.OverpaymentCredit, policy.Overpayment)
	assert.Equal(t, []ledger.Component{ledger.ComponentDeposit, ledger.ComponentRent, ledger.ComponentAdminFee}, policy.ComponentOrder)
	assert.Equal(t, 5, policy.DueDay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }, "database.dsn"},
		{"due day too late", func(c *Config) { c.Billing.DueDay = 31 }, "billing.due_day"},
		{"bad overpayment policy", func(c *Config) { c.Billing.OverpaymentPolicy = "refund" }, "overpayment_policy"},
		{"repeated component", func(c *Config) { c.Billing.ComponentOrder = []string{"rent", "rent"} }, "twice"},
		{"scheduler too fast", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Interval = time.Millisecond }, "scheduler.interval"},
		{"memory store in production", func(c *Config) { c.App.Env = "production"; c.Database.Driver = "memory" }, "production"},
		{"wildcard CORS in production", func(c *Config) { c.App.Env = "production"; c.HTTP.CORSAllowOrigins = []string{"*"} }, "cors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
