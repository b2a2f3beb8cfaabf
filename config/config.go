package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/tenant-ledger/billing"
	"github.com/warp/tenant-ledger/ledger"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	HTTP      HTTPConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig selects the ledger store.
type DatabaseConfig struct {
	Driver       string // sqlite, postgres or memory
	DSN          string // file path for sqlite, connection URL for postgres
	MaxOpenConns int
}

// RedisConfig holds the distributed tenant lock settings. When disabled,
// tenant writes are serialized in-process only.
type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// BillingConfig holds allocation and aging policy.
type BillingConfig struct {
	DueDay            int
	OverpaymentPolicy string   // prepay or credit
	ComponentOrder    []string // e.g. rent, admin_fee, deposit
	LockTimeout       time.Duration
}

// SchedulerConfig holds the accrual scheduler settings
type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	JobTimeout time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

// Load loads configuration from a TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGER_ prefix (e.g., LEDGER_DATABASE_DRIVER)
// 2. The file at path, or ledger.toml in . or /etc/tenant-ledger
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tenant-ledger")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:       v.GetString("database.driver"),
			DSN:          v.GetString("database.dsn"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
			LockTTL:   v.GetDuration("redis.lock_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Billing: BillingConfig{
			DueDay:            v.GetInt("billing.due_day"),
			OverpaymentPolicy: v.GetString("billing.overpayment_policy"),
			ComponentOrder:    v.GetStringSlice("billing.component_order"),
			LockTimeout:       v.GetDuration("billing.lock_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:    v.GetBool("scheduler.enabled"),
			Interval:   v.GetDuration("scheduler.interval"),
			JobTimeout: v.GetDuration("scheduler.job_timeout"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "tenant-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "ledger.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "ledger:lock:"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Billing.DueDay == 0 {
		cfg.Billing.DueDay = 1
	}
	if cfg.Billing.OverpaymentPolicy == "" {
		cfg.Billing.OverpaymentPolicy = string(billing.OverpaymentPrepay)
	}
	if len(cfg.Billing.ComponentOrder) == 0 {
		for _, c := range ledger.DefaultComponentOrder {
			cfg.Billing.ComponentOrder = append(cfg.Billing.ComponentOrder, string(c))
		}
	}
	if cfg.Billing.LockTimeout == 0 {
		cfg.Billing.LockTimeout = 10 * time.Second
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Hour
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 5 * time.Minute
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	// CORS origins have no default; cross-origin requests stay blocked until configured.
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Billing.DueDay < 1 || c.Billing.DueDay > 28 {
		return fmt.Errorf("billing.due_day must be between 1 and 28, got %d", c.Billing.DueDay)
	}
	if !billing.OverpaymentPolicy(c.Billing.OverpaymentPolicy).IsValid() {
		return fmt.Errorf("billing.overpayment_policy must be prepay or credit, got %q", c.Billing.OverpaymentPolicy)
	}
	seen := make(map[string]bool)
	for _, comp := range c.Billing.ComponentOrder {
		if seen[comp] {
			return fmt.Errorf("billing.component_order lists %q twice", comp)
		}
		seen[comp] = true
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1s, got %s", c.Scheduler.Interval)
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "memory" {
			return fmt.Errorf("database.driver=memory is not allowed in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}
	return nil
}

// Policy converts the billing section into an allocation policy.
func (b BillingConfig) Policy() billing.Policy {
	p := billing.Policy{
		Overpayment: billing.OverpaymentPolicy(b.OverpaymentPolicy),
		DueDay:      b.DueDay,
	}
	for _, c := range b.ComponentOrder {
		p.ComponentOrder = append(p.ComponentOrder, ledger.Component(c))
	}
	return p
}

// IsProduction reports whether the app runs with production safeguards.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}
