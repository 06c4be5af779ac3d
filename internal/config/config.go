package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration. Values come from an
// optional YAML file overridden by HOUSE_-prefixed environment
// variables, e.g. HOUSE_POSTGRES_URL.
type Config struct {
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	NATS       NATSConfig       `mapstructure:"nats"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Betting    BettingConfig    `mapstructure:"betting"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type PostgresConfig struct {
	URL           string `mapstructure:"url"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type BettingConfig struct {
	Asset         string        `mapstructure:"asset"`
	RoundDuration time.Duration `mapstructure:"round_duration"`
}

type SettlementConfig struct {
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	GraceWindow    time.Duration `mapstructure:"grace_window"`
	MaxSettleDelay time.Duration `mapstructure:"max_settle_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	PriceRetention time.Duration `mapstructure:"price_retention"`
}

type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional file path and the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.url", "postgres://localhost:5432/houseledger?sslmode=disable")
	v.SetDefault("postgres.migrations_dir", "migrations")

	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics_addr", ":9090")

	v.SetDefault("betting.asset", "BTC-USD")
	v.SetDefault("betting.round_duration", "30s")

	v.SetDefault("settlement.scan_interval", "1s")
	v.SetDefault("settlement.grace_window", "15s")
	v.SetDefault("settlement.max_settle_delay", "2m")
	v.SetDefault("settlement.batch_size", 500)
	v.SetDefault("settlement.price_retention", "1h")

	v.SetDefault("reconcile.interval", "1m")
	v.SetDefault("reconcile.max_attempts", 5)
	v.SetDefault("reconcile.base_backoff", "100ms")
	v.SetDefault("reconcile.max_backoff", "30s")

	v.SetDefault("logging.level", "info")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Betting.Asset == "" {
		return fmt.Errorf("betting.asset is required")
	}
	if c.Betting.RoundDuration < time.Second {
		return fmt.Errorf("betting.round_duration must be at least 1s")
	}
	if c.Settlement.ScanInterval < 100*time.Millisecond {
		return fmt.Errorf("settlement.scan_interval must be at least 100ms")
	}
	if c.Settlement.GraceWindow <= 0 {
		return fmt.Errorf("settlement.grace_window must be positive")
	}
	if c.Settlement.MaxSettleDelay < c.Settlement.GraceWindow {
		return fmt.Errorf("settlement.max_settle_delay must not be shorter than the grace window")
	}
	if c.Settlement.BatchSize < 1 {
		return fmt.Errorf("settlement.batch_size must be at least 1")
	}
	if c.Reconcile.Interval < time.Second {
		return fmt.Errorf("reconcile.interval must be at least 1s")
	}
	if c.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("reconcile.max_attempts must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
