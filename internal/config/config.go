// Package config provides configuration management for the platform.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One shared pgxpool serves the kernel, River, and the API layer.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	RelayInterval               time.Duration `mapstructure:"relay_interval"`
	RelayBatchSize              int           `mapstructure:"relay_batch_size"`
}

// GovernorChannelConfig holds the transaction resource ceilings for one
// execution channel.
type GovernorChannelConfig struct {
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	IdleTxTimeout    time.Duration `mapstructure:"idle_tx_timeout"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
}

// GovernorConfig contains per-channel transaction limits.
type GovernorConfig struct {
	Interactive GovernorChannelConfig `mapstructure:"interactive"`
	Background  GovernorChannelConfig `mapstructure:"background"`
	Reporting   GovernorChannelConfig `mapstructure:"reporting"`
}

// RateLimitConfig contains sliding-window admission settings.
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// QuotaConfig contains job enqueue admission settings.
type QuotaConfig struct {
	MaxConcurrent       int `mapstructure:"max_concurrent"`
	MaxEnqueuePerMinute int `mapstructure:"max_enqueue_per_minute"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	DeliverPoolSize int `mapstructure:"deliver_pool_size"`
}

// AuthConfig contains token verification settings for the API layer.
type AuthConfig struct {
	// JWTSigningKey verifies HS256 bearer tokens carrying tenant/user/role
	// claims. Required when the HTTP surface is enabled.
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bizforge")

	// Environment variable override without prefix: standard names like
	// DATABASE_URL, SERVER_PORT, LOG_LEVEL. Nested keys map as
	// database.max_conns → DATABASE_MAX_CONNS.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.max_requests must be positive")
	}
	if c.Quota.MaxConcurrent <= 0 {
		return fmt.Errorf("quota.max_concurrent must be positive")
	}
	if c.Governor.Interactive.StatementTimeout <= 0 {
		return fmt.Errorf("governor.interactive.statement_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bizforge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "bizforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.relay_interval", "5s")
	v.SetDefault("river.relay_batch_size", 100)

	// Governor: tighter for interactive, looser for background/reporting.
	v.SetDefault("governor.interactive.statement_timeout", "5s")
	v.SetDefault("governor.interactive.idle_tx_timeout", "10s")
	v.SetDefault("governor.interactive.lock_timeout", "2s")
	v.SetDefault("governor.background.statement_timeout", "60s")
	v.SetDefault("governor.background.idle_tx_timeout", "120s")
	v.SetDefault("governor.background.lock_timeout", "10s")
	v.SetDefault("governor.reporting.statement_timeout", "300s")
	v.SetDefault("governor.reporting.idle_tx_timeout", "300s")
	v.SetDefault("governor.reporting.lock_timeout", "5s")

	// Rate limiter / job quota
	v.SetDefault("ratelimit.max_requests", 120)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("quota.max_concurrent", 10)
	v.SetDefault("quota.max_enqueue_per_minute", 60)

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.deliver_pool_size", 50)
}
