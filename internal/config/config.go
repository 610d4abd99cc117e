// Package config loads savingsd configuration from a YAML file overlaid by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/savings_layer/internal/ledger"
	"github.com/R3E-Network/savings_layer/pkg/logger"
)

// DefaultPath is read when no path is given and SAVINGS_CONFIG is unset.
const DefaultPath = "config/savings.yaml"

// MinJWTSecretLen is the shortest accepted HS256 secret.
const MinJWTSecretLen = 32

// Config is the full daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Treasury  TreasuryConfig  `yaml:"treasury"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// CORSOrigins is a ';'-separated list when set from the environment.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger converts the section into the logger package's config.
func (l LoggingConfig) Logger(component string) logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePrefix: l.FilePrefix,
		Component:  component,
	}
}

// DatabaseConfig selects the ledger store. An empty DSN uses the in-memory
// store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig enables the Redis idempotency cache when Addr is set.
type RedisConfig struct {
	Addr           string        `yaml:"addr" env:"REDIS_ADDR"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB"`
	KeyPrefix      string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

// TreasuryConfig holds treasury defaults and the gauge refresh schedule.
type TreasuryConfig struct {
	DefaultTvlCap  uint64 `yaml:"default_tvl_cap" env:"TREASURY_DEFAULT_TVL_CAP"`
	ReportSchedule string `yaml:"report_schedule" env:"TREASURY_REPORT_SCHEDULE"`
}

// RateLimitConfig configures the per-caller limiter. Zero rps disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"RATE_LIMIT_IDLE_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{KeyPrefix: "savings:idem:", IdempotencyTTL: 24 * time.Hour},
		Treasury: TreasuryConfig{
			DefaultTvlCap:  ledger.DefaultTvlCap,
			ReportSchedule: "@every 1m",
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40, IdleTimeout: 10 * time.Minute},
	}
}

// Load reads the file named by SAVINGS_CONFIG, or DefaultPath.
func Load() (*Config, error) {
	path := os.Getenv("SAVINGS_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFromPath(path)
}

// LoadFromPath starts from Default, applies the YAML file at path if it
// exists, then environment overrides, then validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", c.Logging.Format)
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	if c.Treasury.ReportSchedule != "" {
		if _, err := cron.ParseStandard(c.Treasury.ReportSchedule); err != nil {
			return fmt.Errorf("treasury.report_schedule: %w", err)
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return errors.New("rate_limit.requests_per_second must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.burst must be positive when rate limiting is enabled")
	}
	return nil
}
