// Package config loads ledger daemon settings from the environment and the
// economic policy from YAML.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/points_ledger/internal/ledger/codec"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is decoded from LEDGER_* environment variables.
type Config struct {
	SecretKeyHex string        `env:"LEDGER_SECRET_KEY,required"`
	ReplayWindow time.Duration `env:"LEDGER_REPLAY_WINDOW,default=24h"`
	MaxClockSkew time.Duration `env:"LEDGER_MAX_CLOCK_SKEW,default=30s"`

	StoreBackend string `env:"LEDGER_STORE_BACKEND,default=memory"`
	RedisURL     string `env:"LEDGER_REDIS_URL"`
	RedisPrefix  string `env:"LEDGER_REDIS_PREFIX,default=ledger"`

	BreakerFailures int           `env:"LEDGER_BREAKER_FAILURES,default=5"`
	BreakerTimeout  time.Duration `env:"LEDGER_BREAKER_TIMEOUT,default=10s"`

	DatabaseURL  string        `env:"LEDGER_DATABASE_URL"`
	AuditFile    string        `env:"LEDGER_AUDIT_FILE"`
	AuditBuffer  int           `env:"LEDGER_AUDIT_BUFFER,default=1024"`
	AuditTimeout time.Duration `env:"LEDGER_AUDIT_TIMEOUT,default=5s"`

	PolicyFile string `env:"LEDGER_POLICY_FILE"`

	RateLimit float64 `env:"LEDGER_RATE_LIMIT,default=50"`
	RateBurst int     `env:"LEDGER_RATE_BURST,default=100"`

	MetricsAddr          string `env:"LEDGER_METRICS_ADDR,default=:9102"`
	HousekeepingSchedule string `env:"LEDGER_HOUSEKEEPING_SCHEDULE,default=@every 1m"`

	LogLevel  string `env:"LEDGER_LOG_LEVEL,default=info"`
	LogFormat string `env:"LEDGER_LOG_FORMAT,default=json"`
}

// Load reads envFile (when it exists) into the environment, then decodes and
// validates the configuration. Variables already set take precedence.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if _, err := c.Secret(); err != nil {
		return err
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("LEDGER_REPLAY_WINDOW must be positive, got %s", c.ReplayWindow)
	}
	if c.MaxClockSkew < 0 || c.MaxClockSkew >= c.ReplayWindow {
		return fmt.Errorf("LEDGER_MAX_CLOCK_SKEW must be within [0, replay window), got %s", c.MaxClockSkew)
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("LEDGER_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_STORE_BACKEND %q", c.StoreBackend)
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("rate limit and burst must not be negative")
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("LEDGER_BREAKER_FAILURES must be at least 1, got %d", c.BreakerFailures)
	}
	return nil
}

// Secret decodes the master secret. It is never included in logs.
func (c *Config) Secret() ([]byte, error) {
	secret, err := hex.DecodeString(strings.TrimSpace(c.SecretKeyHex))
	if err != nil {
		return nil, errors.New("LEDGER_SECRET_KEY must be hex encoded")
	}
	if len(secret) < codec.MinSecretSize {
		return nil, fmt.Errorf("LEDGER_SECRET_KEY must decode to at least %d bytes", codec.MinSecretSize)
	}
	return secret, nil
}

// LogFields describes the configuration without secrets or credentials.
func (c *Config) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"replay_window": c.ReplayWindow.String(),
		"store_backend": c.StoreBackend,
		"audit_db":      c.DatabaseURL != "",
		"audit_file":    c.AuditFile,
		"policy_file":   c.PolicyFile,
		"rate_limit":    c.RateLimit,
		"rate_burst":    c.RateBurst,
		"metrics_addr":  c.MetricsAddr,
	}
}
