package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

var validSecret = strings.Repeat("ab", 32)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_SECRET_KEY", validSecret)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.ReplayWindow)
	assert.Equal(t, 30*time.Second, cfg.MaxClockSkew)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "ledger", cfg.RedisPrefix)
	assert.Equal(t, 1024, cfg.AuditBuffer)
	assert.Equal(t, 50.0, cfg.RateLimit)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, "@every 1m", cfg.HousekeepingSchedule)

	secret, err := cfg.Secret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)
	assert.NotContains(t, cfg.LogFields(), "secret_key")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "LEDGER_SECRET_KEY=" + validSecret + "\nLEDGER_STORE_BACKEND=Redis\nLEDGER_REDIS_URL=redis://localhost:6379/0\nLEDGER_REPLAY_WINDOW=2h\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	for _, key := range []string{"LEDGER_SECRET_KEY", "LEDGER_STORE_BACKEND", "LEDGER_REDIS_URL", "LEDGER_REPLAY_WINDOW"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		for _, key := range []string{"LEDGER_SECRET_KEY", "LEDGER_STORE_BACKEND", "LEDGER_REDIS_URL", "LEDGER_REPLAY_WINDOW"} {
			_ = os.Unsetenv(key)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 2*time.Hour, cfg.ReplayWindow)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("LEDGER_SECRET_KEY", validSecret)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("LEDGER_SECRET_KEY", "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			SecretKeyHex:    validSecret,
			ReplayWindow:    time.Hour,
			MaxClockSkew:    time.Second,
			StoreBackend:    BackendMemory,
			BreakerFailures: 1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"secret not hex", func(c *Config) { c.SecretKeyHex = "zz" }, false},
		{"secret too short", func(c *Config) { c.SecretKeyHex = "abcd" }, false},
		{"zero window", func(c *Config) { c.ReplayWindow = 0 }, false},
		{"skew beyond window", func(c *Config) { c.MaxClockSkew = 2 * time.Hour }, false},
		{"redis without url", func(c *Config) { c.StoreBackend = BackendRedis }, false},
		{"redis with url", func(c *Config) { c.StoreBackend = BackendRedis; c.RedisURL = "redis://x" }, true},
		{"unknown backend", func(c *Config) { c.StoreBackend = "etcd" }, false},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, false},
		{"no breaker failures", func(c *Config) { c.BreakerFailures = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadPolicy_DefaultsAndOverrides(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  award: {min: 5, max: 500}
fraud:
  threshold: 0.5
  velocity:
    window: 2m
    max_count: 3
`), 0o600))

	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Limits[ledger.KindAward].Min)
	assert.Equal(t, int64(500), p.Limits[ledger.KindAward].Max)
	assert.Equal(t, int64(1_000_000), p.Limits[ledger.KindTransfer].Max, "unlisted kinds keep defaults")
	assert.Equal(t, 0.5, p.Fraud.Threshold)
	assert.Equal(t, 2*time.Minute, p.Fraud.Velocity.Window)
	assert.Equal(t, 3, p.Fraud.Velocity.MaxCount)
	assert.Equal(t, 0.3, p.Fraud.Velocity.Weight, "unlisted fields keep defaults")
	assert.Equal(t, int64(500_000), p.Fraud.LargeAmount.Threshold)
}

func TestLoadPolicy_Invalid(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	_, err := LoadPolicy(write("bad-bounds.yaml", "limits:\n  spend: {min: 10, max: 5}\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(write("bad-kind.yaml", "limits:\n  gift: {min: 1, max: 5}\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(write("bad-weight.yaml", "fraud:\n  large_amount: {weight: -1}\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(write("bad-yaml.yaml", "limits: [\n"))
	assert.Error(t, err)

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	// The defaults map is never mutated by loading.
	assert.Equal(t, int64(1), DefaultPolicy().Limits[ledger.KindSpend].Min)
}
