package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "localhost", cfg.Storage.Redis.Host)
	assert.Equal(t, 6379, cfg.Storage.Redis.Port)
	assert.Equal(t, "ratelimit:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, domain.DefaultRules(), cfg.RateLimiter.DefaultRules)
	assert.Equal(t, 30*time.Second, cfg.RateLimiter.RulesCacheTTL)
	assert.Equal(t, int64(100), cfg.RateLimiter.SelfProtection[domain.LayerIP].Limit)
	assert.Equal(t, 5*time.Second, cfg.Webhook.DrainInterval)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("RATE_LIMIT_IP_REQUESTS", "0")
	t.Setenv("WEBHOOK_DRAIN_INTERVAL_SECONDS", "2")
	t.Setenv("WEBHOOK_MAX_PER_SECOND", "2.5")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 6380, cfg.Storage.Redis.Port)
	assert.Empty(t, cfg.RateLimiter.SelfProtection)
	assert.Equal(t, 2*time.Second, cfg.Webhook.DrainInterval)
	assert.Equal(t, 2.5, cfg.Webhook.MaxPerSecond)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "throttle.env")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT=9090\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("SERVER_PORT", "")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("SERVER_PORT")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"REDIS_PORT":                     "abc",
		"REDIS_DB":                       "x",
		"RATE_LIMIT_IP_REQUESTS":         "many",
		"RATE_LIMIT_IP_WINDOW_SECONDS":   "0",
		"WEBHOOK_DRAIN_INTERVAL_SECONDS": "-1",
		"METRICS_ENABLED":                "maybe",
		"RULES_FILE":                     "/nonexistent/rules.yaml",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
ip:
  algorithm: sliding_window
  limit: 100
  window: 60000
  burstAllowance: 20
  geoRules:
    BR:
      limit: 50
apiKey:
  algorithm: token_bucket
  capacity: 1000
  refillRate: 16.67
  window: 60000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	ip := rules[domain.LayerIP]
	assert.Equal(t, domain.SlidingWindow, ip.Algorithm)
	assert.Equal(t, int64(20), ip.BurstAllowance)
	require.NotNil(t, ip.GeoRules["BR"].Limit)
	assert.Equal(t, int64(50), *ip.GeoRules["BR"].Limit)
	assert.Equal(t, 16.67, rules[domain.LayerAPIKey].RefillRate)
}

func TestLoadRulesFile_Rejects(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty.yaml":     "",
		"layer.yaml":     "region:\n  limit: 10\n  window: 1000\n",
		"algorithm.yaml": "ip:\n  algorithm: leaky_bucket\n  limit: 10\n  window: 1000\n",
		"syntax.yaml":    "ip: [",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := LoadRulesFile(path)
			assert.Error(t, err)
		})
	}
}
