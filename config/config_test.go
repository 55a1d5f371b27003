package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/workspace", cfg.Workspace.Root)
	assert.Equal(t, 10, cfg.RateLimit.DefaultRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.DefaultPeriod)
	assert.Equal(t, 75, cfg.Risk.Threshold)
	assert.Equal(t, "audit_log.jsonl", cfg.Audit.FilePath)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.Equal(t, "0.0.0.0:8443", cfg.Server.Address())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKSPACE_ROOT", "/srv/agents")
	t.Setenv("RATE_LIMIT_DEFAULT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_DEFAULT_PERIOD", "30s")
	t.Setenv("RISK_THRESHOLD", "60")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "/srv/agents", cfg.Workspace.Root)
	assert.Equal(t, 5, cfg.RateLimit.DefaultRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.DefaultPeriod)
	assert.Equal(t, 60, cfg.Risk.Threshold)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_REQUESTS", "not-a-number")
	t.Setenv("AUDIT_WRITE_TIMEOUT", "soon")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.RateLimit.DefaultRequests)
	assert.Equal(t, 2*time.Second, cfg.Audit.WriteTimeout)
}

func TestValidate(t *testing.T) {
	t.Run("empty workspace root", func(t *testing.T) {
		t.Setenv("WORKSPACE_ROOT", "")
		cfg, err := New()
		// getEnv falls back to the default on empty, so force it
		require.NoError(t, err)
		cfg.Workspace.Root = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("out of range threshold", func(t *testing.T) {
		cfg, err := New()
		require.NoError(t, err)
		cfg.Risk.Threshold = 150
		assert.Error(t, cfg.Validate())
	})

	t.Run("no audit sink", func(t *testing.T) {
		cfg, err := New()
		require.NoError(t, err)
		cfg.Audit.FilePath = ""
		cfg.Audit.DatabaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("production requires jwt secret", func(t *testing.T) {
		cfg, err := New()
		require.NoError(t, err)
		cfg.Environment = "production"
		cfg.Auth.JWTSecret = ""
		assert.Error(t, cfg.Validate())

		cfg.Auth.JWTSecret = "s3cret"
		assert.NoError(t, cfg.Validate())
	})
}
