package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerotrust-labs/agent-gate/config"
	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

const testPolicyYAML = `
version: 1
rules:
  - action: read_file
    allowed: true
    sensitivity_weight: 10
  - action: delete_file
    allowed: true
    sensitivity_weight: 40
    limits:
      requests: 3
      period: 60s
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	policyFile := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte(testPolicyYAML), 0o600))

	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: time.Second,
		},
		Workspace: config.WorkspaceConfig{Root: dir},
		Policy:    config.PolicyConfig{Path: policyFile},
		RateLimit: config.RateLimitConfig{
			DefaultRequests:  10,
			DefaultPeriod:    time.Minute,
			IdleTTL:          15 * time.Minute,
			EvictionInterval: time.Minute,
		},
		Risk: config.RiskConfig{
			Threshold:       75,
			AfterHoursBonus: 0,
			RatePressureMax: 25,
			HistoryMax:      20,
			HistoryWindow:   10 * time.Minute,
			AfterHoursStart: 25,
			AfterHoursEnd:   0,
		},
		Audit: config.AuditConfig{
			FilePath:     filepath.Join(dir, "audit_log.jsonl"),
			WriteTimeout: 2 * time.Second,
			RetryBuffer:  16,
		},
		Auth:        config.AuthConfig{JWTSecret: "test-secret", Issuer: "agent-gate"},
		Environment: "test",
	}
}

func TestNewDependencies(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = deps.Shutdown(time.Second) }()

	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Executor)
	assert.NotNil(t, deps.AuthMiddleware)

	// Initial policy file was installed
	assert.Equal(t, uint64(1), deps.Policies.Current().Version)
}

func TestDependenciesEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = deps.Shutdown(time.Second) }()

	ctx := context.Background()

	t.Run("allowed read is audited", func(t *testing.T) {
		req := models.NewActionRequest("agent1", models.ActionReadFile, map[string]string{
			"path": filepath.Join(cfg.Workspace.Root, "a.txt"),
		})
		dec := deps.Engine.Evaluate(ctx, req)
		assert.Equal(t, models.VerdictAllow, dec.Verdict)

		count, err := deps.Audit.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("policy limit overrides default", func(t *testing.T) {
		var last *models.Decision
		for i := 0; i < 4; i++ {
			req := models.NewActionRequest("agent2", models.ActionDeleteFile, map[string]string{
				"path": filepath.Join(cfg.Workspace.Root, "b.txt"),
			})
			last = deps.Engine.Evaluate(ctx, req)
		}
		require.NotNil(t, last)
		assert.Equal(t, models.ReasonRateLimit, last.ReasonCode)
	})
}

func TestReloadPolicies(t *testing.T) {
	cfg := testConfig(t)
	deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = deps.Shutdown(time.Second) }()

	t.Run("valid reload bumps version", func(t *testing.T) {
		version, err := deps.ReloadPolicies()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), version)
	})

	t.Run("broken file leaves snapshot live", func(t *testing.T) {
		require.NoError(t, os.WriteFile(cfg.Policy.Path, []byte("rules: {not a list"), 0o600))

		_, err := deps.ReloadPolicies()
		require.Error(t, err)
		assert.Equal(t, uint64(2), deps.Policies.Current().Version)
	})
}

func TestNewDependenciesBadPolicyFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Policy.Path, []byte("version: [broken"), 0o600))

	_, err := NewDependencies(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
