// Package app wires the gate's services together. Construction order
// follows the data flow: config, logger, audit store, then the
// pipeline services, then the HTTP collaborators.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/zerotrust-labs/agent-gate/config"
	"github.com/zerotrust-labs/agent-gate/middleware"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/repositories"
	"github.com/zerotrust-labs/agent-gate/repositories/jsonl"
	"github.com/zerotrust-labs/agent-gate/repositories/postgres"
	"github.com/zerotrust-labs/agent-gate/services/audit"
	"github.com/zerotrust-labs/agent-gate/services/engine"
	"github.com/zerotrust-labs/agent-gate/services/executor"
	"github.com/zerotrust-labs/agent-gate/services/policy"
	"github.com/zerotrust-labs/agent-gate/services/ratelimit"
	"github.com/zerotrust-labs/agent-gate/services/risk"
	"github.com/zerotrust-labs/agent-gate/services/validation"
	"go.uber.org/zap"
)

// Dependencies holds every constructed component of the daemon
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Persistence
	AuditStore repositories.AuditStore

	// Pipeline services
	Validator   *validation.Service
	RateLimiter *ratelimit.Service
	Policies    *policy.Store
	RiskScorer  *risk.Service
	Audit       *audit.Service
	Engine      *engine.Engine
	Executor    *executor.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	cancelWorkers context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initAuditStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}
	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initAuditStore selects the durable audit backend. A configured
// database URL wins over the JSONL file.
func (d *Dependencies) initAuditStore(ctx context.Context, cfg *config.Config) error {
	if cfg.Audit.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.Audit.DatabaseURL, d.Logger)
		if err != nil {
			return fmt.Errorf("open postgres audit store: %w", err)
		}
		d.AuditStore = store
		d.Logger.Info("audit store: postgres")
		return nil
	}

	store, err := jsonl.NewStore(cfg.Audit.FilePath, d.Logger)
	if err != nil {
		return fmt.Errorf("open jsonl audit store: %w", err)
	}
	d.AuditStore = store
	d.Logger.Info("audit store: jsonl", zap.String("path", cfg.Audit.FilePath))
	return nil
}

func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Validator = validation.NewService(cfg.Workspace.Root, d.Logger)

	defaultLimit := ratelimit.Limit{
		Requests: cfg.RateLimit.DefaultRequests,
		Period:   cfg.RateLimit.DefaultPeriod,
	}
	d.RateLimiter = ratelimit.NewService(defaultLimit, cfg.RateLimit.IdleTTL, d.Logger)

	store, err := policy.NewStore(d.Logger)
	if err != nil {
		return fmt.Errorf("create policy store: %w", err)
	}
	d.Policies = store

	d.Audit = audit.NewService(d.AuditStore, audit.Config{
		WriteTimeout:  cfg.Audit.WriteTimeout,
		RetryBuffer:   cfg.Audit.RetryBuffer,
		HistoryWindow: cfg.Risk.HistoryWindow,
	}, d.Logger)

	weights := risk.DefaultWeights()
	weights.Threshold = cfg.Risk.Threshold
	weights.AfterHoursBonus = cfg.Risk.AfterHoursBonus
	weights.RatePressureMax = cfg.Risk.RatePressureMax
	weights.HistoryMax = cfg.Risk.HistoryMax
	weights.AfterHoursStart = cfg.Risk.AfterHoursStart
	weights.AfterHoursEnd = cfg.Risk.AfterHoursEnd
	d.RiskScorer = risk.NewService(weights, d.Audit, cfg.Risk.HistoryWindow, d.Logger)

	d.Engine = engine.NewEngine(d.Validator, d.RateLimiter, d.Policies, d.RiskScorer, d.Audit, d.Logger)
	d.Executor = executor.NewService(cfg.Workspace.Root, d.Logger)

	if cfg.Policy.Path != "" {
		if _, err := d.ReloadPolicies(); err != nil {
			return fmt.Errorf("load initial policy file: %w", err)
		}
	}

	d.Logger.Info("pipeline services initialized")
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("no JWT secret configured, all authenticated routes will reject")
	}
	validator := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// ReloadPolicies loads the configured policy file into a fresh snapshot
// and pushes its per-action rate limits to the limiter. A failed load
// leaves both the snapshot and the limits untouched.
func (d *Dependencies) ReloadPolicies() (uint64, error) {
	doc, err := policy.ParseFile(d.Config.Policy.Path)
	if err != nil {
		return 0, err
	}
	if err := d.Policies.LoadDocument(doc); err != nil {
		return 0, err
	}

	limits := make(map[models.ActionType]ratelimit.Limit)
	for _, rule := range doc.Rules {
		if rule.Limits != nil {
			limits[rule.Action] = ratelimit.Limit{
				Requests: rule.Limits.Requests,
				Period:   rule.Limits.Period,
			}
		}
	}
	d.RateLimiter.Configure(limits)

	return d.Policies.Current().Version, nil
}

// StartWorkers launches the background workers: audit retry delivery
// and rate window eviction
func (d *Dependencies) StartWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancelWorkers = cancel
	d.Audit.StartRetryWorker(ctx)
	d.RateLimiter.StartEvictionWorker(ctx, d.Config.RateLimit.EvictionInterval)
}

// Shutdown stops workers and closes the audit trail, flushing pending
// retries within the timeout
func (d *Dependencies) Shutdown(timeout time.Duration) error {
	if d.cancelWorkers != nil {
		d.cancelWorkers()
	}
	var firstErr error
	if err := d.Audit.Stop(timeout); err != nil {
		firstErr = err
	}
	if err := d.AuditStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
