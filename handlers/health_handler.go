package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/zerotrust-labs/agent-gate/services/policy"
	"github.com/zerotrust-labs/agent-gate/utils"
	"go.uber.org/zap"
)

// AuditPinger checks that the audit trail is reachable. An unreachable
// trail means every ALLOW would be downgraded, so readiness reports it.
type AuditPinger interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	store  *policy.Store
	audit  AuditPinger
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(store *policy.Store, audit AuditPinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady handles GET /readyz. Ready means a policy snapshot has
// been loaded and the audit trail answers.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Current()
	if snap.Version == 0 {
		_ = utils.WriteServiceUnavailable(w, "no policy snapshot loaded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.audit.Count(ctx); err != nil {
		h.logger.Warn("readiness check failed on audit trail", zap.Error(err))
		_ = utils.WriteServiceUnavailable(w, "audit trail unreachable")
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ready",
		"policy_version": snap.Version,
	})
}
