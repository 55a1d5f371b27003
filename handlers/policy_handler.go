package handlers

import (
	"net/http"

	"github.com/zerotrust-labs/agent-gate/middleware"
	"github.com/zerotrust-labs/agent-gate/services/policy"
	"github.com/zerotrust-labs/agent-gate/utils"
	"go.uber.org/zap"
)

// PolicyReloader swaps in a fresh policy snapshot from the configured
// source and returns the new snapshot version
type PolicyReloader interface {
	ReloadPolicies() (uint64, error)
}

// RuleSummary is the wire form of one policy rule
type RuleSummary struct {
	Action            string   `json:"action"`
	Allowed           bool     `json:"allowed"`
	SensitivityWeight int      `json:"sensitivity_weight"`
	Constraints       []string `json:"constraints,omitempty"`
}

// PolicyHandler serves policy snapshot inspection and reload
type PolicyHandler struct {
	store    *policy.Store
	reloader PolicyReloader
	logger   *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(store *policy.Store, reloader PolicyReloader, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		store:    store,
		reloader: reloader,
		logger:   logger,
	}
}

// HandleShow handles GET /api/v1/policies
func (h *PolicyHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Current()

	rules := make([]RuleSummary, 0)
	for _, action := range snap.Actions() {
		rule, ok := snap.Rule(action)
		if !ok {
			continue
		}
		summary := RuleSummary{
			Action:            string(action),
			Allowed:           rule.Allowed,
			SensitivityWeight: rule.SensitivityWeight,
		}
		for _, c := range rule.Constraints {
			summary.Constraints = append(summary.Constraints, c.Name)
		}
		rules = append(rules, summary)
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"version": snap.Version,
		"rules":   rules,
	})
}

// HandleReload handles POST /api/v1/policies/reload. A reload that
// fails to parse or compile leaves the previous snapshot serving.
func (h *PolicyHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	version, err := h.reloader.ReloadPolicies()
	if err != nil {
		h.logger.Error("policy reload failed, previous snapshot still active",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Policy reload failed: "+err.Error(), nil)
		return
	}

	h.logger.Info("policy snapshot reloaded",
		zap.String("request_id", requestID),
		zap.Uint64("version", version))
	_ = utils.WriteOK(w, map[string]interface{}{"version": version})
}
