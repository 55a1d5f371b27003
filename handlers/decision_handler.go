package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zerotrust-labs/agent-gate/middleware"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/services/executor"
	"github.com/zerotrust-labs/agent-gate/utils"
	"go.uber.org/zap"
)

// EvaluateRequest is the wire form of an action submission. The actor_id
// must match the authenticated subject; the gate never trusts the body
// alone for identity.
type EvaluateRequest struct {
	ActorID    string            `json:"actor_id" validate:"required,max=128"`
	Action     string            `json:"action" validate:"required,max=64"`
	Parameters map[string]string `json:"parameters"`
	Execute    bool              `json:"execute,omitempty"`
}

// EvaluateResponse carries the verdict and, when execution was
// requested and allowed, the execution outcome
type EvaluateResponse struct {
	Decision  *models.Decision  `json:"decision"`
	Execution *executor.Outcome `json:"execution,omitempty"`
}

// Evaluator is the handler's view of the gating pipeline
type Evaluator interface {
	Evaluate(ctx context.Context, req *models.ActionRequest) *models.Decision
}

// ActionExecutor carries out an allowed action
type ActionExecutor interface {
	Execute(ctx context.Context, req *models.ActionRequest) executor.Outcome
}

// DecisionHandler handles action evaluation requests
type DecisionHandler struct {
	engine   Evaluator
	executor ActionExecutor
	logger   *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler. The executor may be
// nil, in which case execute requests are evaluated but never run.
func NewDecisionHandler(engine Evaluator, exec ActionExecutor, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		engine:   engine,
		executor: exec,
		logger:   logger,
	}
}

// HandleEvaluate handles POST /api/v1/actions/evaluate
func (h *DecisionHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		h.logger.Error("claims not found in context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var body EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			_ = utils.WriteBadRequest(w, verr.Message, verr.Details())
			return
		}
		_ = utils.WriteBadRequest(w, "Invalid request", nil)
		return
	}

	if body.ActorID != claims.Sub {
		h.logger.Warn("actor mismatch",
			zap.String("request_id", requestID),
			zap.String("subject", claims.Sub),
			zap.String("actor_id", body.ActorID))
		_ = utils.WriteForbidden(w, "actor_id does not match authenticated subject")
		return
	}

	req := models.NewActionRequest(body.ActorID, models.ActionType(body.Action), body.Parameters)
	decision := h.engine.Evaluate(ctx, req)

	resp := EvaluateResponse{Decision: decision}
	if body.Execute && decision.Allowed() && h.executor != nil {
		out := h.executor.Execute(ctx, req)
		resp.Execution = &out
	}

	// A DENY is a successful evaluation, not an HTTP error
	_ = utils.WriteOK(w, resp)
}
