package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerotrust-labs/agent-gate/middleware"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/services/executor"
	"go.uber.org/zap"
)

type fakeEvaluator struct {
	lastReq  *models.ActionRequest
	decision *models.Decision
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req *models.ActionRequest) *models.Decision {
	f.lastReq = req
	d := *f.decision
	d.RequestID = req.RequestID
	return &d
}

type fakeExecutor struct {
	called bool
	out    executor.Outcome
}

func (f *fakeExecutor) Execute(ctx context.Context, req *models.ActionRequest) executor.Outcome {
	f.called = true
	return f.out
}

func allowDecision() *models.Decision {
	return &models.Decision{
		Verdict:    models.VerdictAllow,
		ReasonCode: models.ReasonOK,
	}
}

func denyDecision() *models.Decision {
	return &models.Decision{
		Verdict:    models.VerdictDeny,
		ReasonCode: models.ReasonPolicy,
		Reason:     "action not permitted by policy",
	}
}

func evaluateRequest(t *testing.T, body interface{}, sub string) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/actions/evaluate", bytes.NewReader(raw))
	if sub != "" {
		ctx := middleware.WithClaims(req.Context(), &middleware.Claims{Sub: sub})
		req = req.WithContext(ctx)
	}
	return req
}

func TestHandleEvaluate(t *testing.T) {
	t.Run("allow", func(t *testing.T) {
		eng := &fakeEvaluator{decision: allowDecision()}
		h := NewDecisionHandler(eng, nil, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID:    "agent1",
			Action:     "write_file",
			Parameters: map[string]string{"path": "/workspace/a.txt", "content": "x"},
		}, "agent1"))

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, eng.lastReq)
		assert.Equal(t, "agent1", eng.lastReq.ActorID)
		assert.Equal(t, models.ActionWriteFile, eng.lastReq.ActionType)

		var body struct {
			Data EvaluateResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, models.VerdictAllow, body.Data.Decision.Verdict)
		assert.Nil(t, body.Data.Execution)
	})

	t.Run("deny still returns 200", func(t *testing.T) {
		eng := &fakeEvaluator{decision: denyDecision()}
		h := NewDecisionHandler(eng, nil, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID:    "agent1",
			Action:     "delete_file",
			Parameters: map[string]string{"path": "/workspace/a.txt"},
		}, "agent1"))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data EvaluateResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, models.VerdictDeny, body.Data.Decision.Verdict)
	})

	t.Run("execute on allow", func(t *testing.T) {
		eng := &fakeEvaluator{decision: allowDecision()}
		exec := &fakeExecutor{out: executor.Outcome{OK: true, Output: "hello"}}
		h := NewDecisionHandler(eng, exec, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID:    "agent1",
			Action:     "read_file",
			Parameters: map[string]string{"path": "/workspace/a.txt"},
			Execute:    true,
		}, "agent1"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, exec.called)

		var body struct {
			Data EvaluateResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Data.Execution)
		assert.Equal(t, "hello", body.Data.Execution.Output)
	})

	t.Run("execute skipped on deny", func(t *testing.T) {
		eng := &fakeEvaluator{decision: denyDecision()}
		exec := &fakeExecutor{}
		h := NewDecisionHandler(eng, exec, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID:    "agent1",
			Action:     "delete_file",
			Parameters: map[string]string{"path": "/workspace/a.txt"},
			Execute:    true,
		}, "agent1"))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, exec.called)
	})

	t.Run("actor mismatch is forbidden", func(t *testing.T) {
		eng := &fakeEvaluator{decision: allowDecision()}
		h := NewDecisionHandler(eng, nil, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID:    "agent2",
			Action:     "read_file",
			Parameters: map[string]string{"path": "/workspace/a.txt"},
		}, "agent1"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, eng.lastReq)
	})

	t.Run("missing claims is unauthorized", func(t *testing.T) {
		h := NewDecisionHandler(&fakeEvaluator{decision: allowDecision()}, nil, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{
			ActorID: "agent1",
			Action:  "read_file",
		}, ""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := NewDecisionHandler(&fakeEvaluator{decision: allowDecision()}, nil, zap.NewNop())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/v1/actions/evaluate", bytes.NewReader([]byte("{not json")))
		req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{Sub: "agent1"}))

		h.HandleEvaluate(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing required fields", func(t *testing.T) {
		h := NewDecisionHandler(&fakeEvaluator{decision: allowDecision()}, nil, zap.NewNop())
		rec := httptest.NewRecorder()

		h.HandleEvaluate(rec, evaluateRequest(t, EvaluateRequest{Action: "read_file"}, "agent1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
