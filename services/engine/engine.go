// Package engine orchestrates the gating pipeline. Every request walks
// the same fixed stage order and every path, success or fault, produces
// exactly one Decision and one AuditRecord before control returns to
// the caller. No error from an inner stage ever escapes: internal
// faults convert to DENY, never to a missing record or an ALLOW.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/services/policy"
	"github.com/zerotrust-labs/agent-gate/services/ratelimit"
	"github.com/zerotrust-labs/agent-gate/services/risk"
	"github.com/zerotrust-labs/agent-gate/services/validation"
	"go.uber.org/zap"
)

// State is the per-request evaluation state. There is no retry
// transition: a denied or errored request never re-enters the pipeline
// under the same request ID.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateValidated     State = "VALIDATED"
	StateRateChecked   State = "RATE_CHECKED"
	StatePolicyChecked State = "POLICY_CHECKED"
	StateScored        State = "SCORED"
	StateDecided       State = "DECIDED"
	StateAudited       State = "AUDITED"
)

// Auditor is the engine's view of the audit service. Record attempts
// the durable append; Defer hands a failed record over for out-of-band
// retry once its verdict is final.
type Auditor interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
	Defer(rec *models.AuditRecord)
}

// Engine runs the gating pipeline
type Engine struct {
	validator *validation.Service
	limiter   *ratelimit.Service
	policies  *policy.Store
	scorer    *risk.Service
	auditor   Auditor
	logger    *zap.Logger
}

// NewEngine wires the pipeline stages. All state the stages depend on
// (rate windows, policy snapshot, history) is owned by the injected
// services, so isolated engines can exist side by side in tests.
func NewEngine(
	validator *validation.Service,
	limiter *ratelimit.Service,
	policies *policy.Store,
	scorer *risk.Service,
	auditor Auditor,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		validator: validator,
		limiter:   limiter,
		policies:  policies,
		scorer:    scorer,
		auditor:   auditor,
		logger:    logger,
	}
}

// evaluation tracks one request's walk through the pipeline
type evaluation struct {
	state     State
	request   *models.ActionRequest
	findings  []models.RiskSignal
	rate      ratelimit.Result
	policyRes models.PolicyResult
	score     models.RiskScore
	detail    string
}

// Evaluate runs the full pipeline and returns the Decision. It never
// returns an error: faults become DENY with reason INTERNAL_ERROR, and
// the audit record is written on every path before returning.
func (e *Engine) Evaluate(ctx context.Context, req *models.ActionRequest) *models.Decision {
	started := time.Now()
	ev := &evaluation{state: StateReceived, request: req}

	decision := e.run(ctx, ev)
	ev.state = StateDecided

	// Audit always, even (especially) for faults. An un-audited ALLOW
	// is a worse failure than an unnecessary DENY.
	rec := models.NewAuditRecord(req, decision, ev.policyRes.SnapshotVersion, time.Since(started), ev.detail)
	if err := e.recordSafely(ctx, rec); err != nil {
		if decision.Allowed() {
			e.logger.Error("audit write failed, downgrading ALLOW to DENY",
				zap.String("request_id", req.RequestID.String()),
				zap.Error(err))
			score := decision.RiskScore
			score.Tags = append(score.Tags, "audit_unavailable")
			decision = models.NewDenial(req.RequestID, models.ReasonInternalError,
				"audit trail unavailable", score)
		}
		// Settle the verdict on the record before it leaves this
		// goroutine, so the durable retry writes what the caller saw
		rec.Decision = *decision
		e.auditor.Defer(rec)
	}
	ev.state = StateAudited

	e.logger.Info("request evaluated",
		zap.String("request_id", req.RequestID.String()),
		zap.String("actor_id", req.ActorID),
		zap.String("action", string(req.ActionType)),
		zap.String("verdict", string(decision.Verdict)),
		zap.String("reason_code", string(decision.ReasonCode)),
		zap.Int("risk_score", decision.RiskScore.Value),
		zap.Duration("latency", time.Since(started)))

	return decision
}

// run walks the stages in their fixed order. The ordering is
// load-bearing: the validator is cheapest and runs before a rate slot
// is spent, the limiter shields the policy store and scorer, and the
// scorer needs the matched rule's sensitivity as input.
func (e *Engine) run(ctx context.Context, ev *evaluation) (decision *models.Decision) {
	req := ev.request

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline stage panicked",
				zap.String("request_id", req.RequestID.String()),
				zap.String("state", string(ev.state)),
				zap.Any("panic", r))
			ev.detail = fmt.Sprintf("panic in state %s: %v", ev.state, r)
			decision = models.NewDenial(req.RequestID, models.ReasonInternalError,
				"internal evaluation fault", ev.score)
		}
	}()

	// Stage 1: validation
	result := e.validator.Validate(req)
	ev.findings = result.Findings
	if !result.OK {
		ev.detail = result.Reason
		return models.NewDenial(req.RequestID, models.ReasonValidation,
			result.Reason, e.scoreOf(ev))
	}
	ev.state = StateValidated

	// Stage 2: rate limit
	ev.rate = e.limiter.CheckAndIncrement(req.ActorID, req.ActionType)
	if !ev.rate.WithinLimit {
		ev.detail = fmt.Sprintf("window exhausted: %d/%d", ev.rate.CurrentCount, ev.rate.Limit)
		return models.NewDenial(req.RequestID, models.ReasonRateLimit,
			fmt.Sprintf("rate limit exceeded: %d of %d requests used", ev.rate.CurrentCount, ev.rate.Limit),
			e.scoreOf(ev))
	}
	ev.state = StateRateChecked

	// Stage 3: policy, against the snapshot captured for this request
	snapshot := e.policies.Current()
	ev.policyRes = e.policies.Evaluate(snapshot, req)
	ev.state = StatePolicyChecked

	// Stage 4: risk, which needs the policy sensitivity as input
	ev.score = e.scorer.Score(req, ev.findings, ev.policyRes, ev.rate)
	ev.state = StateScored

	// Final verdict: ALLOW requires every stage to agree
	if !ev.policyRes.Allowed {
		reason := "action not permitted by policy"
		if !ev.policyRes.RuleFound {
			reason = "no policy rule for action"
			ev.detail = "implicit deny-all"
		} else if ev.policyRes.FailedConstraint != "" {
			reason = "policy constraint not satisfied"
			ev.detail = "failed constraint: " + ev.policyRes.FailedConstraint
		}
		return models.NewDenial(req.RequestID, models.ReasonPolicy, reason, ev.score)
	}
	if ev.score.ThresholdCrossed {
		// Risk is a veto layer, not advisory: this denies even though
		// policy alone would have allowed the action
		return models.NewDenial(req.RequestID, models.ReasonRisk,
			fmt.Sprintf("risk score %d crossed threshold %d", ev.score.Value, e.scorer.Threshold()),
			ev.score)
	}

	return models.NewAllowance(req.RequestID, ev.score)
}

// recordSafely shields the caller from a panicking audit path; a panic
// counts as a failed write and triggers the ALLOW downgrade
func (e *Engine) recordSafely(ctx context.Context, rec *models.AuditRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit record panicked: %v", r)
		}
	}()
	return e.auditor.Record(ctx, rec)
}

// scoreOf computes a best-effort score for early denials so the audit
// record still carries the accumulated signals
func (e *Engine) scoreOf(ev *evaluation) models.RiskScore {
	return e.scorer.Score(ev.request, ev.findings, ev.policyRes, ev.rate)
}
