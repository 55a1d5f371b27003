package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the final outcome of an evaluation
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictDeny  Verdict = "DENY"
)

// ReasonCode explains which stage produced the verdict
type ReasonCode string

const (
	ReasonOK            ReasonCode = "OK"
	ReasonValidation    ReasonCode = "VALIDATION"
	ReasonRateLimit     ReasonCode = "RATE_LIMIT"
	ReasonPolicy        ReasonCode = "POLICY"
	ReasonRisk          ReasonCode = "RISK"
	ReasonInternalError ReasonCode = "INTERNAL_ERROR"
)

// Decision is the immutable verdict for one request. Exactly one Decision
// exists per request ID; a DENY is never upgraded under the same ID.
type Decision struct {
	RequestID  uuid.UUID  `json:"request_id" db:"request_id"`
	Verdict    Verdict    `json:"verdict" db:"verdict"`
	ReasonCode ReasonCode `json:"reason_code" db:"reason_code"`
	// Reason carries a human-readable summary safe to return to the
	// decision-maker. Internal error detail never appears here, only in
	// the audit record.
	Reason    string    `json:"reason,omitempty" db:"reason"`
	RiskScore RiskScore `json:"risk_score" db:"risk_score"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Allowed reports whether the action may be executed
func (d *Decision) Allowed() bool {
	return d.Verdict == VerdictAllow
}

// NewDenial creates a DENY decision for the given request
func NewDenial(requestID uuid.UUID, code ReasonCode, reason string, score RiskScore) *Decision {
	return &Decision{
		RequestID:  requestID,
		Verdict:    VerdictDeny,
		ReasonCode: code,
		Reason:     reason,
		RiskScore:  score,
		Timestamp:  time.Now().UTC(),
	}
}

// NewAllowance creates an ALLOW decision for the given request
func NewAllowance(requestID uuid.UUID, score RiskScore) *Decision {
	return &Decision{
		RequestID:  requestID,
		Verdict:    VerdictAllow,
		ReasonCode: ReasonOK,
		Reason:     "allowed",
		RiskScore:  score,
		Timestamp:  time.Now().UTC(),
	}
}
