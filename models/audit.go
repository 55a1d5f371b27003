package models

import (
	"time"
)

// AuditRecord is the append-only record of one evaluated request.
// Once written it is never mutated or deleted by this system. Records
// exist 1:1 with requests regardless of verdict: an internal error
// still produces a DENY record, never a missing one.
type AuditRecord struct {
	Sequence          uint64        `json:"sequence" db:"sequence"`
	Request           ActionRequest `json:"request" db:"request"`
	Decision          Decision      `json:"decision" db:"decision"`
	PolicyVersion     uint64        `json:"policy_version" db:"policy_version"`
	EvaluationLatency time.Duration `json:"evaluation_latency_ns" db:"evaluation_latency_ns"`
	// Detail carries operator-facing context (internal error text,
	// failed constraint names). It is never returned to the caller.
	Detail string `json:"detail,omitempty" db:"detail"`
}

// NewAuditRecord pairs a request with its decision
func NewAuditRecord(req *ActionRequest, dec *Decision, policyVersion uint64, latency time.Duration, detail string) *AuditRecord {
	return &AuditRecord{
		Request:           *req,
		Decision:          *dec,
		PolicyVersion:     policyVersion,
		EvaluationLatency: latency,
		Detail:            detail,
	}
}
