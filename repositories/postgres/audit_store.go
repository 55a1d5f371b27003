// Package postgres implements the audit store on PostgreSQL for
// deployments where the decision trail must live in shared
// infrastructure instead of a local file.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

// AuditStore is the Postgres-backed audit store. The sequence is a
// BIGSERIAL so the database serializes the total order across
// concurrent writers.
type AuditStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to the database and prepares the schema
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*AuditStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := NewAuditStore(db, logger)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit database ping failed: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("audit database connected")
	return store, nil
}

// NewAuditStore wraps an existing connection pool
func NewAuditStore(db *sql.DB, logger *zap.Logger) *AuditStore {
	return &AuditStore{db: db, logger: logger}
}

// InitSchema creates the audit table when it does not exist yet
func (s *AuditStore) InitSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS audit_records (
			sequence              BIGSERIAL PRIMARY KEY,
			request_id            UUID NOT NULL UNIQUE,
			actor_id              TEXT NOT NULL,
			action_type           TEXT NOT NULL,
			parameters            JSONB NOT NULL,
			verdict               TEXT NOT NULL,
			reason_code           TEXT NOT NULL,
			reason                TEXT NOT NULL DEFAULT '',
			risk_score            INT NOT NULL,
			risk_tags             JSONB,
			threshold_crossed     BOOLEAN NOT NULL DEFAULT FALSE,
			policy_version        BIGINT NOT NULL DEFAULT 0,
			evaluation_latency_ns BIGINT NOT NULL DEFAULT 0,
			detail                TEXT NOT NULL DEFAULT '',
			request_timestamp     TIMESTAMPTZ NOT NULL,
			decision_timestamp    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_actor_time
			ON audit_records (actor_id, decision_timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return nil
}

const appendQuery = `
	INSERT INTO audit_records (
		request_id, actor_id, action_type, parameters,
		verdict, reason_code, reason, risk_score, risk_tags,
		threshold_crossed, policy_version, evaluation_latency_ns,
		detail, request_timestamp, decision_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (request_id) DO NOTHING
	RETURNING sequence
`

// Append inserts one record, filling rec.Sequence. A replay of an
// already-persisted request ID is treated as success so out-of-band
// retries keep the one-record-per-request invariant.
func (s *AuditStore) Append(ctx context.Context, rec *models.AuditRecord) error {
	params, err := json.Marshal(rec.Request.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	tags, err := json.Marshal(rec.Decision.RiskScore.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal risk tags: %w", err)
	}

	err = s.db.QueryRowContext(ctx, appendQuery,
		rec.Request.RequestID,
		rec.Request.ActorID,
		string(rec.Request.ActionType),
		params,
		string(rec.Decision.Verdict),
		string(rec.Decision.ReasonCode),
		rec.Decision.Reason,
		rec.Decision.RiskScore.Value,
		tags,
		rec.Decision.RiskScore.ThresholdCrossed,
		rec.PolicyVersion,
		int64(rec.EvaluationLatency),
		rec.Detail,
		rec.Request.Timestamp,
		rec.Decision.Timestamp,
	).Scan(&rec.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict on request_id: the record is already durable
		s.logger.Debug("audit record already persisted",
			zap.String("request_id", rec.Request.RequestID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `
	sequence, request_id, actor_id, action_type, parameters,
	verdict, reason_code, reason, risk_score, risk_tags,
	threshold_crossed, policy_version, evaluation_latency_ns,
	detail, request_timestamp, decision_timestamp
`

// RecentByActor returns the actor's records since the cutoff, newest first
func (s *AuditStore) RecentByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]models.AuditRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_records
		WHERE actor_id = $1 AND decision_timestamp >= $2
		ORDER BY sequence DESC
		LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, actorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the newest records across all actors
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_records
		ORDER BY sequence DESC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Count returns the total number of audit records
func (s *AuditStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// Close closes the connection pool
func (s *AuditStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]models.AuditRecord, error) {
	var out []models.AuditRecord
	for rows.Next() {
		var (
			rec        models.AuditRecord
			requestID  uuid.UUID
			actionType string
			verdict    string
			reasonCode string
			paramsRaw  []byte
			tagsRaw    []byte
			latencyNS  int64
		)
		if err := rows.Scan(
			&rec.Sequence,
			&requestID,
			&rec.Request.ActorID,
			&actionType,
			&paramsRaw,
			&verdict,
			&reasonCode,
			&rec.Decision.Reason,
			&rec.Decision.RiskScore.Value,
			&tagsRaw,
			&rec.Decision.RiskScore.ThresholdCrossed,
			&rec.PolicyVersion,
			&latencyNS,
			&rec.Detail,
			&rec.Request.Timestamp,
			&rec.Decision.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Request.RequestID = requestID
		rec.Request.ActionType = models.ActionType(actionType)
		rec.Decision.RequestID = requestID
		rec.Decision.Verdict = models.Verdict(verdict)
		rec.Decision.ReasonCode = models.ReasonCode(reasonCode)
		rec.Decision.RiskScore.Level = models.LevelFor(rec.Decision.RiskScore.Value)
		rec.EvaluationLatency = time.Duration(latencyNS)
		if len(paramsRaw) > 0 {
			if err := json.Unmarshal(paramsRaw, &rec.Request.Parameters); err != nil {
				return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
			}
		}
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &rec.Decision.RiskScore.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal risk tags: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return out, nil
}
