package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*AuditStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuditStore(db, zap.NewNop()), mock
}

func testRecord() *models.AuditRecord {
	req := models.NewActionRequest("agent1", models.ActionWriteFile, map[string]string{
		"path":    "/workspace/notes.txt",
		"content": "hi",
	})
	dec := models.NewAllowance(req.RequestID, models.RiskScore{
		Value: 20,
		Level: models.RiskLow,
		Tags:  []string{"policy_sensitive"},
	})
	return models.NewAuditRecord(req, dec, 3, time.Millisecond, "")
}

func TestAppend(t *testing.T) {
	store, mock := newMockStore(t)
	rec := testRecord()

	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(42)))

	err := store.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rec.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDuplicateRequestIDIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	// ON CONFLICT DO NOTHING returns no row for a replayed request_id
	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnError(sql.ErrNoRows)

	err := store.Append(context.Background(), testRecord())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPropagatesWriteErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO audit_records").
		WillReturnError(sql.ErrConnDone)

	err := store.Append(context.Background(), testRecord())
	assert.Error(t, err)
}

func TestRecentByActor(t *testing.T) {
	store, mock := newMockStore(t)
	rec := testRecord()

	columns := []string{
		"sequence", "request_id", "actor_id", "action_type", "parameters",
		"verdict", "reason_code", "reason", "risk_score", "risk_tags",
		"threshold_crossed", "policy_version", "evaluation_latency_ns",
		"detail", "request_timestamp", "decision_timestamp",
	}
	rows := sqlmock.NewRows(columns).AddRow(
		int64(7),
		rec.Request.RequestID.String(),
		"agent1",
		"write_file",
		[]byte(`{"path":"/workspace/notes.txt","content":"hi"}`),
		"ALLOW",
		"OK",
		"allowed",
		20,
		[]byte(`["policy_sensitive"]`),
		false,
		int64(3),
		int64(time.Millisecond),
		"",
		rec.Request.Timestamp,
		rec.Decision.Timestamp,
	)
	mock.ExpectQuery("SELECT (.+) FROM audit_records").
		WithArgs("agent1", sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	recs, err := store.RecentByActor(context.Background(), "agent1", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, "agent1", got.Request.ActorID)
	assert.Equal(t, models.ActionWriteFile, got.Request.ActionType)
	assert.Equal(t, "/workspace/notes.txt", got.Request.Parameters["path"])
	assert.Equal(t, models.VerdictAllow, got.Decision.Verdict)
	assert.Equal(t, models.ReasonOK, got.Decision.ReasonCode)
	assert.Equal(t, []string{"policy_sensitive"}, got.Decision.RiskScore.Tags)
	assert.Equal(t, models.RiskLow, got.Decision.RiskScore.Level)
	assert.Equal(t, time.Millisecond, got.EvaluationLatency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
}

func TestInitSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
