package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/zerotrust-labs/agent-gate/middleware"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/utils"
	"go.uber.org/zap"
)

const (
	defaultRecentMinutes = 60
	defaultRecentLimit   = 100
	maxRecentLimit       = 1000
)

// AuditReader is the handler's view of the audit trail
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]models.AuditRecord, error)
	RecentByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]models.AuditRecord, error)
}

// AuditHandler serves read access to the audit trail
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		reader: reader,
		logger: logger,
	}
}

// HandleRecent handles GET /api/v1/audit/recent?actor=&minutes=&limit=
func (h *AuditHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	minutes := defaultRecentMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "minutes must be a positive integer", nil)
			return
		}
		minutes = n
	}

	var (
		records []models.AuditRecord
		err     error
	)
	if actor := r.URL.Query().Get("actor"); actor != "" {
		since := time.Now().Add(-time.Duration(minutes) * time.Minute)
		records, err = h.reader.RecentByActor(ctx, actor, since, limit)
	} else {
		records, err = h.reader.Recent(ctx, limit)
	}
	if err != nil {
		h.logger.Error("failed to read audit trail",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalError(w)
		return
	}

	if records == nil {
		records = []models.AuditRecord{}
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}
