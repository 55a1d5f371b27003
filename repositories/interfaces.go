// Package repositories defines the persistence interfaces the gate's
// services depend on. Implementations live in subpackages.
package repositories

import (
	"context"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
)

// AuditStore is the durable, append-only decision record. Records are
// never mutated or deleted once appended; the store assigns each
// record a monotonically increasing sequence under its own write lock
// so the persisted order matches the sequence order.
type AuditStore interface {
	// Append durably writes one record, filling rec.Sequence
	Append(ctx context.Context, rec *models.AuditRecord) error

	// RecentByActor returns this actor's records since the given time,
	// newest first, bounded by limit. Reads must not block appends for
	// long.
	RecentByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]models.AuditRecord, error)

	// Recent returns the newest records across all actors, bounded by limit
	Recent(ctx context.Context, limit int) ([]models.AuditRecord, error)

	// Count returns the number of records appended so far
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying resources
	Close() error
}
