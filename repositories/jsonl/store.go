// Package jsonl persists audit records as one JSON object per line in
// an append-only local file, fsynced on every append so records survive
// process restart.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

// Store is the file-backed audit store
type Store struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	seq    uint64
	seen   map[uuid.UUID]struct{}
	logger *zap.Logger
}

// NewStore opens (or creates) the audit file and restores the sequence
// counter and the request ID set from the existing records
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	s := &Store{file: file, path: path, seen: make(map[uuid.UUID]struct{}), logger: logger}

	_, count, err := s.scan(func(rec *models.AuditRecord) bool {
		s.seen[rec.Request.RequestID] = struct{}{}
		return false
	})
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.seq = uint64(count)

	logger.Info("audit file opened",
		zap.String("path", path),
		zap.Uint64("existing_records", s.seq))
	return s, nil
}

// Append writes one record under the store lock, assigning the next
// sequence so file order and sequence order always agree. A request ID
// already in the file is a replay (a timed-out write that landed, or a
// retry after restart) and is skipped as an idempotent success, the way
// the database store's conflict clause skips it.
func (s *Store) Append(ctx context.Context, rec *models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[rec.Request.RequestID]; dup {
		return nil
	}

	rec.Sequence = s.seq + 1
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	s.seq++
	s.seen[rec.Request.RequestID] = struct{}{}
	return nil
}

// RecentByActor scans the file for the actor's records since the cutoff.
// The scan opens its own read handle so it never blocks appends.
func (s *Store) RecentByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.AuditRecord
	_, _, err := s.scan(func(rec *models.AuditRecord) bool {
		if rec.Request.ActorID == actorID && !rec.Decision.Timestamp.Before(since) {
			out = append(out, *rec)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	return clip(out, limit), nil
}

// Recent returns the newest records across all actors
func (s *Store) Recent(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.AuditRecord
	_, _, err := s.scan(func(rec *models.AuditRecord) bool {
		out = append(out, *rec)
		return false
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	return clip(out, limit), nil
}

// Count returns the number of records in the file
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, count, err := s.scan(func(*models.AuditRecord) bool { return false })
	return int64(count), err
}

// Close syncs and closes the file
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// scan streams every record through visit, returning the last record
// seen and the total count. Corrupt lines are skipped with a warning
// rather than poisoning the whole log.
func (s *Store) scan(visit func(*models.AuditRecord) bool) (*models.AuditRecord, int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open audit file for read: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var last *models.AuditRecord
	count := 0
	for scanner.Scan() {
		var rec models.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Warn("skipping corrupt audit line", zap.Error(err))
			continue
		}
		count++
		last = &rec
		if visit(&rec) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan audit file: %w", err)
	}
	return last, count, nil
}

func reverse(recs []models.AuditRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

func clip(recs []models.AuditRecord, limit int) []models.AuditRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
