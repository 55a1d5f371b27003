// Package audit records every decision durably and feeds the risk
// scorer's trailing denial-rate signal from an in-memory index so the
// hot path never reads the durable store.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/repositories"
	"go.uber.org/zap"
)

// Config holds audit service tuning
type Config struct {
	// WriteTimeout bounds one durable append so a slow disk cannot
	// block the calling actor indefinitely
	WriteTimeout time.Duration
	// RetryBuffer is the capacity of the out-of-band retry queue
	RetryBuffer int
	// HistoryWindow bounds how long verdicts stay in the denial index
	HistoryWindow time.Duration
}

// DefaultConfig returns the defaults the gate ships with
func DefaultConfig() Config {
	return Config{
		WriteTimeout:  2 * time.Second,
		RetryBuffer:   1024,
		HistoryWindow: 10 * time.Minute,
	}
}

// Service owns the durable audit trail
type Service struct {
	store  repositories.AuditStore
	config Config
	logger *zap.Logger

	retryCh chan *models.AuditRecord

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}

	index *historyIndex

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewService creates the audit service around a durable store
func NewService(store repositories.AuditStore, config Config, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		config:  config,
		logger:  logger,
		retryCh: make(chan *models.AuditRecord, config.RetryBuffer),
		pending: make(map[uuid.UUID]struct{}),
		index:   newHistoryIndex(config.HistoryWindow),
	}
}

// Record durably appends one record, bounded by the write timeout.
// The in-memory index is updated regardless of durable outcome so the
// scorer still sees the verdict. On failure an error is returned and
// the caller settles the final verdict (the engine downgrades an
// un-audited ALLOW to DENY) before handing the record to Defer.
func (s *Service) Record(ctx context.Context, rec *models.AuditRecord) error {
	s.index.add(rec.Request.ActorID, rec.Decision.Verdict, rec.Decision.Timestamp)

	writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.store.Append(writeCtx, rec)
	}()

	var err error
	select {
	case err = <-done:
	case <-writeCtx.Done():
		err = fmt.Errorf("audit append timed out after %s", s.config.WriteTimeout)
	}
	if err == nil {
		return nil
	}

	s.logger.Error("audit append failed",
		zap.String("request_id", rec.Request.RequestID.String()),
		zap.Error(err))
	return err
}

// Defer queues a record whose durable append failed, exactly once per
// request ID. The record must not be mutated after this call; the retry
// worker owns it from here. Never drop the record silently: a full
// queue is an operator problem and is logged as such.
func (s *Service) Defer(rec *models.AuditRecord) {
	s.mu.Lock()
	if _, queued := s.pending[rec.Request.RequestID]; queued {
		s.mu.Unlock()
		return
	}
	s.pending[rec.Request.RequestID] = struct{}{}
	s.mu.Unlock()

	select {
	case s.retryCh <- rec:
	default:
		s.mu.Lock()
		delete(s.pending, rec.Request.RequestID)
		s.mu.Unlock()
		s.logger.Error("audit retry queue full, record not queued",
			zap.String("request_id", rec.Request.RequestID.String()))
	}
}

// StartRetryWorker drains the retry queue until ctx is done, backing
// off between attempts for the same record
func (s *Service) StartRetryWorker(ctx context.Context) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.retryLoop(ctx)
	})
}

// Stop waits for the retry worker to drain or the timeout to pass
func (s *Service) Stop(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit retry worker stop timed out after %s", timeout)
	}
}

func (s *Service) retryLoop(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("audit retry worker started")

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("audit retry worker stopped",
				zap.Int("unretried", len(s.retryCh)))
			return
		case rec := <-s.retryCh:
			attemptCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
			err := s.store.Append(attemptCtx, rec)
			cancel()
			if err == nil {
				s.mu.Lock()
				delete(s.pending, rec.Request.RequestID)
				s.mu.Unlock()
				s.logger.Info("audit record recovered on retry",
					zap.String("request_id", rec.Request.RequestID.String()))
				backoff = time.Second
				continue
			}
			s.logger.Warn("audit retry failed",
				zap.String("request_id", rec.Request.RequestID.String()),
				zap.Error(err))
			// Put it back and wait before the next attempt
			select {
			case s.retryCh <- rec:
			default:
				s.mu.Lock()
				delete(s.pending, rec.Request.RequestID)
				s.mu.Unlock()
				s.logger.Error("audit retry queue full, dropping retry",
					zap.String("request_id", rec.Request.RequestID.String()))
			}
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

// DenialRate implements risk.History from the in-memory index
func (s *Service) DenialRate(actorID string, window time.Duration) float64 {
	return s.index.denialRate(actorID, window, time.Now())
}

// RecentByActor exposes the bounded recent window of the durable store
func (s *Service) RecentByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]models.AuditRecord, error) {
	return s.store.RecentByActor(ctx, actorID, since, limit)
}

// Recent exposes the newest records across all actors
func (s *Service) Recent(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	return s.store.Recent(ctx, limit)
}

// Count reports the durable record count
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// PendingRetries reports how many records await durable retry
func (s *Service) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
