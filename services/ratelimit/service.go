// Package ratelimit implements per-(actor, action) fixed-window request
// counting. Check-and-increment is serialized per shard so two
// concurrent requests can never both claim the last slot in a window,
// while actors hashed to different shards proceed in parallel.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
	"go.uber.org/zap"
)

const shardCount = 32

// Limit is the fixed-window budget for one action type
type Limit struct {
	Requests int
	Period   time.Duration
}

// Result reports the outcome of one check-and-increment call
type Result struct {
	WithinLimit  bool
	CurrentCount int
	Limit        int
	ResetAt      time.Time
}

// Utilization returns count/limit in [0,1], the scorer's rate pressure input
func (r Result) Utilization() float64 {
	if r.Limit <= 0 {
		return 0
	}
	u := float64(r.CurrentCount) / float64(r.Limit)
	if u > 1 {
		u = 1
	}
	return u
}

// window is the mutable fixed-window state for one (actor, action) key.
// Counts never decrement; they reset only when the window boundary
// passes or the window is evicted, which is equivalent to a reset.
type window struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Service is the in-memory fixed-window rate limiter
type Service struct {
	shards [shardCount]*shard

	mu           sync.RWMutex
	limits       map[models.ActionType]Limit
	defaultLimit Limit

	idleTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a limiter with the given default budget.
// idleTTL bounds memory: windows unseen for longer than it are evicted.
func NewService(defaultLimit Limit, idleTTL time.Duration, logger *zap.Logger) *Service {
	s := &Service{
		limits:       map[models.ActionType]Limit{},
		defaultLimit: defaultLimit,
		idleTTL:      idleTTL,
		logger:       logger,
		now:          time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return s
}

// Configure replaces the per-action limit table, typically on policy
// reload. Existing window counts are preserved; only budgets change.
func (s *Service) Configure(limits map[models.ActionType]Limit) {
	copied := make(map[models.ActionType]Limit, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	s.mu.Lock()
	s.limits = copied
	s.mu.Unlock()
}

// LimitFor returns the effective budget for an action type
func (s *Service) LimitFor(action models.ActionType) Limit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.limits[action]; ok && l.Requests > 0 && l.Period > 0 {
		return l
	}
	return s.defaultLimit
}

// CheckAndIncrement counts one request against the (actor, action)
// window. The call that would push the count past the limit is itself
// rejected and does not increment, so repeated rejected calls cannot
// grow the count without bound.
func (s *Service) CheckAndIncrement(actorID string, action models.ActionType) Result {
	limit := s.LimitFor(action)
	key := actorID + "|" + string(action)
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		w = &window{start: now}
		sh.windows[key] = w
	} else if now.Sub(w.start) >= limit.Period {
		w.start = now
		w.count = 0
	}
	w.lastSeen = now

	resetAt := w.start.Add(limit.Period)
	if w.count >= limit.Requests {
		return Result{
			WithinLimit:  false,
			CurrentCount: w.count,
			Limit:        limit.Requests,
			ResetAt:      resetAt,
		}
	}
	w.count++
	return Result{
		WithinLimit:  true,
		CurrentCount: w.count,
		Limit:        limit.Requests,
		ResetAt:      resetAt,
	}
}

func (s *Service) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Evict removes windows idle past the TTL and returns how many were
// dropped. Eviction never affects fixed-window correctness: a fresh
// window is equivalent to a reset one.
func (s *Service) Evict() int {
	cutoff := s.now().Add(-s.idleTTL)
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if w.lastSeen.Before(cutoff) {
				delete(sh.windows, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// StartEvictionWorker runs periodic eviction sweeps until ctx is done
func (s *Service) StartEvictionWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate window eviction worker",
		zap.Duration("interval", interval),
		zap.Duration("idle_ttl", s.idleTTL))

	for {
		select {
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.logger.Debug("evicted idle rate windows", zap.Int("count", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate window eviction worker")
			return
		}
	}
}

// TrackedWindows reports how many windows are currently held, for
// readiness and operator inspection
func (s *Service) TrackedWindows() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}
