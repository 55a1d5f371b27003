package audit

import (
	"sync"
	"time"

	"github.com/zerotrust-labs/agent-gate/models"
)

// historyIndex keeps a pruned per-actor record of recent verdicts.
// It exists so the risk scorer can read a trailing denial rate without
// touching the durable store. Rebuilt empty on restart: the signal is
// heuristic, durable truth lives in the AuditStore.
type historyIndex struct {
	mu      sync.RWMutex
	entries map[string][]verdictAt
	maxAge  time.Duration
}

type verdictAt struct {
	verdict models.Verdict
	at      time.Time
}

func newHistoryIndex(maxAge time.Duration) *historyIndex {
	return &historyIndex{
		entries: make(map[string][]verdictAt),
		maxAge:  maxAge,
	}
}

func (h *historyIndex) add(actorID string, verdict models.Verdict, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pruned := prune(h.entries[actorID], at.Add(-h.maxAge))
	h.entries[actorID] = append(pruned, verdictAt{verdict: verdict, at: at})
}

// denialRate returns the fraction of this actor's verdicts in the
// window that were denials, or 0 when the actor has no recent history
func (h *historyIndex) denialRate(actorID string, window time.Duration, now time.Time) float64 {
	if window > h.maxAge {
		window = h.maxAge
	}
	cutoff := now.Add(-window)

	h.mu.RLock()
	defer h.mu.RUnlock()

	total, denied := 0, 0
	for _, e := range h.entries[actorID] {
		if e.at.Before(cutoff) {
			continue
		}
		total++
		if e.verdict == models.VerdictDeny {
			denied++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(denied) / float64(total)
}

func prune(entries []verdictAt, cutoff time.Time) []verdictAt {
	idx := 0
	for idx < len(entries) && entries[idx].at.Before(cutoff) {
		idx++
	}
	return entries[idx:]
}
