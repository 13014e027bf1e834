package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryGovernor is a process-local fixed-window governor. Suitable for
// single-instance deployments; counters are lost on restart.
type MemoryGovernor struct {
	budget Budget
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryGovernor creates an in-process governor for one action.
func NewMemoryGovernor(budget Budget) *MemoryGovernor {
	return &MemoryGovernor{
		budget:  budget,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Consume spends one unit from the key's window budget. The mutex makes
// the check-and-increment atomic per governor, which covers the per-key
// atomicity requirement.
func (g *MemoryGovernor) Consume(_ context.Context, key string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	w, ok := g.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(g.windows) >= pruneThreshold {
			g.prune(now)
		}
		w = &window{resetAt: now.Add(g.budget.Window)}
		g.windows[key] = w
	}

	w.count++
	if w.count > g.budget.Limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter(w.resetAt.Sub(now)),
		}, nil
	}
	return Result{Allowed: true, Remaining: g.budget.Limit - w.count}, nil
}

// pruneThreshold bounds the window map; stale entries are dropped when
// the map grows past it. Held under g.mu.
const pruneThreshold = 4096

func (g *MemoryGovernor) prune(now time.Time) {
	for key, w := range g.windows {
		if !now.Before(w.resetAt) {
			delete(g.windows, key)
		}
	}
}
