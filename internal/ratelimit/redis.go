package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisGovernor is a fixed-window governor backed by Redis INCR+EXPIRE,
// for multi-instance deployments where all replicas must share one
// budget. INCR is atomic server-side, which covers the per-key
// atomicity requirement across processes.
type RedisGovernor struct {
	rdb    redis.UniversalClient
	action string
	budget Budget
}

// NewRedisGovernor creates a Redis-backed governor for one action.
func NewRedisGovernor(rdb redis.UniversalClient, action string, budget Budget) *RedisGovernor {
	return &RedisGovernor{rdb: rdb, action: action, budget: budget}
}

func (g *RedisGovernor) key(clientKey string) string {
	return "keygate:rl:" + g.action + ":" + clientKey
}

// Consume spends one unit from the key's window budget. The TTL is set
// only on the first hit of a window, giving fixed-window semantics.
func (g *RedisGovernor) Consume(ctx context.Context, clientKey string) (Result, error) {
	key := g.key(clientKey)

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate counter incr: %w", err)
	}
	if count == 1 {
		if err := g.rdb.Expire(ctx, key, g.budget.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate counter expire: %w", err)
		}
	}

	if count > int64(g.budget.Limit) {
		ttl, err := g.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = g.budget.Window
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter(ttl),
		}, nil
	}
	return Result{Allowed: true, Remaining: g.budget.Limit - int(count)}, nil
}

// Limits bundles the per-action governors built from configuration.
type Limits struct {
	governors map[string]Governor
}

// NewMemoryLimits builds process-local governors for the given budgets.
func NewMemoryLimits(budgets map[string]Budget) *Limits {
	govs := make(map[string]Governor, len(budgets))
	for action, b := range budgets {
		govs[action] = NewMemoryGovernor(b)
	}
	return &Limits{governors: govs}
}

// NewRedisLimits builds Redis-backed governors for the given budgets.
func NewRedisLimits(rdb redis.UniversalClient, budgets map[string]Budget) *Limits {
	govs := make(map[string]Governor, len(budgets))
	for action, b := range budgets {
		govs[action] = NewRedisGovernor(rdb, action, b)
	}
	return &Limits{governors: govs}
}

// Action returns the governor for a named action, falling back to the
// generic governor for unknown names.
func (l *Limits) Action(name string) Governor {
	if g, ok := l.governors[name]; ok {
		return g
	}
	return l.governors[ActionGeneric]
}

// unlimited admits everything; used when an action has no budget at all.
type unlimited struct{}

func (unlimited) Consume(context.Context, string) (Result, error) {
	return Result{Allowed: true, Remaining: 1}, nil
}

var _ Governor = unlimited{}

// NoLimit returns a governor that never rejects. Handy in tests.
func NoLimit() Governor { return unlimited{} }
