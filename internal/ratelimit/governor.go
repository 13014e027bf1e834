// Package ratelimit implements the per-action request governors that sit
// in front of authentication. Each named action (generic, register,
// chat) owns an independent counter space keyed by client identity;
// exhausting one action's budget never affects another's. Counters are
// ephemeral: losing them on restart is a documented weakness, not a
// correctness bug.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// Result is the outcome of one unit of consumption.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

// Governor admits or rejects one unit of work for a client key. Consume
// must be atomic per key: two racing requests must never both be
// admitted over budget.
type Governor interface {
	Consume(ctx context.Context, key string) (Result, error)
}

// Budget is one action's window configuration.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Actions with distinct budgets. Everything not otherwise named consumes
// from the generic budget.
const (
	ActionGeneric  = "generic"
	ActionRegister = "register"
	ActionChat     = "chat"
)

// ClientKey derives the coarse client identity a governor keys on: the
// first IP in a forwarded-for chain, else the real-ip header, else the
// remote address host, else a fixed "unknown" bucket. This is abuse
// mitigation, not precise attribution.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// retryAfter rounds a remaining window up to whole seconds so the value
// is directly usable in a Retry-After header.
func retryAfter(until time.Duration) time.Duration {
	secs := until / time.Second
	if until%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
