package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
)

// EdgeLimit is the coarse per-IP limit applied in front of everything,
// using a sliding window. The per-action governors run behind it.
func EdgeLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// Limit applies one named action's governor, keyed by client identity.
// It runs before authentication so unauthenticated abuse is bounded too.
// A governor backend failure is logged and the request admitted:
// degraded rate limiting is preferable to a hard outage.
func Limit(governor ratelimit.Governor, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := governor.Consume(r.Context(), ratelimit.ClientKey(r))
			if err != nil {
				logger.Warn("rate governor unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				secs := int(res.RetryAfter / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(model.ErrorResponse{
					Error: model.ErrorDetail{
						Code:       http.StatusTooManyRequests,
						Kind:       model.FailureRateLimited,
						Message:    "rate limit exceeded",
						RetryAfter: secs,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
