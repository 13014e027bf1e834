package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

type contextKeyAuth string

// VerdictKey is the context key for the authentication verdict.
const VerdictKey contextKeyAuth = "auth_verdict"

// Authenticate runs the dual-mode resolver chain on every request. On
// success the verdict is attached to the request context; on failure a
// generic 401 envelope is written. The response never reveals whether a
// presented credential was unknown, expired, or disabled.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := authSvc.Authenticate(r)
			if !v.Authenticated {
				status := http.StatusUnauthorized
				if v.Failure == model.FailureStoreUnavailable {
					status = http.StatusInternalServerError
				}
				writeVerdictError(w, status, v.Failure)
				return
			}
			ctx := context.WithValue(r.Context(), VerdictKey, v)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope enforces a capability on an already-authenticated request.
// Must follow Authenticate in the chain.
func RequireScope(required model.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := GetVerdict(r.Context())
			if v == nil {
				writeVerdictError(w, http.StatusUnauthorized, model.FailureUnauthenticated)
				return
			}
			if !v.Scopes.Satisfies(required) {
				writeVerdictError(w, http.StatusForbidden, model.FailureInsufficientScope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetVerdict extracts the authentication verdict from the context, or
// nil for an unauthenticated request.
func GetVerdict(ctx context.Context) *model.Verdict {
	if v, ok := ctx.Value(VerdictKey).(*model.Verdict); ok {
		return v
	}
	return nil
}

// verdictMessages are the fixed, generic response messages. They are
// deliberately uninformative about the failure cause.
var verdictMessages = map[model.FailureKind]string{
	model.FailureMalformedCredential: "missing or invalid credentials",
	model.FailureInvalidCredential:   "missing or invalid credentials",
	model.FailureUnauthenticated:     "authentication required",
	model.FailureInsufficientScope:   "insufficient scope",
	model.FailureStoreUnavailable:    "internal error",
}

func writeVerdictError(w http.ResponseWriter, status int, kind model.FailureKind) {
	msg := verdictMessages[kind]
	if msg == "" {
		msg = "authentication required"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Kind:    kind,
			Message: msg,
		},
	})
}
