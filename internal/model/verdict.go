package model

// AuthMethod identifies which resolver produced a verdict.
type AuthMethod string

const (
	AuthMethodSession AuthMethod = "session"
	AuthMethodAPIKey  AuthMethod = "api_key"
)

// FailureKind is the machine-readable classification of an authentication
// or authorization failure. It is stable across releases; handlers map it
// to HTTP status codes without leaking internal detail.
type FailureKind string

const (
	// FailureMalformedCredential: the bearer token is structurally
	// invalid. No store access was performed.
	FailureMalformedCredential FailureKind = "malformed_credential"
	// FailureInvalidCredential: the token is well-formed but does not
	// verify, is expired, or is disabled. The three causes are
	// deliberately indistinguishable to the caller.
	FailureInvalidCredential FailureKind = "invalid_credential"
	// FailureUnauthenticated: no session and no credential presented.
	FailureUnauthenticated FailureKind = "unauthenticated"
	// FailureInsufficientScope: identity resolved but lacks the required
	// capability.
	FailureInsufficientScope FailureKind = "insufficient_scope"
	// FailureRateLimited: the action exceeded its window budget.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureStoreUnavailable: the backing store could not be queried.
	FailureStoreUnavailable FailureKind = "store_unavailable"
)

// Verdict is the transient result of an authentication attempt. It is
// never persisted.
type Verdict struct {
	Authenticated bool
	PrincipalID   string
	Scopes        ScopeSet
	Method        AuthMethod
	CredentialID  string // set only for api_key verdicts
	Failure       FailureKind
}

// Unauthenticated builds a failed verdict with the given reason.
func Unauthenticated(reason FailureKind) *Verdict {
	return &Verdict{Failure: reason}
}
