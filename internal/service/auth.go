package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/token"
)

// SessionCookie is the cookie carrying a first-party session token.
const SessionCookie = "keygate_session"

var (
	// ErrMalformedCredential: structurally invalid bearer token. No store
	// access was performed.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrInvalidCredential: well-formed but does not verify, is expired,
	// or is disabled. The three causes are deliberately indistinguishable.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidLogin: unknown email or wrong password, indistinguishable.
	ErrInvalidLogin = errors.New("invalid email or password")
	// ErrCredentialLimit: the per-owner active credential cap is reached.
	ErrCredentialLimit = errors.New("active credential limit reached")
)

// Config tunes the AuthService.
type Config struct {
	JWTSecret       string
	SessionTTL      time.Duration
	MaxKeysPerOwner int
}

// AuthService owns credential issuance and verification, session
// issuance and validation, and the dual-mode resolver chain that unifies
// the two into one verdict.
type AuthService struct {
	store      *store.Store
	hasher     token.SecretHasher
	codec      *token.Codec
	jwtSecret  []byte
	sessionTTL time.Duration
	maxKeys    int
	logger     *slog.Logger
	touches    *touchWorker

	// now is swapped in tests to pin expiry boundaries.
	now func() time.Time
}

// NewAuthService creates an AuthService and starts its background
// last-used worker. Call Close to drain it.
func NewAuthService(st *store.Store, hasher token.SecretHasher, cfg Config, logger *slog.Logger) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.MaxKeysPerOwner <= 0 {
		cfg.MaxKeysPerOwner = 5
	}
	return &AuthService{
		store:      st,
		hasher:     hasher,
		codec:      token.NewCodec(hasher),
		jwtSecret:  []byte(cfg.JWTSecret),
		sessionTTL: cfg.SessionTTL,
		maxKeys:    cfg.MaxKeysPerOwner,
		logger:     logger,
		touches:    newTouchWorker(st, logger),
		now:        time.Now,
	}
}

// Close drains the pending last-used updates and stops the worker.
func (s *AuthService) Close() {
	s.touches.Close()
}

// ---------------------------------------------------------------------------
// Credential verification
// ---------------------------------------------------------------------------

// VerifyCredential checks a bearer string against the stored credential
// hashes and returns the owning principal's verdict.
//
// Every active row sharing the token's prefix is compared, without
// short-circuiting on a match or a mismatch: an observer timing the call
// must not be able to tell how many rows share the prefix or where in
// the candidate list the real one sits. Expired rows are compared too
// and only excluded from selection afterwards. Among rows that verified
// and are unexpired, the first in stable store order wins; simultaneous
// valid rows under one prefix are a tolerated edge case.
func (s *AuthService) VerifyCredential(ctx context.Context, bearer string) (*model.Verdict, error) {
	if !token.IsWellFormed(bearer) {
		return nil, ErrMalformedCredential
	}
	prefix, ok := token.ExtractPrefix(bearer)
	if !ok {
		return nil, ErrMalformedCredential
	}

	rows, err := s.store.FindActiveByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("load candidate credentials: %w", err)
	}

	now := s.now()
	var matched *model.Credential
	for i := range rows {
		verified, err := s.hasher.Verify(bearer, rows[i].SecretHash)
		if err != nil {
			// A corrupt stored hash is logged and treated as a mismatch;
			// the comparison still counted toward the uniform loop.
			s.logger.Warn("credential hash verify failed",
				"credential_id", rows[i].ID, "error", err)
			continue
		}
		if verified && !rows[i].ExpiredAt(now) && matched == nil {
			matched = &rows[i]
		}
	}

	if matched == nil {
		// Zero candidates, expired rows, and wrong secrets all land here
		// with the same outcome.
		return nil, ErrInvalidCredential
	}

	s.touches.Enqueue(matched.ID)

	return &model.Verdict{
		Authenticated: true,
		PrincipalID:   matched.OwnerID,
		Scopes:        matched.Scopes,
		Method:        model.AuthMethodAPIKey,
		CredentialID:  matched.ID,
	}, nil
}

// ---------------------------------------------------------------------------
// Dual-mode authentication
// ---------------------------------------------------------------------------

// resolver attempts to produce a verdict from one identity source.
// Returning ok=false means the source was absent and the chain should
// move on; a present-but-invalid identity returns ok=true with a failed
// verdict.
type resolver func(r *http.Request) (*model.Verdict, bool)

// Authenticate runs the ordered resolver chain: session identity first,
// then bearer credential. Session identity always wins and is granted
// the full read/write scope set; credential identity carries exactly the
// credential's own scopes, never escalated.
func (s *AuthService) Authenticate(r *http.Request) *model.Verdict {
	for _, resolve := range []resolver{s.resolveSession, s.resolveCredential} {
		if v, ok := resolve(r); ok {
			return v
		}
	}
	return model.Unauthenticated(model.FailureUnauthenticated)
}

// resolveSession reads a session token from the session cookie, or from
// the Authorization header when the bearer value is not an API
// credential.
func (s *AuthService) resolveSession(r *http.Request) (*model.Verdict, bool) {
	var raw string
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		raw = c.Value
	} else if b := bearerToken(r); b != "" && !strings.HasPrefix(b, token.SchemeMarker) {
		raw = b
	}
	if raw == "" {
		return nil, false
	}

	userID, err := s.ValidateSession(raw)
	if err != nil {
		return model.Unauthenticated(model.FailureUnauthenticated), true
	}
	return &model.Verdict{
		Authenticated: true,
		PrincipalID:   userID,
		Scopes:        model.SessionScopes(),
		Method:        model.AuthMethodSession,
	}, true
}

// resolveCredential reads an API credential from the Authorization
// header and runs the verifier.
func (s *AuthService) resolveCredential(r *http.Request) (*model.Verdict, bool) {
	bearer := bearerToken(r)
	if bearer == "" || !strings.HasPrefix(bearer, token.SchemeMarker) {
		return nil, false
	}

	v, err := s.VerifyCredential(r.Context(), bearer)
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, ErrMalformedCredential):
		return model.Unauthenticated(model.FailureMalformedCredential), true
	case errors.Is(err, ErrInvalidCredential):
		return model.Unauthenticated(model.FailureInvalidCredential), true
	default:
		s.logger.Error("credential verification failed", "error", err)
		return model.Unauthenticated(model.FailureStoreUnavailable), true
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type sessionClaims struct {
	jwt.RegisteredClaims
}

// IssueSession authenticates an email/password pair and returns a signed
// session token. Unknown email and wrong password are indistinguishable.
func (s *AuthService) IssueSession(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidLogin
		}
		return "", nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return "", nil, ErrInvalidLogin
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return "", nil, ErrInvalidLogin
	}

	now := s.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			Issuer:    "keygate",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("last-login update failed", "user_id", user.ID, "error", err)
	}

	return signed, user, nil
}

// SessionTTL returns the configured session lifetime, used for cookie
// expiry and the login response.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// ValidateSession verifies a session token and returns the user ID.
func (s *AuthService) ValidateSession(tokenStr string) (string, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidLogin
	}
	return claims.Subject, nil
}

// RegisterUser creates a first-party user with an argon2id password hash.
func (s *AuthService) RegisterUser(ctx context.Context, email, password, name string) (*model.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ---------------------------------------------------------------------------
// Credential issuance
// ---------------------------------------------------------------------------

// IssueCredential generates a new credential for the owner, enforcing
// the per-owner active cap. The raw secret is returned exactly once and
// never stored.
func (s *AuthService) IssueCredential(ctx context.Context, ownerID, label string, scopes model.ScopeSet, expiresAt *time.Time) (string, *model.Credential, error) {
	if len(scopes) == 0 {
		scopes = model.ScopeSet{model.ScopeRead}
	}

	// Count-then-insert is not atomic: two racing creates for one owner
	// can land one credential over the cap. The cap is an abuse bound,
	// not an accounting invariant, so that is accepted.
	count, err := s.store.CountActiveForOwner(ctx, ownerID)
	if err != nil {
		return "", nil, fmt.Errorf("count active credentials: %w", err)
	}
	if count >= s.maxKeys {
		return "", nil, ErrCredentialLimit
	}

	gen, err := s.codec.Generate()
	if err != nil {
		return "", nil, err
	}

	cred := &model.Credential{
		SecretHash: gen.Hash,
		Prefix:     gen.Prefix,
		OwnerID:    ownerID,
		Label:      label,
		Scopes:     scopes,
		Active:     true,
		ExpiresAt:  expiresAt,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return "", nil, err
	}
	return gen.Secret, cred, nil
}
