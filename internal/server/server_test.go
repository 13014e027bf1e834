package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/token"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-integration-tests"
	testEmail     = "owner@example.com"
	testPassword  = "supersecretpassword"
)

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	authSvc *service.AuthService
}

// fastArgon2 keeps hashing cheap in tests without changing behavior.
func fastArgon2() *token.Argon2Hasher {
	p := token.DefaultArgon2Params()
	p.Memory = 8 * 1024
	p.Parallelism = 1
	return token.NewArgon2Hasher(p)
}

// newTestEnv creates a fresh environment with an in-memory store, one
// seeded user, and a fully wired Server with unlimited rate budgets.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimits(t, ratelimit.NewMemoryLimits(map[string]ratelimit.Budget{
		ratelimit.ActionGeneric:  {Limit: 100000, Window: time.Minute},
		ratelimit.ActionRegister: {Limit: 100000, Window: time.Minute},
		ratelimit.ActionChat:     {Limit: 100000, Window: time.Minute},
	}))
}

func newTestEnvWithLimits(t *testing.T, limits *ratelimit.Limits) *testEnv {
	t.Helper()

	st, err := store.Open(store.Config{Driver: "sqlite"}) // in-memory
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(st, fastArgon2(), service.Config{JWTSecret: testJWTSecret}, logger)
	t.Cleanup(authSvc.Close)

	if _, err := authSvc.RegisterUser(context.Background(), testEmail, testPassword, "Owner"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	cfg := DefaultConfig()
	cfg.EdgeRPM = 0 // edge limiter off; action governors under test instead
	srv := New(cfg, st, authSvc, limits, logger)

	return &testEnv{server: srv, store: st, authSvc: authSvc}
}

// do performs one request against the router and decodes the JSON body.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, mutate func(*http.Request)) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, path, reader)
	r.RemoteAddr = "10.0.0.1:12345"
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(r)
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, r)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

// login returns a session token for the seeded user.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/api/v1/session", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	tok, _ := body["session_token"].(string)
	if tok == "" {
		t.Fatal("login response missing session_token")
	}
	return tok
}

func withSession(tok string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: service.SessionCookie, Value: tok})
	}
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
}

// issueKey creates an API credential via the HTTP surface and returns
// the raw secret and its ID.
func (e *testEnv) issueKey(t *testing.T, session string, scopes []string) (secret, id string) {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/api/v1/keys", map[string]interface{}{
		"label":  "test key",
		"scopes": scopes,
	}, withSession(session))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key status = %d: %s", rec.Code, rec.Body.String())
	}
	secret, _ = body["api_key"].(string)
	id, _ = body["id"].(string)
	if secret == "" || id == "" {
		t.Fatalf("create key response missing fields: %v", body)
	}
	return secret, id
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec, body := e.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyz(t *testing.T) {
	e := newTestEnv(t)
	rec, body := e.do(t, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["store"] != "ok" {
		t.Fatalf("checks = %v", checks)
	}
}

// ---------------------------------------------------------------------------
// Registration and sessions
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/api/v1/users", map[string]string{
		"email":    "new@example.com",
		"password": "another-password",
		"name":     "New User",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["email"] != "new@example.com" {
		t.Fatalf("body = %v", body)
	}
	// The password hash must never appear in the response.
	if _, leaked := body["password_hash"]; leaked {
		t.Fatal("password hash leaked in registration response")
	}
}

func TestRegister_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing email", map[string]string{"password": "long-enough-pw"}},
		{"invalid email", map[string]string{"email": "not-an-email", "password": "long-enough-pw"}},
		{"short password", map[string]string{"email": "x@example.com", "password": "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := e.do(t, http.MethodPost, "/api/v1/users", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	e := newTestEnv(t)
	rec, _ := e.do(t, http.MethodPost, "/api/v1/users", map[string]string{
		"email":    testEmail,
		"password": "whatever-password",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/api/v1/session", map[string]string{
		"email":    testEmail,
		"password": testPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["token_type"] != "bearer" {
		t.Fatalf("body = %v", body)
	}

	// The session cookie rides along.
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == service.SessionCookie && c.Value != "" {
			found = true
			if !c.HttpOnly {
				t.Fatal("session cookie must be HttpOnly")
			}
		}
	}
	if !found {
		t.Fatal("session cookie not set")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	e := newTestEnv(t)

	// Wrong password and unknown email produce identical responses.
	rec1, body1 := e.do(t, http.MethodPost, "/api/v1/session", map[string]string{
		"email": testEmail, "password": "wrong-password",
	}, nil)
	rec2, body2 := e.do(t, http.MethodPost, "/api/v1/session", map[string]string{
		"email": "nobody@example.com", "password": testPassword,
	}, nil)

	if rec1.Code != http.StatusUnauthorized || rec2.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", rec1.Code, rec2.Code)
	}
	e1, _ := body1["error"].(map[string]interface{})
	e2, _ := body2["error"].(map[string]interface{})
	if e1["message"] != e2["message"] {
		t.Fatalf("messages differ: %v vs %v", e1["message"], e2["message"])
	}
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	rec, _ := e.do(t, http.MethodDelete, "/api/v1/session", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == service.SessionCookie && c.MaxAge >= 0 {
			t.Fatal("logout did not clear the session cookie")
		}
	}
}

func TestMe(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	rec, body := e.do(t, http.MethodGet, "/api/v1/me", nil, withSession(session))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["method"] != "session" {
		t.Fatalf("method = %v", body["method"])
	}
}

// ---------------------------------------------------------------------------
// Credential management
// ---------------------------------------------------------------------------

func TestKeyLifecycle(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	secret, id := e.issueKey(t, session, []string{"read", "write"})
	if !strings.HasPrefix(secret, "kg_live_") {
		t.Fatalf("secret %q missing marker", secret)
	}

	// Listing shows the masked form, never the secret or hash.
	rec, body := e.do(t, http.MethodGet, "/api/v1/keys", nil, withSession(session))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), secret) {
		t.Fatal("raw secret leaked in key listing")
	}
	if strings.Contains(string(raw), "$argon2id$") {
		t.Fatal("secret hash leaked in key listing")
	}
	resource, _ := body["resource"].([]interface{})
	if len(resource) != 1 {
		t.Fatalf("resource = %v", body)
	}
	entry, _ := resource[0].(map[string]interface{})
	if key, _ := entry["key"].(string); !strings.HasSuffix(key, "...") {
		t.Fatalf("masked key = %q", key)
	}

	// The key authenticates API calls.
	rec, _ = e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(secret))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping with key = %d", rec.Code)
	}

	// Revoke, then the same key is rejected with the generic message.
	rec, _ = e.do(t, http.MethodDelete, "/api/v1/keys/"+id, nil, withSession(session))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d: %s", rec.Code, rec.Body.String())
	}
	rec, body = e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(secret))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key status = %d", rec.Code)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["message"] != "missing or invalid credentials" {
		t.Fatalf("revoked key message = %v", errObj["message"])
	}

	// Revoked keys remain listed for bookkeeping; hard delete removes them.
	rec, body = e.do(t, http.MethodGet, "/api/v1/keys", nil, withSession(session))
	resource, _ = body["resource"].([]interface{})
	if len(resource) != 1 {
		t.Fatalf("listing after revoke = %v", body)
	}
	rec, _ = e.do(t, http.MethodDelete, "/api/v1/keys/"+id+"?hard=true", nil, withSession(session))
	if rec.Code != http.StatusOK {
		t.Fatalf("hard delete status = %d", rec.Code)
	}
	rec, body = e.do(t, http.MethodGet, "/api/v1/keys", nil, withSession(session))
	resource, _ = body["resource"].([]interface{})
	if len(resource) != 0 {
		t.Fatalf("listing after hard delete = %v", body)
	}
}

func TestKeyCreate_Cap(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	for i := 0; i < 5; i++ {
		e.issueKey(t, session, []string{"read"})
	}
	rec, _ := e.do(t, http.MethodPost, "/api/v1/keys", map[string]interface{}{
		"scopes": []string{"read"},
	}, withSession(session))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("over-cap status = %d, want 400", rec.Code)
	}
}

func TestKeyCreate_InvalidScopes(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	rec, _ := e.do(t, http.MethodPost, "/api/v1/keys", map[string]interface{}{
		"scopes": []string{"read", "sudo"},
	}, withSession(session))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestKeyRevoke_NotFound(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	rec, _ := e.do(t, http.MethodDelete, "/api/v1/keys/no-such-id", nil, withSession(session))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestKeyRevoke_OtherOwner(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)
	_, id := e.issueKey(t, session, []string{"read"})

	// A second user cannot revoke the first user's key.
	if _, err := e.authSvc.RegisterUser(context.Background(), "other@example.com", "other-password", ""); err != nil {
		t.Fatalf("register other: %v", err)
	}
	rec, body := e.do(t, http.MethodPost, "/api/v1/session", map[string]string{
		"email": "other@example.com", "password": "other-password",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("other login = %d", rec.Code)
	}
	otherSession, _ := body["session_token"].(string)

	rec, _ = e.do(t, http.MethodDelete, "/api/v1/keys/"+id, nil, withSession(otherSession))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-owner revoke = %d, want 404", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Scope enforcement
// ---------------------------------------------------------------------------

func TestScopeEnforcement(t *testing.T) {
	e := newTestEnv(t)
	session := e.login(t)

	readKey, _ := e.issueKey(t, session, []string{"read"})
	writeKey, _ := e.issueKey(t, session, []string{"write"})

	// read key: ping ok, chat forbidden.
	rec, _ := e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(readKey))
	if rec.Code != http.StatusOK {
		t.Fatalf("read key ping = %d", rec.Code)
	}
	rec, body := e.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": "hi"}, withBearer(readKey))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read key chat = %d, want 403", rec.Code)
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["kind"] != string(model.FailureInsufficientScope) {
		t.Fatalf("kind = %v", errObj["kind"])
	}

	// write key: chat ok, and ping ok too since write implies read.
	rec, _ = e.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": "hi"}, withBearer(writeKey))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("write key chat = %d: %s", rec.Code, rec.Body.String())
	}
	rec, _ = e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(writeKey))
	if rec.Code != http.StatusOK {
		t.Fatalf("write key ping = %d", rec.Code)
	}
}

func TestUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/me"},
		{http.MethodGet, "/api/v1/keys"},
		{http.MethodPost, "/api/v1/keys"},
		{http.MethodGet, "/api/v1/ping"},
		{http.MethodPost, "/api/v1/chat"},
	}
	for _, p := range paths {
		rec, _ := e.do(t, p.method, p.path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestInvalidCredentialShapesAreIndistinguishable(t *testing.T) {
	e := newTestEnv(t)

	// A malformed token and a well-formed unknown token must produce the
	// same status and message.
	malformed := "kg_live_short"
	unknown := "kg_live_" + strings.Repeat("0", 64)

	rec1, body1 := e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(malformed))
	rec2, body2 := e.do(t, http.MethodGet, "/api/v1/ping", nil, withBearer(unknown))

	if rec1.Code != http.StatusUnauthorized || rec2.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", rec1.Code, rec2.Code)
	}
	e1, _ := body1["error"].(map[string]interface{})
	e2, _ := body2["error"].(map[string]interface{})
	if e1["message"] != e2["message"] {
		t.Fatalf("messages differ: %v vs %v", e1["message"], e2["message"])
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestRegisterRateLimit(t *testing.T) {
	limits := ratelimit.NewMemoryLimits(map[string]ratelimit.Budget{
		ratelimit.ActionGeneric:  {Limit: 100000, Window: time.Minute},
		ratelimit.ActionRegister: {Limit: 2, Window: time.Hour},
		ratelimit.ActionChat:     {Limit: 100000, Window: time.Minute},
	})
	e := newTestEnvWithLimits(t, limits)

	for i := 0; i < 2; i++ {
		rec, _ := e.do(t, http.MethodPost, "/api/v1/users", map[string]string{
			"email":    fmt.Sprintf("u%d@example.com", i),
			"password": "long-enough-pw",
		}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("register %d = %d", i, rec.Code)
		}
	}

	rec, body := e.do(t, http.MethodPost, "/api/v1/users", map[string]string{
		"email":    "u9@example.com",
		"password": "long-enough-pw",
	}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["kind"] != string(model.FailureRateLimited) {
		t.Fatalf("kind = %v", errObj["kind"])
	}

	// The generic budget for the same client is unaffected.
	recH, _ := e.do(t, http.MethodGet, "/healthz", nil, nil)
	if recH.Code != http.StatusOK {
		t.Fatalf("healthz after 429 = %d", recH.Code)
	}
}

func TestChatRateLimit(t *testing.T) {
	limits := ratelimit.NewMemoryLimits(map[string]ratelimit.Budget{
		ratelimit.ActionGeneric:  {Limit: 100000, Window: time.Minute},
		ratelimit.ActionRegister: {Limit: 100000, Window: time.Minute},
		ratelimit.ActionChat:     {Limit: 1, Window: time.Minute},
	})
	e := newTestEnvWithLimits(t, limits)
	session := e.login(t)

	rec, _ := e.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": "one"}, withSession(session))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first chat = %d", rec.Code)
	}
	rec, _ = e.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": "two"}, withSession(session))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second chat = %d, want 429", rec.Code)
	}

	// Other authenticated endpoints for the same client stay available.
	rec, _ = e.do(t, http.MethodGet, "/api/v1/ping", nil, withSession(session))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping after chat 429 = %d", rec.Code)
	}
}
