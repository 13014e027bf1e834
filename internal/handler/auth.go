package handler

import (
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// AuthHandler serves session login/logout, registration, and identity
// introspection.
type AuthHandler struct {
	auth  *service.AuthService
	store *store.Store
	dev   bool
}

// NewAuthHandler creates an AuthHandler. dev enables error detail in
// internal-failure responses.
func NewAuthHandler(auth *service.AuthService, st *store.Store, dev bool) *AuthHandler {
	return &AuthHandler{auth: auth, store: st, dev: dev}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
}

// Login authenticates an email/password pair, sets the session cookie,
// and returns the session token.
// POST /api/v1/session
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "", "email and password are required")
		return
	}

	tokenStr, user, err := h.auth.IssueSession(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err, h.dev)
		return
	}

	ttl := h.auth.SessionTTL()
	http.SetCookie(w, &http.Cookie{
		Name:     service.SessionCookie,
		Value:    tokenStr,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tokenStr,
		TokenType: "bearer",
		ExpiresIn: int(ttl.Seconds()),
		UserID:    user.ID,
		Email:     user.Email,
	})
}

// Logout clears the session cookie. Session tokens are stateless, so
// there is nothing to invalidate server-side.
// DELETE /api/v1/session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     service.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "session cleared",
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates a first-party user account.
// POST /api/v1/users
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "", "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "", "password must be at least 8 characters")
		return
	}

	user, err := h.auth.RegisterUser(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeServiceError(w, err, h.dev)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Me returns the authenticated identity and its effective scopes.
// GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVerdict(r.Context())
	if v == nil {
		writeError(w, http.StatusUnauthorized, model.FailureUnauthenticated, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal_id": v.PrincipalID,
		"method":       v.Method,
		"scopes":       v.Scopes.Strings(),
	})
}
