package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// KeyHandler serves credential management for the authenticated owner.
type KeyHandler struct {
	auth  *service.AuthService
	store *store.Store
	dev   bool
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(auth *service.AuthService, st *store.Store, dev bool) *KeyHandler {
	return &KeyHandler{auth: auth, store: st, dev: dev}
}

// List returns the caller's credentials with the secret masked: the
// non-secret prefix plus an ellipsis, never the secret or its hash.
// GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVerdict(r.Context())

	creds, err := h.store.ListCredentialsForOwner(r.Context(), v.PrincipalID)
	if err != nil {
		writeServiceError(w, err, h.dev)
		return
	}

	resources := make([]map[string]interface{}, 0, len(creds))
	for i := range creds {
		resources = append(resources, credentialToMap(&creds[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

type createKeyRequest struct {
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse includes the plaintext secret, shown once only.
type createKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"api_key"` // plaintext, shown ONCE
	KeyPrefix string     `json:"key_prefix"`
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Create issues a new credential for the caller. The raw secret appears
// in this response and nowhere else, ever again.
// POST /api/v1/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVerdict(r.Context())

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	scopes, err := model.ParseScopeSet(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "", "expires_at must be in the future")
		return
	}

	secret, cred, err := h.auth.IssueCredential(r.Context(), v.PrincipalID, req.Label, scopes, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, err, h.dev)
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:        cred.ID,
		Key:       secret,
		KeyPrefix: cred.Prefix,
		Label:     cred.Label,
		Scopes:    cred.Scopes.Strings(),
		ExpiresAt: cred.ExpiresAt,
		CreatedAt: cred.CreatedAt,
	})
}

// Revoke disables a credential, or removes it entirely with ?hard=true.
// Revocation keeps the row for audit; hard delete is owner-initiated
// removal.
// DELETE /api/v1/keys/{keyID}
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVerdict(r.Context())
	keyID := chi.URLParam(r, "keyID")

	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = h.store.DeleteCredential(r.Context(), keyID, v.PrincipalID)
	} else {
		err = h.store.DisableCredential(r.Context(), keyID, v.PrincipalID)
	}
	if err != nil {
		writeServiceError(w, err, h.dev)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "credential revoked",
	})
}

func credentialToMap(c *model.Credential) map[string]interface{} {
	m := map[string]interface{}{
		"id":         c.ID,
		"key":        c.Masked(),
		"key_prefix": c.Prefix,
		"label":      c.Label,
		"scopes":     c.Scopes.Strings(),
		"is_active":  c.Active,
		"created_at": c.CreatedAt,
	}
	if c.ExpiresAt != nil {
		m["expires_at"] = c.ExpiresAt
	}
	if c.LastUsedAt != nil {
		m["last_used_at"] = c.LastUsedAt
	}
	return m
}
