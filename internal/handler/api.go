package handler

import (
	"net/http"
	"strings"

	"github.com/keygate/keygate/internal/server/middleware"
)

// APIHandler serves the small authenticated surface behind the access
// gate. These endpoints stand in for the business logic that consumes
// authentication verdicts.
type APIHandler struct{}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler() *APIHandler {
	return &APIHandler{}
}

// Ping echoes the caller's identity. Requires the read scope.
// GET /api/v1/ping
func (h *APIHandler) Ping(w http.ResponseWriter, r *http.Request) {
	v := middleware.GetVerdict(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pong":         true,
		"principal_id": v.PrincipalID,
		"method":       v.Method,
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat accepts a message. Requires the write scope and consumes from the
// chat rate budget.
// POST /api/v1/chat
func (h *APIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "", "message is required")
		return
	}

	v := middleware.GetVerdict(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":     true,
		"principal_id": v.PrincipalID,
		"length":       len(req.Message),
	})
}
