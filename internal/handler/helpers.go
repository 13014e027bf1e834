package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

// writeJSON serializes v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, kind model.FailureKind, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Kind:    kind,
			Message: message,
		},
	})
}

// readJSON decodes the request body into v, closing it afterwards.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeServiceError is the outermost error boundary: every failure from
// the service layer maps to a stable kind and status here. Unexpected
// faults become a generic internal failure; the raw message is attached
// only in development mode, never in production responses.
func writeServiceError(w http.ResponseWriter, err error, dev bool) {
	switch {
	case errors.Is(err, service.ErrMalformedCredential),
		errors.Is(err, service.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, model.FailureInvalidCredential,
			"missing or invalid credentials")
	case errors.Is(err, service.ErrInvalidLogin):
		writeError(w, http.StatusUnauthorized, model.FailureUnauthenticated,
			"invalid email or password")
	case errors.Is(err, service.ErrCredentialLimit):
		writeError(w, http.StatusBadRequest, "", "active credential limit reached")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "", "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "", "already exists")
	default:
		detail := ""
		if dev {
			detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error: model.ErrorDetail{
				Code:    http.StatusInternalServerError,
				Kind:    model.FailureStoreUnavailable,
				Message: "internal error",
				Detail:  detail,
			},
		})
	}
}
