package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmarsh-dev/crm-migrate/internal/logging"
	"github.com/dmarsh-dev/crm-migrate/internal/migrate"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError maps a domain error to its HTTP status and writes the JSON
// error body. The technical error is logged with the request ID.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err.Error())
}

// writeError writes a JSON error response and logs it server-side.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", message,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}

// statusForError maps session lifecycle errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, migrate.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, migrate.ErrSessionActive),
		errors.Is(err, migrate.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, migrate.ErrMappingAmbiguity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
