package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parsify-dev/codexec/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error    string `json:"error"`              // Machine-readable error type
	Message  string `json:"message"`            // Human-readable description
	Category string `json:"category,omitempty"` // Violated denylist category, for security errors
}

// writeJSON sends a JSON response with the given status code. Headers and
// status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps an engine error to the appropriate HTTP status. The
// engine returns typed apperror values; the mapping to HTTP lives only
// here, so the engine stays protocol-agnostic.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrMalformed):
			status = http.StatusBadRequest
			errorType = "malformed_request"
		case errors.Is(err, apperror.ErrUnsupportedLanguage):
			status = http.StatusUnprocessableEntity
			errorType = "unsupported_language"
		case errors.Is(err, apperror.ErrSecurity):
			status = http.StatusUnprocessableEntity
			errorType = "security_violation"
		case errors.Is(err, apperror.ErrNotInitialized):
			status = http.StatusServiceUnavailable
			errorType = "not_ready"
		case errors.Is(err, apperror.ErrInfrastructure):
			status = http.StatusInternalServerError
			errorType = "infrastructure_error"
		}

		writeJSON(w, status, ErrorResponse{
			Error:    errorType,
			Message:  appErr.Message,
			Category: appErr.Category,
		})
		return
	}

	// Unknown error: never leak internals to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
