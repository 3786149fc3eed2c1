// Package handler is the thin HTTP layer over the execution engine: it
// parses JSON bodies, forwards them, and serializes results. Auth and rate
// limiting belong to middleware layers in front of this service, not here.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parsify-dev/codexec/internal/engine"
)

// ExecuteHandler exposes the engine over HTTP.
type ExecuteHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(eng *engine.Engine, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		engine: eng,
		logger: logger,
	}
}

// HandleExecute runs one snippet: POST /tools/code/execute.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "malformed_request",
			Message: "request body is not valid JSON",
		})
		return
	}

	result, err := h.engine.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleExecuteBatch runs several snippets concurrently and returns their
// results in request order: POST /tools/code/execute/batch.
func (h *ExecuteHandler) HandleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []engine.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "malformed_request",
			Message: "request body must be a JSON array of execution requests",
		})
		return
	}

	results := h.engine.ExecuteMultiple(r.Context(), reqs)
	writeJSON(w, http.StatusOK, results)
}

// HandleLanguages lists supported languages: GET /tools/code/languages.
func (h *ExecuteHandler) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.SupportedLanguages()
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if info := h.engine.EnvironmentInfo(id.String()); info != nil {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleLanguage describes one language: GET /tools/code/languages/{id}.
// Unknown ids are a 404, not an engine error.
func (h *ExecuteHandler) HandleLanguage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info := h.engine.EnvironmentInfo(id)
	if info == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "unsupported_language",
			Message: "language " + id + " is not registered",
		})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleStatistics reports the execution counters: GET /tools/code/stats.
func (h *ExecuteHandler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Statistics())
}
