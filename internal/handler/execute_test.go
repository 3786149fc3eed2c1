package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/parsify-dev/codexec/internal/engine"
	"github.com/parsify-dev/codexec/internal/handler"
	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter is a minimal runtime.Adapter that echoes code to stdout.
type stubAdapter struct {
	id language.ID
}

func (s *stubAdapter) Language() language.ID { return s.id }

func (s *stubAdapter) Compile(ctx context.Context, code string, flags []string) (*runtime.Artifact, error) {
	return nil, nil
}

func (s *stubAdapter) Run(ctx context.Context, spec runtime.RunSpec) (*runtime.RawResult, error) {
	io.WriteString(spec.Stdout, spec.Code)
	return &runtime.RawResult{ExitCode: 0}, nil
}

func (s *stubAdapter) EnvironmentInfo(ctx context.Context) (runtime.EnvironmentInfo, error) {
	return runtime.EnvironmentInfo{Language: s.id, Available: true, Version: "stub 1.0"}, nil
}

func newTestHandler(t *testing.T) *handler.ExecuteHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.DefaultOptions(), []runtime.Adapter{
		&stubAdapter{id: language.JavaScript},
		&stubAdapter{id: language.Python},
	}, logger)
	require.NoError(t, eng.Initialize(context.Background()))
	t.Cleanup(eng.Dispose)
	return handler.NewExecuteHandler(eng, logger)
}

func postJSON(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestHandleExecute(t *testing.T) {
	h := newTestHandler(t)

	t.Run("valid request", func(t *testing.T) {
		w := postJSON(h.HandleExecute, `{"code":"console.log(1)","language":"javascript"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var res engine.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "javascript", res.Language)
		assert.True(t, res.Metadata.WasSandboxed)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		w := postJSON(h.HandleExecute, `{not json`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var res handler.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "malformed_request", res.Error)
	})

	t.Run("empty code", func(t *testing.T) {
		w := postJSON(h.HandleExecute, `{"code":"","language":"javascript"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var res handler.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "malformed_request", res.Error)
	})

	t.Run("unsupported language", func(t *testing.T) {
		w := postJSON(h.HandleExecute, `{"code":"puts 1","language":"ruby"}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var res handler.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "unsupported_language", res.Error)
	})

	t.Run("security violation carries its category", func(t *testing.T) {
		w := postJSON(h.HandleExecute, `{"code":"eval(\"1\")","language":"javascript"}`)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var res handler.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "security_violation", res.Error)
		assert.NotEmpty(t, res.Category)
	})
}

func TestHandleExecuteBatch(t *testing.T) {
	h := newTestHandler(t)

	t.Run("results come back in request order", func(t *testing.T) {
		w := postJSON(h.HandleExecuteBatch, `[
			{"code":"first","language":"javascript"},
			{"code":"","language":"javascript"},
			{"code":"third","language":"python"}
		]`)
		require.Equal(t, http.StatusOK, w.Code)

		var results []engine.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
		require.Len(t, results, 3)

		assert.Equal(t, "first", results[0].Stdout)
		assert.False(t, results[1].Success, "a bad request settles as a failed result inside the batch")
		assert.Equal(t, "third", results[2].Stdout)
	})

	t.Run("body must be an array", func(t *testing.T) {
		w := postJSON(h.HandleExecuteBatch, `{"code":"x","language":"javascript"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleLanguages(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/tools/code/languages", nil)
	w := httptest.NewRecorder()
	h.HandleLanguages(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var infos []runtime.EnvironmentInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, language.JavaScript, infos[0].Language)
	assert.Equal(t, language.Python, infos[1].Language)
	for _, info := range infos {
		assert.True(t, info.Available)
		assert.NotEmpty(t, info.Version)
	}
}

func TestHandleLanguage(t *testing.T) {
	h := newTestHandler(t)

	// chi routing is needed so URLParam("id") resolves.
	r := chi.NewRouter()
	r.Get("/languages/{id}", h.HandleLanguage)

	t.Run("known language", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/languages/python", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var info runtime.EnvironmentInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, language.Python, info.Language)
	})

	t.Run("unknown language is a 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/languages/ruby", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleStatistics(t *testing.T) {
	h := newTestHandler(t)

	postJSON(h.HandleExecute, `{"code":"console.log(1)","language":"javascript"}`)

	req := httptest.NewRequest(http.MethodGet, "/tools/code/stats", nil)
	w := httptest.NewRecorder()
	h.HandleStatistics(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats engine.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
}
