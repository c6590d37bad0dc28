package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/folio/internal/collection"
	"github.com/kamusis/folio/internal/embeddings"
	"github.com/kamusis/folio/internal/maintenance"
	"github.com/kamusis/folio/internal/segment"
	"github.com/kamusis/folio/internal/store/files"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := files.Open(t.TempDir())
	require.NoError(t, err)
	emb, err := embeddings.NewHash(128)
	require.NoError(t, err)
	seg, err := segment.New(80, 10, 0)
	require.NoError(t, err)
	mgr, err := collection.NewManager(collection.Options{Store: st, Embedder: emb, Segmenter: seg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return NewServer(Options{Manager: mgr, TopK: 3, TokenBudget: 500})
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestServer_IngestSearchContextDelete(t *testing.T) {
	s := newTestServer(t)

	rec, out := do(t, s, http.MethodPost, "/v1/collections/docs/ingest",
		`{"source_id":"guides/cats.md","text":"Cats sleep in the sun. Cats chase mice at night.","metadata":{"title":"Cats","author":"Ada"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Greater(t, out["chunk_count"].(float64), 0.0)

	rec, _ = do(t, s, http.MethodPost, "/v1/collections/docs/ingest",
		`{"source_id":"ships.txt","text":"Container ships carry cargo across oceans."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out = do(t, s, http.MethodPost, "/v1/collections/docs/search", `{"query":"cats chase mice","top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "guides/cats.md", results[0].(map[string]any)["source_id"])

	rec, out = do(t, s, http.MethodPost, "/v1/collections/docs/context", `{"query":"cats"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out["context"], "--- Source: Cats, Author: Ada ---")
	assert.NotEmpty(t, out["used_chunk_ids"])

	rec, out = do(t, s, http.MethodGet, "/v1/collections/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docs", out["id"])

	rec, out = do(t, s, http.MethodDelete, "/v1/collections/docs/sources/guides/cats.md", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Greater(t, out["removed_count"].(float64), 0.0)

	rec, out = do(t, s, http.MethodGet, "/v1/collections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"docs"}, out["collections"])

	rec, out = do(t, s, http.MethodDelete, "/v1/collections/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])

	rec, _ = do(t, s, http.MethodGet, "/v1/collections/docs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	rec, out := do(t, s, http.MethodPost, "/v1/collections/docs/ingest", `{"source_id":"a","text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["retryable"])

	rec, _ = do(t, s, http.MethodPost, "/v1/collections/docs/ingest", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/collections/nowhere/search", `{"query":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/collections/docs/search", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		collection.ErrUnsupportedInput:     http.StatusBadRequest,
		collection.ErrNotFound:             http.StatusNotFound,
		collection.ErrDimensionMismatch:    http.StatusConflict,
		collection.ErrPersistence:          http.StatusServiceUnavailable,
		collection.ErrEmbedding:            http.StatusBadGateway,
		collection.ErrStructuralCorruption: http.StatusInternalServerError,
		context.Canceled:                   http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestServer_HealthAndRequestID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"model_id":"hash:128"`)
}

type fixedStatus maintenance.Status

func (f fixedStatus) Status() maintenance.Status { return maintenance.Status(f) }

func TestServer_HealthReportsPruneStatus(t *testing.T) {
	s := newTestServer(t)
	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "prune")

	s.maint = fixedStatus{Runs: 2, LastRemoved: 3, LastRun: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), LastError: "disk full"}
	rec, body = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"runs":         float64(2),
		"last_removed": float64(3),
		"last_run_utc": "2026-01-02T03:04:05Z",
		"last_error":   "disk full",
	}, body["prune"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/v1/collections/docs/search", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
