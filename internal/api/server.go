// Package api exposes a collection.Manager over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kamusis/folio/internal/collection"
	"github.com/kamusis/folio/internal/maintenance"
	"github.com/kamusis/folio/internal/retrieval"
	"github.com/kamusis/folio/internal/vindex"
)

const maxBodyBytes = 32 << 20

// Options configures a Server.
type Options struct {
	Manager   *collection.Manager
	Assembler *retrieval.Assembler
	Logger    *log.Logger
	// Maintenance, when set, is reported by the health endpoint.
	Maintenance StatusReporter
	// Defaults applied when a request leaves them unset.
	TopK        int
	TokenBudget int
}

// StatusReporter reports background maintenance.
type StatusReporter interface {
	Status() maintenance.Status
}

type Server struct {
	mgr         *collection.Manager
	asm         *retrieval.Assembler
	logger      *log.Logger
	maint       StatusReporter
	topK        int
	tokenBudget int
	mux         *http.ServeMux
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	asm := opts.Assembler
	if asm == nil {
		asm = retrieval.NewAssembler(opts.Manager, retrieval.Options{})
	}
	s := &Server{
		mgr:         opts.Manager,
		asm:         asm,
		logger:      logger,
		maint:       opts.Maintenance,
		topK:        opts.TopK,
		tokenBudget: opts.TokenBudget,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/collections", s.handleList)
	s.mux.HandleFunc("GET /v1/collections/{id}", s.handleStats)
	s.mux.HandleFunc("DELETE /v1/collections/{id}", s.handleClear)
	s.mux.HandleFunc("POST /v1/collections/{id}/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /v1/collections/{id}/search", s.handleSearch)
	s.mux.HandleFunc("POST /v1/collections/{id}/context", s.handleContext)
	s.mux.HandleFunc("DELETE /v1/collections/{id}/sources/{source...}", s.handleDeleteSource)
	return s
}

// ServeHTTP tags every request with an X-Request-ID (generated when the
// client sent none) and logs its outcome.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("request",
		"id", reqID, "method", r.Method, "path", r.URL.Path,
		"status", rec.status, "duration", time.Since(start))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cannot shut down http server: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ── Requests / responses ─────────────────────────────────────────────────────

type ingestRequest struct {
	SourceID string          `json:"source_id"`
	Text     string          `json:"text"`
	Metadata vindex.Metadata `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type contextRequest struct {
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	TokenBudget int    `json:"token_budget"`
}

type searchResult struct {
	ID       string          `json:"chunk_id"`
	SourceID string          `json:"source_id"`
	Seq      int             `json:"seq"`
	Score    float32         `json:"score"`
	Text     string          `json:"text"`
	Metadata vindex.Metadata `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", collection.ErrUnsupportedInput, err)
	}
	return nil
}

// statusFor maps collection errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, collection.ErrUnsupportedInput):
		return http.StatusBadRequest
	case errors.Is(err, collection.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collection.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, collection.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, collection.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: collection.Retryable(err)})
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
		"model_id": s.mgr.Embedder().ModelID(),
	}
	if s.maint != nil {
		st := s.maint.Status()
		prune := map[string]any{
			"runs":         st.Runs,
			"last_removed": st.LastRemoved,
		}
		if !st.LastRun.IsZero() {
			prune["last_run_utc"] = st.LastRun.UTC().Format(time.RFC3339)
		}
		if st.LastError != "" {
			prune["last_error"] = st.LastError
		}
		out["prune"] = prune
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.mgr.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": ids})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.mgr.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Clear(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.mgr.Ingest(r.Context(), r.PathValue("id"), req.SourceID, req.Text, req.Metadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunk_count": n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	hits, err := s.mgr.Search(r.Context(), r.PathValue("id"), req.Query, s.k(req.TopK))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	results := make([]searchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, searchResult{
			ID:       h.Chunk.ID,
			SourceID: h.Chunk.SourceID,
			Seq:      h.Chunk.Seq,
			Score:    h.Score,
			Text:     h.Chunk.Text,
			Metadata: h.Chunk.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = s.tokenBudget
	}
	res, err := s.asm.BuildContext(r.Context(), r.PathValue("id"), req.Query, s.k(req.TopK), budget)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"context":        res.Context,
		"used_chunk_ids": res.UsedIDs(),
		"tokens":         res.Tokens,
	})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	n, err := s.mgr.DeleteSource(r.Context(), r.PathValue("id"), r.PathValue("source"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed_count": n})
}

func (s *Server) k(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.topK
}
