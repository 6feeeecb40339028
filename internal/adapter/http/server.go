package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cwygoda/collector/internal/domain"
)

// Catalogs lists the catalogs runs can be submitted for.
type Catalogs interface {
	Names() []string
	DefaultPages(name string) int
}

// Server is the HTTP control API for crawl runs.
type Server struct {
	svc      *domain.RunService
	catalogs Catalogs
	metrics  http.Handler
	mux      *http.ServeMux
	server   *http.Server
	secret   string
	logger   *slog.Logger
}

// Options configures optional server behavior.
type Options struct {
	// Secret enables signature verification of POST /runs when set.
	Secret string
	// Metrics is served at GET /metrics when set.
	Metrics http.Handler
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.RunService, catalogs Catalogs, addr string, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		svc:      svc,
		catalogs: catalogs,
		metrics:  opts.Metrics,
		mux:      http.NewServeMux(),
		secret:   opts.Secret,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /runs", s.handleSubmitRun)
	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	s.mux.HandleFunc("GET /catalogs", s.handleCatalogs)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// runRequest is the request body for POST /runs.
type runRequest struct {
	Catalog  string `json:"catalog"`
	MaxPages int    `json:"max_pages"`
}

// runResponse is the JSON response for run endpoints.
type runResponse struct {
	ID           int64  `json:"id"`
	Catalog      string `json:"catalog"`
	MaxPages     int    `json:"max_pages"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
	PagesScanned int    `json:"pages_scanned"`
	AssetsFound  int    `json:"assets_found"`
	AssetsSaved  int    `json:"assets_saved"`
	BytesSaved   int64  `json:"bytes_saved"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if s.secret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.logger.Warn("run request verification failed", "error", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var req runRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Catalog == "" {
		s.writeError(w, http.StatusBadRequest, "catalog is required")
		return
	}
	if req.MaxPages == 0 {
		req.MaxPages = s.catalogs.DefaultPages(req.Catalog)
	}

	run, err := s.svc.Submit(r.Context(), req.Catalog, req.MaxPages)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCatalog):
			s.writeError(w, http.StatusBadRequest, "unknown catalog")
		case errors.Is(err, domain.ErrInvalidRun):
			s.writeError(w, http.StatusBadRequest, "max_pages must be at least 1")
		default:
			s.logger.Error("submit error", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.logger.Info("run submitted", "run_id", run.ID, "catalog", run.Catalog, "max_pages", run.MaxPages)
	s.writeJSON(w, http.StatusCreated, runToResponse(run))
}

const maxTimestampSkew = 5 * time.Minute

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	if signature != Sign(timestamp, body, s.secret) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Sign computes SHA256("${timestamp}\n${body}\n${secret}") as hex.
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.svc.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, runToResponse(&runs[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := s.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run error", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (s *Server) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"catalogs": s.catalogs.Names()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func runToResponse(run *domain.Run) runResponse {
	return runResponse{
		ID:           run.ID,
		Catalog:      run.Catalog,
		MaxPages:     run.MaxPages,
		Status:       string(run.Status),
		Attempts:     run.Attempts,
		Error:        run.Error,
		PagesScanned: run.PagesScanned,
		AssetsFound:  run.AssetsFound,
		AssetsSaved:  run.AssetsSaved,
		BytesSaved:   run.BytesSaved,
		CreatedAt:    run.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    run.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
