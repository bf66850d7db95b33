// Package server provides the corpusd HTTP API: document upload and
// lifecycle, retrieval, the status channel and operational endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/service"
)

// IngestAPI is the ingestion surface the HTTP layer exposes.
// *service.IngestService satisfies it.
type IngestAPI interface {
	Upload(ctx context.Context, input service.UploadInput) (*models.Document, *models.IngestJob, error)
	List(ctx context.Context, ownerID, storeRef string) ([]models.Document, error)
	Status(ctx context.Context, documentID string) (models.JobStatus, error)
	Delete(ctx context.Context, ownerID, documentID string) error
}

// SearchAPI is the retrieval surface. *service.SearchService satisfies it.
type SearchAPI interface {
	Search(ctx context.Context, req service.SearchRequest) ([]models.ChunkMatch, error)
}

// Server wires the HTTP API with its dependencies and lifecycle.
type Server struct {
	http    *http.Server
	ingest  IngestAPI
	search  SearchAPI
	status  http.Handler
	metrics http.Handler
	logger  *slog.Logger
}

// Options configures optional endpoints. Nil fields disable them.
type Options struct {
	// StatusHandler serves the websocket status channel at /ws.
	StatusHandler http.Handler
	// MetricsHandler serves Prometheus exposition at /metrics.
	MetricsHandler http.Handler
	// Metrics receives request latency observations. May be nil.
	Metrics *metrics.Metrics
}

// New creates a Server listening on addr.
func New(addr string, ingest IngestAPI, search SearchAPI, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		ingest:  ingest,
		search:  search,
		status:  opts.StatusHandler,
		metrics: opts.MetricsHandler,
		logger:  logger,
	}

	s.http = &http.Server{
		Addr:         addr,
		Handler:      LoggingMiddleware(logger, opts.Metrics)(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // Uploads embed synchronously
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleList)
	mux.HandleFunc("GET /api/documents/{id}/status", s.handleStatus)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/search", s.handleSearch)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	if s.status != nil {
		mux.Handle("GET /ws", s.status)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Handler returns the assembled handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
