// Package server exposes the evaluation pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/nbgrade/internal/metrics"
	"github.com/ppiankov/nbgrade/internal/model"
)

const shutdownTimeout = 10 * time.Second

// Evaluator grades decoded documents
type Evaluator interface {
	Evaluate(ctx context.Context, assignmentText string, notebookJSON []byte) (*model.Report, error)
}

// HealthChecker reports collaborator liveness
type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

// Server is the HTTP API
type Server struct {
	addr      string
	evaluator Evaluator
	health    HealthChecker
	metrics   *metrics.Recorder
	logger    *slog.Logger
	origins   map[string]bool
	maxUpload int64
}

// New creates a server. A nil logger discards logs; a nil recorder disables /metrics.
func New(cfg model.ServerConfig, evaluator Evaluator, health HealthChecker, rec *metrics.Recorder, logger *slog.Logger) (*Server, error) {
	maxUpload, err := humanize.ParseBytes(cfg.MaxUpload)
	if err != nil {
		return nil, fmt.Errorf("server.max_upload: %w", err)
	}
	if maxUpload == 0 {
		return nil, fmt.Errorf("server.max_upload must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}

	return &Server{
		addr:      cfg.Addr,
		evaluator: evaluator,
		health:    health,
		metrics:   rec,
		logger:    logger,
		origins:   origins,
		maxUpload: int64(maxUpload),
	}, nil
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})

	return s.withRequestID(s.withLogging(s.withCORS(mux)))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr, "max_upload", humanize.Bytes(uint64(s.maxUpload)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
