package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

// Importer starts an import job.
type Importer interface {
	Import(ctx context.Context, req importer.Request) (importer.Result, error)
}

type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (store.ImportJob, error)
}

type TaskReader interface {
	GetMany(ctx context.Context, taskIDs []string) (map[string]taskstate.Record, error)
}

// pinger is implemented by backends that can report their reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   *chi.Mux
	port     int
	imports  Importer
	jobs     JobReader
	tasks    TaskReader
	logger   *slog.Logger
	http     *http.Server
	maxBytes int64
}

// DefaultMaxUploadBytes bounds the size of an import request body.
const DefaultMaxUploadBytes = 256 << 20

// NewServer builds the HTTP API. An empty apiToken disables authentication.
func NewServer(port int, apiToken string, imports Importer, jobs JobReader, tasks TaskReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		imports:  imports,
		jobs:     jobs,
		tasks:    tasks,
		logger:   logger,
		maxBytes: DefaultMaxUploadBytes,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/imports", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.createImport)
		r.Get("/{id}", s.getImport)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.jobs.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": "scribe"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "scribe"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
