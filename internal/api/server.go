// Package api exposes the ingest, resolution and curation surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/processor"
	"github.com/apittopti/diagflow/internal/store"
)

// Curation is the store surface the API reads and mutates directly: job
// rows, verification, revisions and vehicle ancestry.
type Curation interface {
	GetJob(ctx context.Context, id uuid.UUID) (*store.JobRow, error)
	RecentJobs(ctx context.Context, limit int) ([]store.JobRow, error)
	GetDefinition(ctx context.Context, id uuid.UUID) (*knowledge.Definition, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
	InsertRevision(ctx context.Context, id uuid.UUID, name string, payload json.RawMessage, source string) (*knowledge.Definition, error)
	VehicleContext(ctx context.Context, vehicleID string) (knowledge.Context, error)
}

type Server struct {
	router   *chi.Mux
	srv      *http.Server
	port     int
	proc     *processor.Processor
	resolver *knowledge.Resolver
	defs     knowledge.Store
	cur      Curation
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, proc *processor.Processor, defs knowledge.Store, cur Curation, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		proc:     proc,
		resolver: knowledge.NewResolver(defs),
		defs:     defs,
		cur:      cur,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/diagflow/status", s.status)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/jobs", s.createJob)
			r.Get("/jobs", s.listJobs)
			r.Get("/jobs/{id}", s.getJob)
			r.Get("/definitions", s.listDefinitions)
			r.Get("/definitions/resolve", s.resolveDefinition)
			r.Get("/definitions/chain", s.definitionChain)
			r.Get("/definitions/{id}", s.getDefinition)
			r.Post("/definitions/{id}/verify", s.verifyDefinition)
			r.Post("/definitions/{id}/revise", s.reviseDefinition)
		})
	})

	return s
}

// BearerAuthMiddleware rejects requests that lack the configured bearer
// token. An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "diagflow",
		"status":  "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
