// Package gateway serves the HTTP surface: the OpenAI-compatible chat
// completions endpoint plus the admin and query API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anotherai-dev/anotherai/internal/auth"
	"github.com/anotherai-dev/anotherai/internal/config"
	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/experiments"
	"github.com/anotherai-dev/anotherai/internal/runner"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// CompletionRunner executes completion requests. Satisfied by
// *runner.Runner.
type CompletionRunner interface {
	Run(ctx context.Context, req *runner.Request) (*models.AgentCompletion, error)
	Stream(ctx context.Context, req *runner.Request, emit runner.Emitter) (*models.AgentCompletion, error)
}

// RunnerFactory builds a runner bound to a tenant-scoped completion cache.
type RunnerFactory func(cache runner.CompletionCache) CompletionRunner

// Server is the HTTP gateway.
type Server struct {
	cfg         *config.Config
	stores      storage.StoreSet
	analytics   storage.Analytics
	newRunner   RunnerFactory
	experiments *experiments.Orchestrator
	auth        *auth.Authenticator
	events      *events.Router
	log         *slog.Logger

	httpServer *http.Server
}

// New assembles the gateway over its dependencies.
func New(cfg *config.Config, stores storage.StoreSet, analytics storage.Analytics, newRunner RunnerFactory, orchestrator *experiments.Orchestrator, authenticator *auth.Authenticator, router *events.Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		stores:      stores,
		analytics:   analytics,
		newRunner:   newRunner,
		experiments: orchestrator,
		auth:        authenticator,
		events:      router,
		log:         log.With("component", "gateway"),
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	api.HandleFunc("GET /v1/completions/query", s.handleCompletionsQuery)
	api.HandleFunc("GET /v1/completions/{id}", s.handleCompletionGet)

	api.HandleFunc("POST /v1/experiments", s.handleExperimentCreate)
	api.HandleFunc("GET /v1/experiments", s.handleExperimentList)
	api.HandleFunc("GET /v1/experiments/{id}", s.handleExperimentGet)
	api.HandleFunc("POST /v1/experiments/{id}/inputs", s.handleExperimentAddInputs)
	api.HandleFunc("POST /v1/experiments/{id}/versions", s.handleExperimentAddVersions)
	api.HandleFunc("POST /v1/experiments/{id}/completions", s.handleExperimentStart)
	api.HandleFunc("GET /v1/experiments/{id}/wait", s.handleExperimentWait)

	api.HandleFunc("POST /v1/annotations", s.handleAnnotationsCreate)
	api.HandleFunc("GET /v1/annotations", s.handleAnnotationsList)
	api.HandleFunc("DELETE /v1/annotations/{id}", s.handleAnnotationDelete)

	api.HandleFunc("GET /v1/agents", s.handleAgentsList)
	api.HandleFunc("GET /v1/models", s.handleModelsList)
	api.HandleFunc("GET /v1/models/ids", s.handleModelIDs)

	api.HandleFunc("GET /v1/views", s.handleViewsList)
	api.HandleFunc("POST /v1/views", s.handleViewUpsert)
	api.HandleFunc("PATCH /v1/views/{id}", s.handleViewPatch)
	api.HandleFunc("DELETE /v1/views/{id}", s.handleViewDelete)
	api.HandleFunc("POST /v1/view-folders", s.handleFolderUpsert)
	api.HandleFunc("PATCH /v1/view-folders/{id}", s.handleFolderPatch)
	api.HandleFunc("DELETE /v1/view-folders/{id}", s.handleFolderDelete)

	api.HandleFunc("POST /v1/organization/keys", s.handleKeyCreate)
	api.HandleFunc("GET /v1/organization/keys", s.handleKeysList)
	api.HandleFunc("DELETE /v1/organization/keys/{id}", s.handleKeyDelete)

	mux.Handle("/v1/", s.withAuth(api))

	var handler http.Handler = mux
	handler = s.withCORS(handler)
	handler = s.withRecovery(handler)
	return handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("gateway listening", "addr", addr)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and background tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.events.Drain()
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// completionURL is the app link back to a stored completion.
func (s *Server) completionURL(id string) string {
	return s.cfg.AppURL + "/completions/" + id
}
