// Package server exposes the build orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/airlift/buildforge/internal/errors"
	"github.com/airlift/buildforge/pkg/artifact"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/orchestrator"
)

// BuildService is the orchestrator surface the HTTP layer drives.
type BuildService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
	Get(ctx context.Context, jobID string) (*jobstore.BuildJob, error)
	List(ctx context.Context) ([]jobstore.BuildJob, error)
	ListBranches(ctx context.Context, repoURL string) ([]string, error)
	Cancel(ctx context.Context, jobID string) error
	Delete(ctx context.Context, jobID string) error
	CleanupRepository(ctx context.Context, jobID string) error
	HandleCompletion(ctx context.Context, req orchestrator.CompletionRequest) error
}

// Options configure the server beyond its dependencies.
type Options struct {
	Host string
	Port int

	// WebhookSecret, when non-empty, requires the completion callback to
	// carry it in the X-Build-Token header.
	WebhookSecret string

	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	opts      Options
	builds    BuildService
	artifacts artifact.Store
	log       *zap.Logger
	router    chi.Router
}

// New assembles the router. The server owns no lifecycle of its
// dependencies.
func New(builds BuildService, artifacts artifact.Store, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		opts:      opts,
		builds:    builds,
		artifacts: artifacts,
		log:       logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler, primarily for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recovery)

	r.NotFound(apperrors.NotFoundHandler())
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler())

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/builds", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleDelete)
				r.Post("/cancel", s.handleCancel)
				r.Post("/cleanup", s.handleCleanup)
				r.Get("/artifact", s.handleArtifact)
				r.Get("/log", s.handleLog)
			})
		})
		r.Get("/branches", s.handleBranches)
		r.Post("/build_complete", s.handleBuildComplete)
	})

	return r
}
