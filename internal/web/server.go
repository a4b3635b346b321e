// Package web exposes the pipelines over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Pipeline is the subset of pipeline.Service the handlers need.
type Pipeline interface {
	Register(ctx context.Context, req pipeline.RegisterRequest) (*pipeline.RegisterResult, error)
	Identify(ctx context.Context, photo image.Image) ([]pipeline.Identification, error)
	Evaluate(ctx context.Context) (*metrics.Report, error)
	Students(ctx context.Context) ([]store.Enrollment, error)
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	handler    *Handler
}

// NewServer creates a new web server
func NewServer(cfg config.ServerConfig, svc Pipeline, minPhotos int) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:  r,
		handler: NewHandler(svc, minPhotos),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(CORS(cfg.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute, // enrollment runs the models on every photo
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logrus.WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
