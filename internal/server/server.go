package server

import (
	"context"
	"evalboard/internal/config"
	"evalboard/internal/logger"
	"evalboard/internal/observability"
	"evalboard/internal/service"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// StoreStatus reports persistence connectivity for the health endpoints.
type StoreStatus interface {
	State() string
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	svc        *service.Service
	store      StoreStatus
	config     config.Server
	metrics    bool
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(svc *service.Service, store StoreStatus, cfg config.Server, metrics bool) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		svc:     svc,
		store:   store,
		config:  cfg,
		metrics: metrics,
		log:     logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Aggregate generation on POST /api/report/generate is bounded by the
	// generation timeout; leave headroom above it.
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300, // Maximum value not ignored by any major browsers
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)

	if s.metrics {
		s.router.Handle("/metrics", observability.MetricsHandler())
	}

	s.router.Route("/api", func(r chi.Router) {
		// Students submit without credentials.
		r.Post("/evaluations", s.handleSubmitEvaluation)

		// Teacher panel
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdminAPI)
			r.Use(noCache)

			r.Get("/evaluations", s.handleListEvaluations)
			r.Delete("/evaluations/{id}", s.handleDeleteEvaluation)

			r.Get("/report", s.handleGetReport)
			r.Post("/report/generate", s.handleGenerateReport)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
		"admin_auth", s.config.AdminAPIKey != "",
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
