// Package server wires the HTTP surface: router, middleware, and route
// mounting for every module.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/queue"
)

// RouteRegistrar is implemented by every module handler
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Config holds server configuration
type Config struct {
	Port int
}

// Server is the HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	databases  []*database.DB
	queue      *queue.Manager
	startedAt  time.Time
	log        zerolog.Logger
}

// New creates a new server and mounts all module routes under /api
func New(cfg Config, databases []*database.DB, queueManager *queue.Manager, logger zerolog.Logger, modules ...RouteRegistrar) *Server {
	s := &Server{
		databases: databases,
		queue:     queueManager,
		startedAt: time.Now(),
		log:       logger.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Owner-ID", "X-Role"},
		MaxAge:         300,
	}))
	r.Use(IdentityMiddleware)

	r.Route("/api", func(r chi.Router) {
		for _, m := range modules {
			m.RegisterRoutes(r)
		}

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.HandleHealth)
			r.Get("/info", s.HandleSystemInfo)
			r.Get("/databases", s.HandleDBStats)
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Router exposes the router, mainly for tests
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
