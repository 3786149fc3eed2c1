// Package server wires the HTTP surface: router, middleware, routes, and
// graceful shutdown. It is deliberately thin: all execution semantics live
// in the engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/parsify-dev/codexec/internal/engine"
	"github.com/parsify-dev/codexec/internal/handler"
	"github.com/parsify-dev/codexec/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port int
}

// Server represents the HTTP server and its dependencies.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	engine *engine.Engine
}

// New creates a new Server over an initialized engine.
func New(cfg Config, logger *slog.Logger, eng *engine.Engine) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		engine: eng,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures middleware and route handlers.
//
// POST /tools/code/execute        → run one snippet
// POST /tools/code/execute/batch  → run several, order-preserving
// GET  /tools/code/languages      → supported languages + versions
// GET  /tools/code/languages/{id} → one language descriptor
// GET  /tools/code/stats          → execution counters
// GET  /healthz                   → liveness
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	executeHandler := handler.NewExecuteHandler(s.engine, s.logger)

	s.router.Route("/tools/code", func(r chi.Router) {
		r.Post("/execute", executeHandler.HandleExecute)
		r.Post("/execute/batch", executeHandler.HandleExecuteBatch)
		r.Get("/languages", executeHandler.HandleLanguages)
		r.Get("/languages/{id}", executeHandler.HandleLanguage)
		r.Get("/stats", executeHandler.HandleStatistics)
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Start starts the HTTP server and blocks until shutdown. On SIGINT or
// SIGTERM, in-flight requests get thirty seconds to finish.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // executions can legitimately run long
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.Int("port", s.config.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
