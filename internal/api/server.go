package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"delphi/internal/api/health"
	"delphi/internal/metrics"
	"delphi/internal/tasks"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// ServerConfig contains configuration for the HTTP server
type ServerConfig struct {
	Addr        string
	ServiceName string
	Version     string
}

// Server wraps the HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures the HTTP server with all routes
func NewServer(cfg ServerConfig, manager *tasks.Manager, healthHandler *health.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	h := newHandlers(manager)
	ws := newProgressFeed(manager.Broadcaster())

	// Task lifecycle
	mux.HandleFunc("POST /v1/tasks", h.submitTask)
	mux.HandleFunc("GET /v1/tasks", h.listTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", h.getTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.cancelTask)
	mux.HandleFunc("GET /v1/tasks/{id}/report", h.getReport)
	mux.HandleFunc("GET /v1/tasks/{id}/progress", h.getProgress)

	// Batches
	mux.HandleFunc("POST /v1/batches", h.submitBatch)
	mux.HandleFunc("GET /v1/batches/{id}", h.getBatch)
	mux.HandleFunc("GET /v1/batches/{id}/tasks", h.getBatchTasks)

	// Admin
	mux.HandleFunc("GET /v1/admin/zombies", h.listZombies)
	mux.HandleFunc("POST /v1/admin/zombies/cleanup", h.cleanupZombies)
	mux.HandleFunc("POST /v1/admin/tasks/{id}/fail", h.markFailed)

	// Live progress feed
	mux.HandleFunc("GET /v1/tasks/{id}/feed", ws.serveTask)
	mux.HandleFunc("GET /v1/batches/{id}/feed", ws.serveBatch)

	// Health check endpoints (Kubernetes probes)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	log.Infof("HTTP server configured on %s", cfg.Addr)

	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the websocket feed holds connections open
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests.
// Blocks until the server is stopped or encounters an error.
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
