// Package controller contains the orchestrator's HTTP API server.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gatewayplane/internal/controller/handlers"
	"gatewayplane/internal/controller/middleware"
)

// Config configures the API server.
type Config struct {
	Addr           string
	InternalSecret string
	// SyncRateLimit is the per-tenant limit on sync reports, in requests
	// per second. Zero disables it.
	SyncRateLimit float64
	SyncRateBurst int
	// WriteTimeout must cover a full gateway startup.
	WriteTimeout time.Duration
}

// Server is the HTTP server for the orchestrator API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server. metrics may be nil.
func New(cfg Config, h *handlers.Handlers, metrics http.Handler, logger *slog.Logger) *Server {
	internal := middleware.RequireInternalAuth(cfg.InternalSecret)
	syncLimit := middleware.NewRateLimiter(cfg.SyncRateLimit, cfg.SyncRateBurst).Middleware()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Internal endpoints, called by the platform's API workers.
	mux.Handle("POST /internal/tenants/{id}/ensure", internal(http.HandlerFunc(h.EnsureGateway)))
	mux.Handle("POST /internal/tenants/{id}/restart", internal(http.HandlerFunc(h.RestartGateway)))
	mux.Handle("GET /internal/tenants/{id}/health", internal(http.HandlerFunc(h.GetHealth)))
	mux.Handle("POST /internal/tenants/{id}/health/reset", internal(http.HandlerFunc(h.ResetHealth)))
	mux.Handle("POST /internal/tenants/{id}/sync", internal(syncLimit(http.HandlerFunc(h.EnqueueSync))))
	mux.Handle("GET /internal/sync/stats", internal(http.HandlerFunc(h.SyncStats)))
	mux.Handle("POST /internal/grants", internal(http.HandlerFunc(h.IssueGrant)))

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 4 * time.Minute
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestID(middleware.Logging(logger)(mux)),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout,
		},
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
