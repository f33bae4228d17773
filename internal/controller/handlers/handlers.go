// Package handlers contains HTTP handlers for the orchestrator API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gatewayplane/internal/engine"
	"gatewayplane/internal/gateway"
	"gatewayplane/internal/health"
	"gatewayplane/internal/logger"
	"gatewayplane/internal/presign"
	"gatewayplane/internal/restart"
	"gatewayplane/internal/syncqueue"
	"gatewayplane/pkg/api"
)

// Engine is the set of tenant operations the API exposes.
type Engine interface {
	EnsureGateway(ctx context.Context, tenantID string, env map[string]string) (*engine.GatewayInfo, error)
	Restart(ctx context.Context, tenantID string, manual bool) (restart.Result, error)
	CheckHealth(ctx context.Context, tenantID string) (health.Result, error)
	ResetHealth(ctx context.Context, tenantID string) error
	EnqueueSync(tenantID string, paths []string, priority syncqueue.Priority, delay time.Duration) ([]syncqueue.Job, error)
	SyncStats() engine.SyncStats
	IssueGrant(ctx context.Context, tenantID, filePath, method string, expiry time.Duration) (*engine.Grant, error)
}

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	engine Engine
	db     Pinger
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(e Engine, db Pinger, logger *slog.Logger) *Handlers {
	return &Handlers{engine: e, db: db, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// engineError maps engine errors to HTTP responses.
func (h *Handlers) engineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	resp := api.ErrorResponse{Error: message}
	status := http.StatusInternalServerError

	var startupErr *gateway.StartupError
	switch {
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, presign.ErrInvalidGrant):
		status = http.StatusBadRequest
		resp.Details = err.Error()
	case errors.As(err, &startupErr):
		status = http.StatusBadGateway
		resp.Details = startupErr.Stderr
	case errors.Is(err, presign.ErrGrantUnavailable), errors.Is(err, gateway.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	resp.Code = strconv.Itoa(status)

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).Error(message, "path", r.URL.Path, "error", err)
	}
	h.respondJson(w, status, resp)
}
