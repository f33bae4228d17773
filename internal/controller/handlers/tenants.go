package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"gatewayplane/internal/health"
	"gatewayplane/pkg/api"
)

// EnsureGateway handles POST /internal/tenants/{id}/ensure.
// The body is optional.
func (h *Handlers) EnsureGateway(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	var req api.EnsureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	info, err := h.engine.EnsureGateway(r.Context(), tenantID, req.Env)
	if err != nil {
		h.engineError(w, r, "Failed to start gateway", err)
		return
	}

	h.respondJson(w, http.StatusOK, api.GatewayResponse{
		TenantID:  info.TenantID,
		Sandbox:   info.Sandbox,
		PID:       info.PID,
		Command:   info.Command,
		StartedAt: info.StartedAt,
	})
}

// RestartGateway handles POST /internal/tenants/{id}/restart. Restarts
// through the API are manual and reset the circuit breaker.
func (h *Handlers) RestartGateway(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")

	res, err := h.engine.Restart(r.Context(), tenantID, true)
	if err != nil {
		h.engineError(w, r, "Failed to restart gateway", err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	h.respondJson(w, status, api.RestartResponse{
		TenantID: tenantID,
		Success:  res.Success,
		Message:  res.Message,
		PID:      res.PID,
		Sync: api.FlushResponse{
			Attempted:  res.Sync.Attempted,
			Success:    res.Sync.Success,
			Mode:       res.Sync.Mode,
			DurationMs: res.Sync.Duration.Milliseconds(),
			Error:      res.Sync.Error,
		},
	})
}

// GetHealth handles GET /internal/tenants/{id}/health by running a check.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CheckHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		h.engineError(w, r, "Failed to check health", err)
		return
	}
	h.respondJson(w, http.StatusOK, healthResponse(res))
}

// ResetHealth handles POST /internal/tenants/{id}/health/reset.
func (h *Handlers) ResetHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetHealth(r.Context(), r.PathValue("id")); err != nil {
		h.engineError(w, r, "Failed to reset health", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func healthResponse(res health.Result) api.HealthResponse {
	return api.HealthResponse{
		TenantID: res.TenantID,
		Healthy:  res.Healthy,
		Checks: api.HealthChecks{
			ProcessRunning:  res.Checks.ProcessRunning,
			PortReachable:   res.Checks.PortReachable,
			GatewayResponds: res.Checks.GatewayResponds,
		},
		UptimeSeconds:       int64(res.Uptime.Seconds()),
		ConsecutiveFailures: res.ConsecutiveFailures,
		CheckedAt:           res.CheckedAt,
		Error:               res.Error,
	}
}
