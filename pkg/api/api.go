// Package api contains shared JSON request/response structs.
// This package is shared between gatewayctl and the orchestrator API.
package api

import "time"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// EnsureRequest is the optional body of an ensure call. Env is merged into
// the gateway's launch environment; reserved keys are ignored.
type EnsureRequest struct {
	Env map[string]string `json:"env,omitempty"`
}

// GatewayResponse describes a ready gateway process.
type GatewayResponse struct {
	TenantID  string    `json:"tenant_id"`
	Sandbox   string    `json:"sandbox"`
	PID       string    `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// FlushResponse reports the sync performed before a restart.
type FlushResponse struct {
	Attempted  bool   `json:"attempted"`
	Success    bool   `json:"success"`
	Mode       string `json:"mode,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RestartResponse is returned by the restart endpoint.
type RestartResponse struct {
	TenantID string        `json:"tenant_id"`
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	PID      string        `json:"pid,omitempty"`
	Sync     FlushResponse `json:"sync"`
}

// HealthChecks lists which health stages passed.
type HealthChecks struct {
	ProcessRunning  bool `json:"process_running"`
	PortReachable   bool `json:"port_reachable"`
	GatewayResponds bool `json:"gateway_responds"`
}

// HealthResponse is the result of a health check.
type HealthResponse struct {
	TenantID            string       `json:"tenant_id"`
	Healthy             bool         `json:"healthy"`
	Checks              HealthChecks `json:"checks"`
	UptimeSeconds       int64        `json:"uptime_seconds"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CheckedAt           time.Time    `json:"checked_at"`
	Error               string       `json:"error,omitempty"`
}

// SyncRequest reports changed files for a tenant.
type SyncRequest struct {
	Paths []string `json:"paths"`
	// Priority is one of low, normal, high, critical. Defaults to normal.
	Priority string `json:"priority,omitempty"`
	DelayMs  int64  `json:"delay_ms,omitempty"`
}

// SyncJob is a queued sync job.
type SyncJob struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Priority  string    `json:"priority"`
	ExecuteAt time.Time `json:"execute_at"`
}

// SyncResponse is returned after enqueueing sync jobs.
type SyncResponse struct {
	BatchID string    `json:"batch_id,omitempty"`
	Jobs    []SyncJob `json:"jobs"`
}

// SyncJobResult is a finished sync job.
type SyncJobResult struct {
	JobID        string    `json:"job_id"`
	TenantID     string    `json:"tenant_id"`
	Path         string    `json:"path"`
	Priority     string    `json:"priority"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Retries      int       `json:"retries"`
	DurationMs   int64     `json:"duration_ms"`
	CompletedAt  time.Time `json:"completed_at"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

// SyncStatsResponse is a snapshot of the sync queue.
type SyncStatsResponse struct {
	Pending         int              `json:"pending"`
	Processing      int              `json:"processing"`
	Completed       int64            `json:"completed"`
	Failed          int64            `json:"failed"`
	Retried         int64            `json:"retried"`
	Superseded      int64            `json:"superseded"`
	ByPriority      map[string]int   `json:"by_priority"`
	LagMs           map[string]int64 `json:"lag_ms"`
	OldestPendingMs int64            `json:"oldest_pending_ms"`
	Recent          []SyncJobResult  `json:"recent"`
}

// GrantRequest asks for a presigned URL to one tenant file.
type GrantRequest struct {
	TenantID string `json:"tenant_id"`
	Path     string `json:"path"`
	// Method is GET or PUT. Defaults to GET.
	Method           string `json:"method,omitempty"`
	ExpiresInSeconds int64  `json:"expires_in_seconds,omitempty"`
}

// GrantResponse carries a presigned URL.
type GrantResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}
