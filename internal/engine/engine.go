// Package engine ties the lifecycle components together behind the
// tenant-level operations the HTTP API and the monitor use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/gateway"
	"gatewayplane/internal/health"
	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/presign"
	"gatewayplane/internal/restart"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/syncqueue"
)

var ErrInvalidRequest = errors.New("engine: invalid request")

// Recorder receives engine outcomes, e.g. for metrics.
type Recorder interface {
	RecordEnsure(ctx context.Context, success bool)
	RecordHealthCheck(ctx context.Context, healthy bool)
}

// Deps are the engine's collaborators. Issuer may be nil, in which case
// grants are unavailable.
type Deps struct {
	Provider    sandbox.Provider
	Coordinator *gateway.Coordinator
	Health      *health.Engine
	Scheduler   *restart.Scheduler
	Restarter   *restart.Executor
	Queue       *syncqueue.Queue
	Issuer      *presign.Issuer
	Credentials presign.Credentials
	Recorder    Recorder
	Clock       clock.PassiveClock
}

type Engine struct {
	Deps
	logger *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Engine {
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	return &Engine{Deps: d, logger: logger}
}

// GatewayInfo describes a ready gateway process.
type GatewayInfo struct {
	TenantID  string    `json:"tenant_id"`
	Sandbox   string    `json:"sandbox"`
	PID       string    `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

func checkTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if !sandbox.ValidTenantID(tenantID) {
		return fmt.Errorf("%w: invalid tenant id %q", ErrInvalidRequest, tenantID)
	}
	return nil
}

func (e *Engine) sandboxFor(ctx context.Context, tenantID string) (sandbox.Sandbox, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	sb, err := e.Provider.Get(ctx, sandbox.NameFor(tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox for %s: %w", tenantID, err)
	}
	return sb, nil
}

// EnsureGateway returns the tenant's running gateway, starting it if needed.
func (e *Engine) EnsureGateway(ctx context.Context, tenantID string, env map[string]string) (*GatewayInfo, error) {
	sb, err := e.sandboxFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	proc, err := e.Coordinator.EnsureRunning(ctx, sb, gateway.TenantConfig{TenantID: tenantID, Env: env})
	if e.Recorder != nil {
		e.Recorder.RecordEnsure(ctx, err == nil)
	}
	if err != nil {
		return nil, err
	}
	return &GatewayInfo{
		TenantID:  tenantID,
		Sandbox:   sb.Name(),
		PID:       proc.ID(),
		Command:   proc.Command(),
		StartedAt: proc.StartedAt(),
	}, nil
}

// Restart restarts the tenant's gateway. Manual restarts bypass and reset
// the circuit breaker.
func (e *Engine) Restart(ctx context.Context, tenantID string, manual bool) (restart.Result, error) {
	sb, err := e.sandboxFor(ctx, tenantID)
	if err != nil {
		return restart.Result{}, err
	}
	return e.Restarter.Restart(ctx, sb, gateway.TenantConfig{TenantID: tenantID}, manual), nil
}

// CheckHealth runs one health check for the tenant.
func (e *Engine) CheckHealth(ctx context.Context, tenantID string) (health.Result, error) {
	sb, err := e.sandboxFor(ctx, tenantID)
	if err != nil {
		return health.Result{}, err
	}
	res := e.Health.Check(ctx, sb, tenantID)
	if e.Recorder != nil {
		e.Recorder.RecordHealthCheck(ctx, res.Healthy)
	}
	return res, nil
}

// Outcome is the result of one monitor step for a tenant.
type Outcome struct {
	Health    health.Result   `json:"health"`
	Restarted bool            `json:"restarted"`
	Restart   *restart.Result `json:"restart,omitempty"`
}

// CheckAndRecover checks the tenant's gateway and restarts it when the
// scheduler allows.
func (e *Engine) CheckAndRecover(ctx context.Context, tenantID string) (Outcome, error) {
	res, err := e.CheckHealth(ctx, tenantID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Health: res}
	if res.Healthy || !e.Scheduler.ShouldRestart(ctx, tenantID) {
		return out, nil
	}

	rr, err := e.Restart(ctx, tenantID, false)
	if err != nil {
		return out, err
	}
	out.Restarted = true
	out.Restart = &rr
	return out, nil
}

// ResetHealth clears the tenant's failure history and circuit breaker.
func (e *Engine) ResetHealth(ctx context.Context, tenantID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	e.Health.Reset(ctx, tenantID)
	e.Scheduler.ResetBreaker(ctx, tenantID)
	return nil
}

// EnqueueSync queues the changed paths for upload.
func (e *Engine) EnqueueSync(tenantID string, paths []string, priority syncqueue.Priority, delay time.Duration) ([]syncqueue.Job, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	var clean []string
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: no paths", ErrInvalidRequest)
	}
	opts := syncqueue.Options{TenantID: tenantID, Delay: delay}
	if len(clean) == 1 {
		return []syncqueue.Job{e.Queue.Enqueue(clean[0], priority, opts)}, nil
	}
	return e.Queue.EnqueueBatch(clean, priority, opts), nil
}

// SyncStats is a snapshot of the sync queue.
type SyncStats struct {
	syncqueue.Stats
	LagByPriority    map[string]time.Duration `json:"lag_by_priority"`
	OldestPendingAge time.Duration            `json:"oldest_pending_age"`
	Recent           []syncqueue.JobResult    `json:"recent"`
}

func (e *Engine) SyncStats() SyncStats {
	lag := make(map[string]time.Duration)
	for p, d := range e.Queue.LagByPriority() {
		lag[p.String()] = d
	}
	return SyncStats{
		Stats:            e.Queue.Stats(),
		LagByPriority:    lag,
		OldestPendingAge: e.Queue.OldestPendingAge(),
		Recent:           e.Queue.History(),
	}
}

// Grant is a presigned URL for one object in a tenant's file space.
type Grant struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueGrant presigns method on the object holding the tenant's file.
func (e *Engine) IssueGrant(ctx context.Context, tenantID, filePath, method string, expiry time.Duration) (*Grant, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = "GET"
	}
	if method != "GET" && method != "PUT" {
		return nil, fmt.Errorf("%w: unsupported method %s", ErrInvalidRequest, method)
	}
	if e.Issuer == nil {
		return nil, presign.ErrGrantUnavailable
	}
	if expiry <= 0 {
		expiry = presign.DefaultExpiry
	}

	key := objectstore.FileKey(tenantID, filePath)
	issuedAt := e.Clock.Now()
	url, err := e.Issuer.Issue(ctx, e.Credentials, key, method, expiry)
	if err != nil {
		return nil, err
	}
	return &Grant{URL: url, Key: key, Method: method, ExpiresAt: issuedAt.Add(expiry).UTC()}, nil
}
