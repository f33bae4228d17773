// Package health runs staged health checks against tenant gateways and
// tracks consecutive failures per tenant.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"k8s.io/utils/clock"

	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/store"
)

const (
	DefaultPortTimeout  = 5 * time.Second
	DefaultProbeTimeout = 10 * time.Second
	DefaultProbeCommand = "cat /proc/meminfo"
)

type Config struct {
	Port         int
	PortTimeout  time.Duration
	ProbeCommand string
	ProbeTimeout time.Duration
	Signature    sandbox.Signature
}

// Checks records which stages passed. Later stages are skipped once one
// fails.
type Checks struct {
	ProcessRunning  bool `json:"process_running"`
	PortReachable   bool `json:"port_reachable"`
	GatewayResponds bool `json:"gateway_responds"`
}

type Result struct {
	TenantID            string        `json:"tenant_id"`
	Healthy             bool          `json:"healthy"`
	Checks              Checks        `json:"checks"`
	Uptime              time.Duration `json:"uptime"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	CheckedAt           time.Time     `json:"checked_at"`
	Error               string        `json:"error,omitempty"`
}

// State is a snapshot of a tenant's health record.
type State struct {
	ConsecutiveFailures int
	LastCheckAt         time.Time
	LastHealthyAt       *time.Time
	LastRestartAt       *time.Time
}

// Engine checks gateways and keeps per-tenant state in memory, mirrored
// to the durable store.
type Engine struct {
	cfg    Config
	store  store.HealthStore
	clock  clock.PassiveClock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	state  State
}

// NewEngine creates an engine. st may be nil.
func NewEngine(cfg Config, st store.HealthStore, clk clock.PassiveClock, logger *slog.Logger) *Engine {
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = DefaultPortTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ProbeCommand == "" {
		cfg.ProbeCommand = DefaultProbeCommand
	}
	if len(cfg.Signature.Launch) == 0 {
		cfg.Signature = sandbox.DefaultSignature
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		clock:   clk,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Check probes the tenant's gateway and updates its failure count. It never
// returns an error; problems are reported as an unhealthy result.
func (e *Engine) Check(ctx context.Context, sb sandbox.Sandbox, tenantID string) Result {
	ctx, span := otel.Tracer("gatewayplane/health").Start(ctx, "health.Check")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.String("sandbox", sb.Name()))

	res := Result{TenantID: tenantID}
	var checkErr error
	res.Checks, res.Uptime, checkErr = e.probe(ctx, sb)
	res.Healthy = checkErr == nil

	en := e.lock(ctx, tenantID)
	now := e.clock.Now()
	en.state.LastCheckAt = now
	if res.Healthy {
		en.state.ConsecutiveFailures = 0
		en.state.LastHealthyAt = &now
	} else {
		en.state.ConsecutiveFailures++
		res.Error = checkErr.Error()
	}
	res.ConsecutiveFailures = en.state.ConsecutiveFailures
	res.CheckedAt = now
	snapshot := en.state
	en.mu.Unlock()

	e.persist(ctx, tenantID, snapshot)

	span.SetAttributes(attribute.Bool("healthy", res.Healthy), attribute.Int("consecutive_failures", res.ConsecutiveFailures))
	if !res.Healthy {
		span.SetStatus(codes.Error, res.Error)
		e.logger.Warn("gateway unhealthy", "tenant_id", tenantID, "sandbox", sb.Name(),
			"failures", res.ConsecutiveFailures, "error", res.Error)
	}
	return res
}

func (e *Engine) probe(ctx context.Context, sb sandbox.Sandbox) (Checks, time.Duration, error) {
	var checks Checks

	proc := sandbox.FindGateway(ctx, sb, e.cfg.Signature, e.logger)
	if proc == nil {
		return checks, 0, errors.New("gateway process not found")
	}
	var uptime time.Duration
	if started := proc.StartedAt(); !started.IsZero() {
		uptime = e.clock.Since(started)
	}
	if proc.Status() != sandbox.StatusRunning {
		return checks, uptime, fmt.Errorf("gateway process is %s", proc.Status())
	}
	checks.ProcessRunning = true

	if err := proc.WaitForPort(ctx, e.cfg.Port, e.cfg.PortTimeout); err != nil {
		return checks, uptime, fmt.Errorf("port %d unreachable: %w", e.cfg.Port, err)
	}
	checks.PortReachable = true

	res, err := sb.Exec(ctx, e.cfg.ProbeCommand, sandbox.ExecOptions{Timeout: e.cfg.ProbeTimeout})
	if err != nil {
		return checks, uptime, fmt.Errorf("probe failed: %w", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) == "" {
		return checks, uptime, fmt.Errorf("probe exited with %d", res.ExitCode)
	}
	checks.GatewayResponds = true
	return checks, uptime, nil
}

// State returns the tenant's current health record.
func (e *Engine) State(ctx context.Context, tenantID string) State {
	en := e.lock(ctx, tenantID)
	defer en.mu.Unlock()
	return en.state
}

// RecordRestart clears the failure count and stamps the restart time.
func (e *Engine) RecordRestart(ctx context.Context, tenantID string) {
	en := e.lock(ctx, tenantID)
	now := e.clock.Now()
	en.state.ConsecutiveFailures = 0
	en.state.LastRestartAt = &now
	snapshot := en.state
	en.mu.Unlock()

	e.persist(ctx, tenantID, snapshot)
}

// Reset forgets everything known about the tenant.
func (e *Engine) Reset(ctx context.Context, tenantID string) {
	e.mu.Lock()
	delete(e.entries, tenantID)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.DeleteHealthState(ctx, tenantID); err != nil {
			e.logger.Warn("failed to delete health state", "tenant_id", tenantID, "error", err)
		}
	}
	e.logger.Info("health state reset", "tenant_id", tenantID)
}

func (e *Engine) lock(ctx context.Context, tenantID string) *entry {
	e.mu.Lock()
	en, ok := e.entries[tenantID]
	if !ok {
		en = &entry{}
		e.entries[tenantID] = en
	}
	e.mu.Unlock()

	en.mu.Lock()
	if !en.loaded {
		en.loaded = true
		if e.store != nil {
			hs, err := e.store.GetHealthState(ctx, tenantID)
			switch {
			case err == nil:
				en.state = State{
					ConsecutiveFailures: hs.ConsecutiveFailures,
					LastCheckAt:         hs.LastCheckAt,
					LastHealthyAt:       hs.LastHealthyAt,
					LastRestartAt:       hs.LastRestartAt,
				}
			case !errors.Is(err, store.ErrNotFound):
				e.logger.Warn("failed to load health state", "tenant_id", tenantID, "error", err)
			}
		}
	}
	return en
}

func (e *Engine) persist(ctx context.Context, tenantID string, s State) {
	if e.store == nil {
		return
	}
	hs := &store.HealthState{
		TenantID:            tenantID,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastCheckAt:         s.LastCheckAt,
		LastHealthyAt:       s.LastHealthyAt,
		LastRestartAt:       s.LastRestartAt,
	}
	if err := e.store.UpsertHealthState(ctx, hs); err != nil {
		e.logger.Warn("failed to persist health state", "tenant_id", tenantID, "error", err)
	}
}
