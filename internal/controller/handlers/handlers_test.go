package handlers

import (
	"context"
	"io"
	"log/slog"
	"time"

	"gatewayplane/internal/engine"
	"gatewayplane/internal/health"
	"gatewayplane/internal/restart"
	"gatewayplane/internal/syncqueue"
)

// Mock engine
type mockEngine struct {
	ensureResp *engine.GatewayInfo
	ensureErr  error

	restartResp restart.Result
	restartErr  error

	healthResp health.Result
	healthErr  error

	resetErr error

	enqueueResp []syncqueue.Job
	enqueueErr  error

	statsResp engine.SyncStats

	grantResp *engine.Grant
	grantErr  error

	// Spies (to verify arguments passed by handlers)
	capturedTenant   string
	capturedEnv      map[string]string
	capturedManual   bool
	capturedPaths    []string
	capturedPriority syncqueue.Priority
	capturedDelay    time.Duration
	capturedMethod   string
	capturedExpiry   time.Duration
}

func (m *mockEngine) EnsureGateway(ctx context.Context, tenantID string, env map[string]string) (*engine.GatewayInfo, error) {
	m.capturedTenant = tenantID
	m.capturedEnv = env
	return m.ensureResp, m.ensureErr
}

func (m *mockEngine) Restart(ctx context.Context, tenantID string, manual bool) (restart.Result, error) {
	m.capturedTenant = tenantID
	m.capturedManual = manual
	return m.restartResp, m.restartErr
}

func (m *mockEngine) CheckHealth(ctx context.Context, tenantID string) (health.Result, error) {
	m.capturedTenant = tenantID
	return m.healthResp, m.healthErr
}

func (m *mockEngine) ResetHealth(ctx context.Context, tenantID string) error {
	m.capturedTenant = tenantID
	return m.resetErr
}

func (m *mockEngine) EnqueueSync(tenantID string, paths []string, priority syncqueue.Priority, delay time.Duration) ([]syncqueue.Job, error) {
	m.capturedTenant = tenantID
	m.capturedPaths = paths
	m.capturedPriority = priority
	m.capturedDelay = delay
	return m.enqueueResp, m.enqueueErr
}

func (m *mockEngine) SyncStats() engine.SyncStats {
	return m.statsResp
}

func (m *mockEngine) IssueGrant(ctx context.Context, tenantID, filePath, method string, expiry time.Duration) (*engine.Grant, error) {
	m.capturedTenant = tenantID
	m.capturedMethod = method
	m.capturedExpiry = expiry
	return m.grantResp, m.grantErr
}

// Mock database
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingErr
}

func newTestHandlers(e *mockEngine, db Pinger) *Handlers {
	return New(e, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}
