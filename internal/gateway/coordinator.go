// Package gateway starts tenant gateway processes exactly once per sandbox,
// however many callers ask for them concurrently.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/secrets"
	"gatewayplane/internal/store"
)

const (
	DefaultStartupTimeout = 180 * time.Second
	DefaultGrace          = 5 * time.Second
)

// Config tunes the coordinator.
type Config struct {
	// StartupTimeout bounds each wait for the gateway port, both for an
	// existing process and for a fresh launch.
	StartupTimeout time.Duration
	// Grace is how long a finished attempt is kept so that late callers
	// share its result.
	Grace     time.Duration
	Signature sandbox.Signature
	Platform  Platform
}

// SecretLoader returns a tenant's stored secrets.
type SecretLoader interface {
	Load(ctx context.Context, tenantID string) (secrets.Set, error)
}

// DataRestorer restores a tenant's data dir inside a fresh sandbox.
type DataRestorer interface {
	Restore(ctx context.Context, sb sandbox.Sandbox, tenantID string) error
}

// Coordinator deduplicates gateway startups per sandbox.
type Coordinator struct {
	cfg      Config
	secrets  SecretLoader
	objects  objectstore.Store
	registry store.TenantRegistry
	restorer DataRestorer
	clock    clock.WithDelayedExecution
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	attempts map[string]*attempt
	seen     map[string]bool
	closed   bool
}

type attempt struct {
	done     chan struct{}
	finished bool
	proc     sandbox.Process
	err      error
	timer    clock.Timer
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithRegistry records first-seen tenants in the durable registry.
func WithRegistry(r store.TenantRegistry) Option {
	return func(c *Coordinator) { c.registry = r }
}

// WithRestorer enables background data restore on startup.
func WithRestorer(r DataRestorer) Option {
	return func(c *Coordinator) { c.restorer = r }
}

// WithClock overrides the clock used for grace-period eviction.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func NewCoordinator(cfg Config, secrets SecretLoader, objects objectstore.Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if len(cfg.Signature.Launch) == 0 {
		cfg.Signature = sandbox.DefaultSignature
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		secrets:  secrets,
		objects:  objects,
		clock:    clock.RealClock{},
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		attempts: make(map[string]*attempt),
		seen:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureRunning returns a ready gateway process for the tenant, starting
// one if needed. Concurrent callers for the same sandbox share a single
// attempt and its outcome. Cancelling ctx detaches the caller but does not
// abort the attempt.
func (c *Coordinator) EnsureRunning(ctx context.Context, sb sandbox.Sandbox, tc TenantConfig) (sandbox.Process, error) {
	key := sb.Name()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	a, ok := c.attempts[key]
	if ok && a.finished && a.err != nil {
		// A failed attempt is only shared with callers that were waiting
		// on it.
		delete(c.attempts, key)
		ok = false
	}
	if !ok {
		a = &attempt{done: make(chan struct{})}
		c.attempts[key] = a
		c.wg.Add(1)
		go c.run(key, a, sb, tc)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.proc, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports whether an attempt for the sandbox is tracked.
func (c *Coordinator) InFlight(sandboxName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attempts[sandboxName]
	return ok
}

// Forget drops a finished attempt for the sandbox so the next caller
// starts over. In-flight attempts are left alone.
func (c *Coordinator) Forget(sandboxName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.attempts[sandboxName]; ok && a.finished {
		delete(c.attempts, sandboxName)
	}
}

// Close cancels running attempts, stops grace timers and waits for
// background work to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	var timers []clock.Timer
	for key, a := range c.attempts {
		if a.timer != nil {
			timers = append(timers, a.timer)
		}
		delete(c.attempts, key)
	}
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(key string, a *attempt, sb sandbox.Sandbox, tc TenantConfig) {
	defer c.wg.Done()

	c.noteTenant(sb, tc.TenantID)
	proc, err := c.start(c.ctx, sb, tc)

	c.mu.Lock()
	a.proc, a.err, a.finished = proc, err, true
	close(a.done)
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	// Registered outside c.mu: a fake clock runs the callback under its own lock.
	timer := c.clock.AfterFunc(c.cfg.Grace, func() { c.evict(key, a) })
	c.mu.Lock()
	a.timer = timer
	c.mu.Unlock()
}

func (c *Coordinator) evict(key string, a *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts[key] == a {
		delete(c.attempts, key)
	}
}

func (c *Coordinator) start(ctx context.Context, sb sandbox.Sandbox, tc TenantConfig) (sandbox.Process, error) {
	log := c.logger.With("tenant_id", tc.TenantID, "sandbox", sb.Name())
	port := c.cfg.Platform.GatewayPort
	timeout := c.cfg.StartupTimeout

	if c.restorer != nil {
		c.spawn(func() {
			if err := c.restorer.Restore(ctx, sb, tc.TenantID); err != nil {
				log.Warn("data restore failed", "error", err)
			}
		})
	}

	if existing := sandbox.FindGateway(ctx, sb, c.cfg.Signature, log); existing != nil {
		// A process that reports running may still be initializing, so it
		// gets the full timeout.
		err := existing.WaitForPort(ctx, port, timeout)
		if err == nil {
			log.Info("gateway already running", "pid", existing.ID())
			return existing, nil
		}
		log.Warn("existing gateway never became ready, killing", "pid", existing.ID(), "error", err)
		if kerr := existing.Kill(ctx); kerr != nil {
			log.Warn("failed to kill stale gateway", "pid", existing.ID(), "error", kerr)
		}
	}

	env, command, err := c.launchEnv(ctx, tc, log)
	if err != nil {
		return nil, &StartupError{TenantID: tc.TenantID, Sandbox: sb.Name(), Err: err}
	}

	log.Info("starting gateway", "command", command)
	proc, err := sb.StartProcess(ctx, command, sandbox.StartOptions{Env: env})
	if err != nil {
		return nil, &StartupError{TenantID: tc.TenantID, Sandbox: sb.Name(), Err: err}
	}

	if err := proc.WaitForPort(ctx, port, timeout); err != nil {
		serr := &StartupError{TenantID: tc.TenantID, Sandbox: sb.Name(), Err: err}
		if logs, lerr := proc.Logs(ctx); lerr == nil {
			serr.Stderr = tailLines(logs.Stderr, stderrTailLines)
		} else {
			log.Warn("failed to capture gateway logs", "error", lerr)
		}
		log.Error("gateway failed to start", "pid", proc.ID(), "error", err)
		return nil, serr
	}

	log.Info("gateway ready", "pid", proc.ID())
	return proc, nil
}

func (c *Coordinator) launchEnv(ctx context.Context, tc TenantConfig, log *slog.Logger) (map[string]string, string, error) {
	derived, err := DeriveSecrets(c.cfg.Platform.MasterSecret, tc.TenantID)
	if err != nil {
		return nil, "", err
	}

	tenantSecrets := secrets.Set{}
	if c.secrets != nil {
		s, err := c.secrets.Load(ctx, tc.TenantID)
		if err != nil {
			log.Warn("tenant secrets unavailable, using platform credentials", "error", err)
		} else {
			tenantSecrets = s
		}
	}

	var overlay *Overlay
	if c.objects != nil {
		overlay, err = LoadTenantOverlay(ctx, c.objects, tc.TenantID)
		if err != nil {
			log.Warn("tenant overlay unavailable", "error", err)
		}
	}

	env := BuildLaunchEnv(c.cfg.Platform, tc, derived, tenantSecrets, overlay)
	return env.Map(), LaunchCommand(c.cfg.Platform.GatewayCommand, overlay), nil
}

type registrationMarker struct {
	TenantID     string    `json:"tenant_id"`
	Sandbox      string    `json:"sandbox"`
	RegisteredAt time.Time `json:"registered_at"`
}

// noteTenant records a tenant the first time this coordinator sees it.
func (c *Coordinator) noteTenant(sb sandbox.Sandbox, tenantID string) {
	c.mu.Lock()
	if c.seen[tenantID] {
		c.mu.Unlock()
		return
	}
	c.seen[tenantID] = true
	c.mu.Unlock()

	ctx := c.ctx
	log := c.logger.With("tenant_id", tenantID)
	c.spawn(func() {
		if c.objects != nil {
			if err := c.writeMarker(ctx, sb.Name(), tenantID); err != nil {
				log.Warn("failed to write registration marker", "error", err)
			}
		}
		if c.registry != nil {
			if err := c.registry.RegisterTenant(ctx, &store.Tenant{ID: tenantID, SandboxName: sb.Name()}); err != nil {
				log.Warn("failed to register tenant", "error", err)
			}
		}
	})
}

func (c *Coordinator) writeMarker(ctx context.Context, sandboxName, tenantID string) error {
	key := objectstore.MarkerKey(tenantID)
	_, err := c.objects.Head(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, objectstore.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(registrationMarker{TenantID: tenantID, Sandbox: sandboxName, RegisteredAt: c.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}
	return c.objects.Put(ctx, key, data, "application/json")
}

func (c *Coordinator) spawn(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}
