// Package breaker stops restart loops: once a tenant has been restarted
// Threshold times within Window, further automatic restarts are refused
// until the window expires or an operator resets it.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/store"
)

const (
	DefaultWindow    = 10 * time.Minute
	DefaultThreshold = 5
)

type Config struct {
	Window    time.Duration
	Threshold int
}

// Breaker tracks restarts per tenant. The durable store is a best-effort
// mirror; when it is unavailable the breaker runs from memory.
type Breaker struct {
	cfg    Config
	store  store.BreakerStore
	clock  clock.PassiveClock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu          sync.Mutex
	loaded      bool
	count       int
	windowStart time.Time
}

// New creates a breaker. st may be nil.
func New(cfg Config, st store.BreakerStore, clk clock.PassiveClock, logger *slog.Logger) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Breaker{
		cfg:     cfg,
		store:   st,
		clock:   clk,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// IsTripped reports whether automatic restarts are currently refused.
func (b *Breaker) IsTripped(ctx context.Context, tenantID string) bool {
	e := b.lock(ctx, tenantID)
	defer e.mu.Unlock()
	return b.activeCount(e) >= b.cfg.Threshold
}

// Count returns the restarts inside the current window, 0 once it expired.
func (b *Breaker) Count(ctx context.Context, tenantID string) int {
	e := b.lock(ctx, tenantID)
	defer e.mu.Unlock()
	return b.activeCount(e)
}

// RecordRestart counts a restart, opening a new window if the previous one
// expired, and returns the count in the current window.
func (b *Breaker) RecordRestart(ctx context.Context, tenantID string) int {
	e := b.lock(ctx, tenantID)
	defer e.mu.Unlock()

	now := b.clock.Now()
	if b.expired(e, now) {
		e.count = 1
		e.windowStart = now
	} else {
		e.count++
	}
	if e.count == b.cfg.Threshold {
		b.logger.Warn("circuit breaker tripped", "tenant_id", tenantID, "restarts", e.count, "window", b.cfg.Window)
	}

	if b.store != nil {
		st := &store.BreakerState{TenantID: tenantID, Count: e.count, WindowStart: e.windowStart}
		if err := b.store.UpsertBreakerState(ctx, st); err != nil {
			b.logger.Warn("failed to persist breaker state", "tenant_id", tenantID, "error", err)
		}
	}
	return e.count
}

// Reset clears the tenant's window.
func (b *Breaker) Reset(ctx context.Context, tenantID string) {
	e := b.lock(ctx, tenantID)
	e.count = 0
	e.windowStart = time.Time{}
	e.mu.Unlock()

	if b.store != nil {
		if err := b.store.DeleteBreakerState(ctx, tenantID); err != nil {
			b.logger.Warn("failed to delete breaker state", "tenant_id", tenantID, "error", err)
		}
	}
	b.logger.Info("circuit breaker reset", "tenant_id", tenantID)
}

// lock returns the tenant entry locked, loading it from the store on first
// use.
func (b *Breaker) lock(ctx context.Context, tenantID string) *entry {
	b.mu.Lock()
	e, ok := b.entries[tenantID]
	if !ok {
		e = &entry{}
		b.entries[tenantID] = e
	}
	b.mu.Unlock()

	e.mu.Lock()
	if !e.loaded {
		e.loaded = true
		if b.store != nil {
			st, err := b.store.GetBreakerState(ctx, tenantID)
			switch {
			case err == nil:
				e.count = st.Count
				e.windowStart = st.WindowStart
			case !errors.Is(err, store.ErrNotFound):
				b.logger.Warn("failed to load breaker state", "tenant_id", tenantID, "error", err)
			}
		}
	}
	return e
}

func (b *Breaker) expired(e *entry, now time.Time) bool {
	return e.count == 0 || now.Sub(e.windowStart) > b.cfg.Window
}

func (b *Breaker) activeCount(e *entry) int {
	if b.expired(e, b.clock.Now()) {
		return 0
	}
	return e.count
}
