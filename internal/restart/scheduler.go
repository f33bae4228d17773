// Package restart decides when an unhealthy gateway should be restarted
// and carries the restart out.
package restart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/health"
)

const (
	DefaultFailuresBeforeRestart = 3
	DefaultBaseDelay             = 2 * time.Minute
	DefaultMaxDelay              = 10 * time.Minute
)

type Policy struct {
	FailuresBeforeRestart int
	BaseDelay             time.Duration
	MaxDelay              time.Duration
}

// HealthTracker is the part of the health engine the scheduler needs.
type HealthTracker interface {
	State(ctx context.Context, tenantID string) health.State
	RecordRestart(ctx context.Context, tenantID string)
}

// Breaker is the part of the circuit breaker the scheduler needs.
type Breaker interface {
	IsTripped(ctx context.Context, tenantID string) bool
	Count(ctx context.Context, tenantID string) int
	RecordRestart(ctx context.Context, tenantID string) int
	Reset(ctx context.Context, tenantID string)
}

// Scheduler gates automatic restarts on failure count, the circuit breaker
// and an exponential backoff.
type Scheduler struct {
	health  HealthTracker
	breaker Breaker
	policy  Policy
	clock   clock.PassiveClock
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

func NewScheduler(h HealthTracker, b Breaker, policy Policy, clk clock.PassiveClock, logger *slog.Logger) *Scheduler {
	if policy.FailuresBeforeRestart <= 0 {
		policy.FailuresBeforeRestart = DefaultFailuresBeforeRestart
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		health:  h,
		breaker: b,
		policy:  policy,
		clock:   clk,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// Backoff returns the minimum spacing after the nth restart in the
// current breaker window.
func (s *Scheduler) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := s.policy.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.policy.MaxDelay {
			return s.policy.MaxDelay
		}
	}
	if d > s.policy.MaxDelay {
		return s.policy.MaxDelay
	}
	return d
}

// ShouldRestart reports whether the tenant's gateway should be restarted
// now. A true answer claims the restart: later calls return false until
// RecordRestart or until the claim goes stale after BaseDelay.
func (s *Scheduler) ShouldRestart(ctx context.Context, tenantID string) bool {
	log := s.logger.With("tenant_id", tenantID)

	if s.breaker.IsTripped(ctx, tenantID) {
		log.Warn("restart refused: circuit breaker open")
		return false
	}

	state := s.health.State(ctx, tenantID)
	if state.ConsecutiveFailures < s.policy.FailuresBeforeRestart {
		return false
	}

	now := s.clock.Now()
	delay := s.Backoff(s.breaker.Count(ctx, tenantID))
	if state.LastRestartAt != nil {
		if elapsed := now.Sub(*state.LastRestartAt); elapsed < delay {
			log.Info("restart deferred by backoff", "elapsed", elapsed, "delay", delay)
			return false
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if claimed, ok := s.pending[tenantID]; ok && now.Sub(claimed) < s.policy.BaseDelay {
		return false
	}
	s.pending[tenantID] = now
	return true
}

// RecordRestart notes a restart attempt in the health record and the
// breaker and releases the claim taken by ShouldRestart.
func (s *Scheduler) RecordRestart(ctx context.Context, tenantID string) {
	s.health.RecordRestart(ctx, tenantID)
	count := s.breaker.RecordRestart(ctx, tenantID)

	s.mu.Lock()
	delete(s.pending, tenantID)
	s.mu.Unlock()

	s.logger.Info("restart recorded", "tenant_id", tenantID, "restarts_in_window", count)
}

// ResetBreaker clears the tenant's breaker window.
func (s *Scheduler) ResetBreaker(ctx context.Context, tenantID string) {
	s.breaker.Reset(ctx, tenantID)
}
