package restart

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"gatewayplane/internal/breaker"
	"gatewayplane/internal/health"
	"gatewayplane/internal/sandbox/sandboxtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock   *clocktesting.FakeClock
	health  *health.Engine
	breaker *breaker.Breaker
	sched   *Scheduler
}

func newFixture() *fixture {
	clk := clocktesting.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	h := health.NewEngine(health.Config{Port: 18789}, nil, clk, discardLogger())
	b := breaker.New(breaker.Config{}, nil, clk, discardLogger())
	return &fixture{
		clock:   clk,
		health:  h,
		breaker: b,
		sched:   NewScheduler(h, b, Policy{}, clk, discardLogger()),
	}
}

// fail drives n failed health checks against an empty sandbox.
func (f *fixture) fail(n int) {
	sb := sandboxtest.New("tenant-a")
	for i := 0; i < n; i++ {
		f.health.Check(context.Background(), sb, "a")
	}
}

func TestBackoff(t *testing.T) {
	s := newFixture().sched
	assert.Equal(t, 2*time.Minute, s.Backoff(0))
	assert.Equal(t, 2*time.Minute, s.Backoff(1))
	assert.Equal(t, 4*time.Minute, s.Backoff(2))
	assert.Equal(t, 8*time.Minute, s.Backoff(3))
	assert.Equal(t, 10*time.Minute, s.Backoff(4))
	assert.Equal(t, 10*time.Minute, s.Backoff(60))
}

func TestShouldRestart_NeedsThreeFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.fail(2)
	assert.False(t, f.sched.ShouldRestart(ctx, "a"))
	f.fail(1)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
}

func TestShouldRestart_FiresOnceThenBacksOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.fail(3)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
	assert.False(t, f.sched.ShouldRestart(ctx, "a"), "claim is held until the restart is recorded")

	f.sched.RecordRestart(ctx, "a")
	assert.False(t, f.sched.ShouldRestart(ctx, "a"), "failures were reset")

	// Gateway keeps failing right after the restart.
	f.fail(3)
	f.clock.Step(time.Minute)
	assert.False(t, f.sched.ShouldRestart(ctx, "a"), "inside the 2m backoff")

	f.clock.Step(time.Minute)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
	f.sched.RecordRestart(ctx, "a")

	// Second restart in the window doubles the delay.
	f.fail(3)
	f.clock.Step(3 * time.Minute)
	assert.False(t, f.sched.ShouldRestart(ctx, "a"))
	f.clock.Step(time.Minute)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
}

func TestShouldRestart_StaleClaimExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.fail(3)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
	f.clock.Step(DefaultBaseDelay - time.Second)
	assert.False(t, f.sched.ShouldRestart(ctx, "a"))
	f.clock.Step(time.Second)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
}

func TestShouldRestart_BreakerTripped(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	for i := 0; i < breaker.DefaultThreshold; i++ {
		f.breaker.RecordRestart(ctx, "a")
	}
	f.fail(10)
	assert.False(t, f.sched.ShouldRestart(ctx, "a"))

	f.sched.ResetBreaker(ctx, "a")
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
}

func TestShouldRestart_TenantsIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	f.fail(3)
	assert.True(t, f.sched.ShouldRestart(ctx, "a"))
	assert.False(t, f.sched.ShouldRestart(ctx, "b"))
}
