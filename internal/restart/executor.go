package restart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/gateway"
	"gatewayplane/internal/sandbox"
)

var ErrFlushFailed = errors.New("restart: emergency flush failed")

const (
	DefaultFlushTimeout = 30 * time.Second
	DefaultSettleDelay  = 2 * time.Second
)

// FlushResult describes the pre-restart sync.
type FlushResult struct {
	Attempted bool          `json:"attempted"`
	Success   bool          `json:"success"`
	Mode      string        `json:"mode,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Result is returned to restart callers instead of an error.
type Result struct {
	Success bool        `json:"success"`
	Sync    FlushResult `json:"sync"`
	Message string      `json:"message"`
	PID     string      `json:"pid,omitempty"`
}

// Flusher persists sandbox state before its processes are killed.
type Flusher interface {
	Flush(ctx context.Context, sb sandbox.Sandbox, tenantID string) (FlushResult, error)
}

// Starter brings a gateway up. Forget drops any cached outcome so the next
// EnsureRunning starts from discovery.
type Starter interface {
	EnsureRunning(ctx context.Context, sb sandbox.Sandbox, tc gateway.TenantConfig) (sandbox.Process, error)
	Forget(sandboxName string)
}

// Recorder receives restart outcomes, e.g. for metrics.
type Recorder interface {
	RecordRestart(ctx context.Context, manual, success bool)
}

type ExecutorConfig struct {
	FlushTimeout time.Duration
	// SettleDelay is the pause between killing processes and starting anew.
	SettleDelay time.Duration
}

// Executor performs restarts: flush, kill, settle, start.
type Executor struct {
	cfg       ExecutorConfig
	scheduler *Scheduler
	flusher   Flusher
	starter   Starter
	recorder  Recorder
	clock     clock.Clock
	logger    *slog.Logger
}

func NewExecutor(cfg ExecutorConfig, scheduler *Scheduler, flusher Flusher, starter Starter, recorder Recorder, clk clock.Clock, logger *slog.Logger) *Executor {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Executor{
		cfg:       cfg,
		scheduler: scheduler,
		flusher:   flusher,
		starter:   starter,
		recorder:  recorder,
		clock:     clk,
		logger:    logger,
	}
}

// Restart restarts the tenant's gateway. Manual restarts clear the circuit
// breaker first. A failed flush is reported but does not stop the restart.
func (x *Executor) Restart(ctx context.Context, sb sandbox.Sandbox, tc gateway.TenantConfig, manual bool) Result {
	log := x.logger.With("tenant_id", tc.TenantID, "sandbox", sb.Name(), "manual", manual)
	log.Info("restarting gateway")

	if manual {
		x.scheduler.ResetBreaker(ctx, tc.TenantID)
	}

	var res Result
	res.Sync = x.flush(ctx, sb, tc.TenantID, log)

	killed, err := x.killAll(ctx, sb)
	if err != nil {
		log.Warn("failed to stop sandbox processes", "error", err)
	}
	log.Info("sandbox processes stopped", "count", killed)

	if killed > 0 && x.cfg.SettleDelay > 0 {
		select {
		case <-x.clock.After(x.cfg.SettleDelay):
		case <-ctx.Done():
		}
	}

	x.starter.Forget(sb.Name())
	proc, err := x.starter.EnsureRunning(ctx, sb, tc)
	x.scheduler.RecordRestart(ctx, tc.TenantID)

	if err != nil {
		res.Message = fmt.Sprintf("gateway failed to start: %v", err)
		log.Error("restart failed", "error", err)
	} else {
		res.Success = true
		res.PID = proc.ID()
		res.Message = "gateway restarted"
		if res.Sync.Attempted && !res.Sync.Success {
			res.Message = "gateway restarted; pre-restart sync failed"
		}
		log.Info("restart complete", "pid", proc.ID())
	}

	if x.recorder != nil {
		x.recorder.RecordRestart(ctx, manual, res.Success)
	}
	return res
}

func (x *Executor) flush(ctx context.Context, sb sandbox.Sandbox, tenantID string, log *slog.Logger) FlushResult {
	if x.flusher == nil {
		return FlushResult{}
	}
	fctx, cancel := context.WithTimeout(ctx, x.cfg.FlushTimeout)
	defer cancel()

	start := x.clock.Now()
	fr, err := x.flusher.Flush(fctx, sb, tenantID)
	fr.Attempted = true
	fr.Duration = x.clock.Since(start)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrFlushFailed, err)
		fr.Success = false
		fr.Error = err.Error()
		log.Warn("pre-restart flush failed, continuing", "error", err)
		return fr
	}
	fr.Success = true
	return fr
}

// killAll terminates every live process in the sandbox, so strays holding
// the gateway port cannot outlive the restart.
func (x *Executor) killAll(ctx context.Context, sb sandbox.Sandbox) (int, error) {
	procs, err := sb.ListProcesses(ctx)
	if err != nil {
		return 0, err
	}
	killed := 0
	var errs []error
	for _, p := range procs {
		if !p.Status().Alive() {
			continue
		}
		if err := p.Kill(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kill %s: %w", p.ID(), err))
			continue
		}
		killed++
	}
	return killed, errors.Join(errs...)
}
