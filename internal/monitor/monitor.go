// Package monitor periodically sweeps registered tenants, checking their
// gateways and triggering restarts on sustained failure.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewayplane/internal/engine"
	"gatewayplane/internal/store"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultParallelism = 8
	DefaultTimeout     = 4 * time.Minute
)

// Checker runs one check-and-recover step for a tenant.
type Checker interface {
	CheckAndRecover(ctx context.Context, tenantID string) (engine.Outcome, error)
}

type Config struct {
	Interval    time.Duration
	Parallelism int
	// Timeout bounds each tenant's step, including any restart.
	Timeout time.Duration
}

type Monitor struct {
	cfg     Config
	tenants store.TenantRegistry
	checker Checker
	logger  *slog.Logger
	done    chan struct{}
}

func New(cfg Config, tenants store.TenantRegistry, checker Checker, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Monitor{cfg: cfg, tenants: tenants, checker: checker, logger: logger, done: make(chan struct{})}
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	Tenants   int
	Healthy   int
	Unhealthy int
	Restarted int
	Errors    int
}

// Run sweeps every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.done)
	m.logger.Info("health monitor starting", "interval", m.cfg.Interval, "parallelism", m.cfg.Parallelism)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("health sweep failed", "error", err)
			}
		}
	}
}

// Done is closed once Run has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Sweep checks all registered tenants with bounded parallelism. A failing
// tenant never aborts the sweep; only listing tenants can fail it.
func (m *Monitor) Sweep(ctx context.Context) (Summary, error) {
	tenants, err := m.tenants.ListTenants(ctx)
	if err != nil {
		return Summary{}, err
	}

	outcomes := make([]engine.Outcome, len(tenants))
	errs := make([]error, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)
	for i, t := range tenants {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, m.cfg.Timeout)
			defer cancel()
			outcomes[i], errs[i] = m.checker.CheckAndRecover(tctx, t.ID)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Tenants: len(tenants)}
	for i, t := range tenants {
		switch {
		case errs[i] != nil:
			sum.Errors++
			m.logger.Warn("tenant check failed", "tenant_id", t.ID, "error", errs[i])
		case outcomes[i].Health.Healthy:
			sum.Healthy++
		default:
			sum.Unhealthy++
		}
		if outcomes[i].Restarted {
			sum.Restarted++
		}
	}
	m.logger.Info("health sweep complete", "tenants", sum.Tenants, "healthy", sum.Healthy,
		"unhealthy", sum.Unhealthy, "restarted", sum.Restarted, "errors", sum.Errors)
	return sum, nil
}
