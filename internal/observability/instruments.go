package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gatewayplane/internal/syncqueue"
)

const (
	meterName        = "gatewayplane"
	syncDurationName = "gatewayplane.sync.duration"
)

// Meter returns the engine meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(meterName)
}

// Metrics records engine events as OTel instruments.
type Metrics struct {
	restarts     metric.Int64Counter
	healthChecks metric.Int64Counter
	ensures      metric.Int64Counter
	syncJobs     metric.Int64Counter
	syncDuration metric.Float64Histogram
}

// NewMetrics creates the engine instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.restarts, err = meter.Int64Counter("gatewayplane.restarts",
		metric.WithDescription("Gateway restarts by trigger and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create restarts counter: %w", err)
	}
	if m.healthChecks, err = meter.Int64Counter("gatewayplane.health.checks",
		metric.WithDescription("Health checks by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create health counter: %w", err)
	}
	if m.ensures, err = meter.Int64Counter("gatewayplane.gateway.ensures",
		metric.WithDescription("EnsureRunning calls by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create ensure counter: %w", err)
	}
	if m.syncJobs, err = meter.Int64Counter("gatewayplane.sync.jobs",
		metric.WithDescription("Finished sync jobs by priority and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create sync counter: %w", err)
	}
	if m.syncDuration, err = meter.Float64Histogram(syncDurationName,
		metric.WithDescription("Duration of the final sync attempt"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create sync histogram: %w", err)
	}
	return m, nil
}

func outcome(success bool) attribute.KeyValue {
	if success {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "failure")
}

// RecordRestart counts a restart attempt.
func (m *Metrics) RecordRestart(ctx context.Context, manual, success bool) {
	trigger := "auto"
	if manual {
		trigger = "manual"
	}
	m.restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger), outcome(success)))
}

func (m *Metrics) RecordHealthCheck(ctx context.Context, healthy bool) {
	m.healthChecks.Add(ctx, 1, metric.WithAttributes(outcome(healthy)))
}

func (m *Metrics) RecordEnsure(ctx context.Context, success bool) {
	m.ensures.Add(ctx, 1, metric.WithAttributes(outcome(success)))
}

// RecordSync is a sync queue subscriber.
func (m *Metrics) RecordSync(res syncqueue.JobResult) {
	ctx := context.Background()
	result := outcome(res.Success)
	if res.SupersededBy != "" {
		result = attribute.String("outcome", "superseded")
	}
	attrs := metric.WithAttributes(attribute.String("priority", res.Priority.String()), result)
	m.syncJobs.Add(ctx, 1, attrs)
	m.syncDuration.Record(ctx, res.Duration.Seconds(), attrs)
}

// QueueObserver is the read side of the sync queue.
type QueueObserver interface {
	Stats() syncqueue.Stats
	OldestPendingAge() time.Duration
}

// ObserveQueue registers gauges that read the queue only when scraped.
func ObserveQueue(meter metric.Meter, q QueueObserver) error {
	pending, err := meter.Int64ObservableGauge("gatewayplane.sync.pending",
		metric.WithDescription("Sync jobs waiting, by priority"))
	if err != nil {
		return fmt.Errorf("failed to create pending gauge: %w", err)
	}
	processing, err := meter.Int64ObservableGauge("gatewayplane.sync.processing",
		metric.WithDescription("Sync jobs currently running"))
	if err != nil {
		return fmt.Errorf("failed to create processing gauge: %w", err)
	}
	oldest, err := meter.Float64ObservableGauge("gatewayplane.sync.oldest_pending_age",
		metric.WithDescription("Age of the oldest pending sync job"),
		metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("failed to create age gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats := q.Stats()
		for name, n := range stats.ByPriority {
			o.ObserveInt64(pending, int64(n), metric.WithAttributes(attribute.String("priority", name)))
		}
		o.ObserveInt64(processing, int64(stats.Processing))
		o.ObserveFloat64(oldest, q.OldestPendingAge().Seconds())
		return nil
	}, pending, processing, oldest)
	if err != nil {
		return fmt.Errorf("failed to register queue callback: %w", err)
	}
	return nil
}
