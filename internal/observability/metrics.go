// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// SyncDurationBuckets are the histogram bounds, in seconds, for sync
// uploads. Most are small files; tarred flushes run into minutes.
var SyncDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// InitMetrics installs a global meter provider backed by a Prometheus
// exporter on its own registry, alongside Go runtime and process
// collectors. It returns the /metrics handler and the provider's shutdown.
func InitMetrics(ctx context.Context, info ServiceInfo) (http.Handler, func(context.Context) error, error) {
	res, err := NewResource(ctx, info)
	if err != nil {
		return nil, nil, err
	}

	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
		metric.WithView(metric.NewView(
			metric.Instrument{Name: syncDurationName},
			metric.Stream{Aggregation: metric.AggregationExplicitBucketHistogram{Boundaries: SyncDurationBuckets}},
		)),
	)

	otel.SetMeterProvider(provider)

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), provider.Shutdown, nil
}
