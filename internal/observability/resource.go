package observability

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// ServiceInfo identifies this process in exported telemetry.
type ServiceInfo struct {
	Name    string
	Version string
	// InstanceID defaults to the hostname, which is the pod name under
	// Kubernetes.
	InstanceID string
}

func (s ServiceInfo) withDefaults() ServiceInfo {
	if s.Name == "" {
		s.Name = "gatewayplane"
	}
	if s.Version == "" {
		s.Version = "dev"
	}
	if s.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = uuid.NewString()
		}
		s.InstanceID = host
	}
	return s
}

// NewResource describes the service for both traces and metrics.
// OTEL_RESOURCE_ATTRIBUTES can add to it.
func NewResource(ctx context.Context, info ServiceInfo) (*resource.Resource, error) {
	info = info.withDefaults()
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(info.Name),
			semconv.ServiceVersion(info.Version),
			semconv.ServiceInstanceID(info.InstanceID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
