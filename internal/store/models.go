// Package store contains the durable state layer for gatewayplane.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a tenant has no stored row.
var ErrNotFound = errors.New("store: not found")

// HealthState is the per-tenant health record mirrored to health_states.
type HealthState struct {
	TenantID            string
	ConsecutiveFailures int
	LastCheckAt         time.Time
	LastHealthyAt       *time.Time
	LastRestartAt       *time.Time
	UpdatedAt           time.Time
}

// BreakerState is the per-tenant restart window mirrored to circuit_breaker.
type BreakerState struct {
	TenantID    string
	Count       int
	WindowStart time.Time
	UpdatedAt   time.Time
}

// Tenant is a registered tenant the monitor sweeps over.
type Tenant struct {
	ID           string
	SandboxName  string
	RegisteredAt time.Time
	LastSeenAt   time.Time
}
