package store

import "context"

// HealthStore mirrors HealthState so a cold orchestrator can recover it.
type HealthStore interface {
	// GetHealthState returns ErrNotFound when the tenant has never been checked.
	GetHealthState(ctx context.Context, tenantID string) (*HealthState, error)

	// UpsertHealthState writes the state, last writer wins.
	UpsertHealthState(ctx context.Context, state *HealthState) error

	// DeleteHealthState removes the row (operator reset).
	DeleteHealthState(ctx context.Context, tenantID string) error
}

// BreakerStore mirrors the circuit breaker window.
type BreakerStore interface {
	GetBreakerState(ctx context.Context, tenantID string) (*BreakerState, error)
	UpsertBreakerState(ctx context.Context, state *BreakerState) error
	DeleteBreakerState(ctx context.Context, tenantID string) error
}

// TenantRegistry tracks which tenants have a gateway to keep alive.
type TenantRegistry interface {
	// RegisterTenant inserts the tenant or refreshes last_seen_at.
	RegisterTenant(ctx context.Context, tenant *Tenant) error

	// ListTenants returns every registered tenant.
	ListTenants(ctx context.Context) ([]Tenant, error)
}
