package postgres

import (
	"context"
	"fmt"

	"gatewayplane/internal/store"
)

// RegisterTenant inserts a tenant or bumps its last_seen_at.
func (s *Store) RegisterTenant(ctx context.Context, tenant *store.Tenant) error {
	query := `
		INSERT INTO tenants (id, sandbox_name, registered_at, last_seen_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			sandbox_name = EXCLUDED.sandbox_name,
			last_seen_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, tenant.ID, tenant.SandboxName); err != nil {
		return fmt.Errorf("failed to register tenant %s: %w", tenant.ID, err)
	}
	return nil
}

// ListTenants returns every registered tenant ordered by id.
func (s *Store) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	query := "SELECT id, sandbox_name, registered_at, last_seen_at FROM tenants ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []store.Tenant
	for rows.Next() {
		var t store.Tenant
		if err := rows.Scan(&t.ID, &t.SandboxName, &t.RegisteredAt, &t.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenant rows error: %w", err)
	}
	return tenants, nil
}
