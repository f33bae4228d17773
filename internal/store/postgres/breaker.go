package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatewayplane/internal/store"
)

// GetBreakerState loads the restart window for a tenant.
func (s *Store) GetBreakerState(ctx context.Context, tenantID string) (*store.BreakerState, error) {
	query := "SELECT tenant_id, restart_count, window_start, updated_at FROM circuit_breaker WHERE tenant_id = $1"

	var bs store.BreakerState
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&bs.TenantID,
		&bs.Count,
		&bs.WindowStart,
		&bs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load breaker state for %s: %w", tenantID, err)
	}
	return &bs, nil
}

// UpsertBreakerState writes the restart window.
func (s *Store) UpsertBreakerState(ctx context.Context, state *store.BreakerState) error {
	query := `
		INSERT INTO circuit_breaker (tenant_id, restart_count, window_start, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			restart_count = EXCLUDED.restart_count,
			window_start = EXCLUDED.window_start,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, state.TenantID, state.Count, state.WindowStart); err != nil {
		return fmt.Errorf("failed to upsert breaker state for %s: %w", state.TenantID, err)
	}
	return nil
}

// DeleteBreakerState clears the window (operator reset).
func (s *Store) DeleteBreakerState(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM circuit_breaker WHERE tenant_id = $1", tenantID)
	return err
}
