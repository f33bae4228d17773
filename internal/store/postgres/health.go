package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatewayplane/internal/store"
)

// GetHealthState loads the mirrored health state for a tenant.
func (s *Store) GetHealthState(ctx context.Context, tenantID string) (*store.HealthState, error) {
	query := `
		SELECT tenant_id, consecutive_failures, last_check, last_healthy, last_restart, updated_at
		FROM health_states
		WHERE tenant_id = $1
	`

	var (
		hs          store.HealthState
		lastHealthy sql.NullTime
		lastRestart sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&hs.TenantID,
		&hs.ConsecutiveFailures,
		&hs.LastCheckAt,
		&lastHealthy,
		&lastRestart,
		&hs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load health state for %s: %w", tenantID, err)
	}

	hs.LastHealthyAt = timePtr(lastHealthy)
	hs.LastRestartAt = timePtr(lastRestart)
	return &hs, nil
}

// UpsertHealthState writes the health state, replacing any existing row.
func (s *Store) UpsertHealthState(ctx context.Context, state *store.HealthState) error {
	query := `
		INSERT INTO health_states (tenant_id, consecutive_failures, last_check, last_healthy, last_restart, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_check = EXCLUDED.last_check,
			last_healthy = EXCLUDED.last_healthy,
			last_restart = EXCLUDED.last_restart,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		state.TenantID,
		state.ConsecutiveFailures,
		state.LastCheckAt,
		nullTime(state.LastHealthyAt),
		nullTime(state.LastRestartAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert health state for %s: %w", state.TenantID, err)
	}
	return nil
}

// DeleteHealthState removes the tenant's health row.
func (s *Store) DeleteHealthState(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM health_states WHERE tenant_id = $1", tenantID)
	return err
}
