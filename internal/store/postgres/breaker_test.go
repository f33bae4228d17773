package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"gatewayplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetBreakerState_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	windowStart := time.Now().Add(-3 * time.Minute).Truncate(time.Second)

	mock.ExpectQuery(`SELECT tenant_id, restart_count, window_start, updated_at FROM circuit_breaker WHERE tenant_id = \$1`).
		WithArgs("tenant-b").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "restart_count", "window_start", "updated_at"}).
			AddRow("tenant-b", 4, windowStart, windowStart))

	bs, err := s.GetBreakerState(context.Background(), "tenant-b")
	if err != nil {
		t.Fatalf("GetBreakerState failed: %v", err)
	}
	if bs.Count != 4 {
		t.Errorf("got count %d, want 4", bs.Count)
	}
	if !bs.WindowStart.Equal(windowStart) {
		t.Errorf("got window start %v, want %v", bs.WindowStart, windowStart)
	}
}

func TestGetBreakerState_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT tenant_id, restart_count`).
		WithArgs("tenant-b").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetBreakerState(context.Background(), "tenant-b")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestUpsertBreakerState(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	windowStart := time.Now()
	mock.ExpectExec(`INSERT INTO circuit_breaker .* ON CONFLICT \(tenant_id\) DO UPDATE`).
		WithArgs("tenant-b", 1, windowStart).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertBreakerState(context.Background(), &store.BreakerState{TenantID: "tenant-b", Count: 1, WindowStart: windowStart})
	if err != nil {
		t.Fatalf("UpsertBreakerState failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteBreakerState(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`DELETE FROM circuit_breaker WHERE tenant_id = \$1`).
		WithArgs("tenant-b").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteBreakerState(context.Background(), "tenant-b"); err != nil {
		t.Fatalf("DeleteBreakerState failed: %v", err)
	}
}
