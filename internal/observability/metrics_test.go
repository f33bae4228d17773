package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatewayplane/internal/syncqueue"
)

func initMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics(context.Background(), ServiceInfo{Name: "gatewayplane-test", Version: "1.2.3", InstanceID: "orch-0"})
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	return handler
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestInitMetrics(t *testing.T) {
	handler := initMetrics(t)
	if handler == nil {
		t.Fatal("expected handler to be non-nil")
	}
	if body := scrape(t, handler); body == "" {
		t.Error("handler returned empty body")
	}
}

func TestInitMetrics_ServiceResourceAndRuntime(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewMetrics(Meter())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordEnsure(context.Background(), true)

	body := scrape(t, handler)
	for _, want := range []string{
		"target_info",
		`service_name="gatewayplane-test"`,
		`service_version="1.2.3"`,
		`service_instance_id="orch-0"`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output, got:\n%s", want, body)
		}
	}
}

func TestMetrics_SyncDurationBuckets(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewMetrics(Meter())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordSync(syncqueue.JobResult{Priority: syncqueue.PriorityNormal, Success: true, Duration: 45 * time.Second})

	body := scrape(t, handler)
	for _, want := range []string{`le="0.05"`, `le="60"`, `le="120"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected bucket %s in output, got:\n%s", want, body)
		}
	}
}

func TestMetrics_SupersededSyncOutcome(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewMetrics(Meter())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordSync(syncqueue.JobResult{Priority: syncqueue.PriorityLow, SupersededBy: "job-2"})

	if body := scrape(t, handler); !strings.Contains(body, `outcome="superseded"`) {
		t.Errorf("expected superseded outcome in output, got:\n%s", body)
	}
}

func TestMetrics_EngineEventsAppearInScrape(t *testing.T) {
	handler := initMetrics(t)
	ctx := context.Background()

	m, err := NewMetrics(Meter())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordRestart(ctx, true, false)
	m.RecordHealthCheck(ctx, true)
	m.RecordEnsure(ctx, true)
	m.RecordSync(syncqueue.JobResult{Priority: syncqueue.PriorityHigh, Success: true, Duration: 250 * time.Millisecond})

	body := scrape(t, handler)
	for _, want := range []string{
		"gatewayplane_restarts",
		`trigger="manual"`,
		`outcome="failure"`,
		"gatewayplane_health_checks",
		"gatewayplane_gateway_ensures",
		"gatewayplane_sync_jobs",
		"gatewayplane_sync_duration",
		`priority="high"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output, got:\n%s", want, body)
		}
	}
}

type stubQueue struct {
	stats syncqueue.Stats
	age   time.Duration
	calls int
}

func (s *stubQueue) Stats() syncqueue.Stats {
	s.calls++
	return s.stats
}

func (s *stubQueue) OldestPendingAge() time.Duration { return s.age }

func TestObserveQueue_ReadsOnScrape(t *testing.T) {
	handler := initMetrics(t)

	q := &stubQueue{
		stats: syncqueue.Stats{Processing: 2, ByPriority: map[string]int{"critical": 1, "normal": 4}},
		age:   90 * time.Second,
	}
	if err := ObserveQueue(Meter(), q); err != nil {
		t.Fatalf("ObserveQueue failed: %v", err)
	}
	if q.calls != 0 {
		t.Fatalf("expected no reads before scrape, got %d", q.calls)
	}

	body := scrape(t, handler)
	if q.calls == 0 {
		t.Error("expected scrape to read queue stats")
	}
	for _, want := range []string{
		"gatewayplane_sync_pending",
		`priority="critical"`,
		"gatewayplane_sync_processing",
		"gatewayplane_sync_oldest_pending_age",
		" 90",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output, got:\n%s", want, body)
		}
	}
}
