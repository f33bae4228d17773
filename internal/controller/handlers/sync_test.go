package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatewayplane/internal/engine"
	"gatewayplane/internal/syncqueue"
	"gatewayplane/pkg/api"
)

func TestEnqueueSync(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockEngine)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success",
			body: `{"paths": ["a.md", "b.md"], "priority": "high", "delay_ms": 250}`,
			mockSetup: func(m *mockEngine) {
				m.enqueueResp = []syncqueue.Job{
					{ID: "j1", Path: "a.md", Priority: syncqueue.PriorityHigh, BatchID: "batch-1"},
					{ID: "j2", Path: "b.md", Priority: syncqueue.PriorityHigh, BatchID: "batch-1"},
				}
			},
			expectedStatus: http.StatusAccepted,
			expectedInBody: `"batch_id":"batch-1"`,
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Unknown Priority",
			body:           `{"paths": ["a.md"], "priority": "urgent"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid priority",
		},
		{
			name:           "Negative Delay",
			body:           `{"paths": ["a.md"], "delay_ms": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "delay_ms",
		},
		{
			name: "No Paths",
			body: `{"paths": []}`,
			mockSetup: func(m *mockEngine) {
				m.enqueueErr = engine.ErrInvalidRequest
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEngine{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock, nil)

			req := httptest.NewRequest(http.MethodPost, "/internal/tenants/acme/sync", bytes.NewBufferString(tt.body))
			req.SetPathValue("id", "acme")
			rr := httptest.NewRecorder()

			h.EnqueueSync(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestEnqueueSync_PassesArguments(t *testing.T) {
	mock := &mockEngine{}
	h := newTestHandlers(mock, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/tenants/acme/sync",
		bytes.NewBufferString(`{"paths": ["a.md"], "priority": "critical", "delay_ms": 250}`))
	req.SetPathValue("id", "acme")
	h.EnqueueSync(httptest.NewRecorder(), req)

	if mock.capturedTenant != "acme" || len(mock.capturedPaths) != 1 {
		t.Errorf("unexpected arguments: tenant=%q paths=%v", mock.capturedTenant, mock.capturedPaths)
	}
	if mock.capturedPriority != syncqueue.PriorityCritical {
		t.Errorf("expected critical priority, got %v", mock.capturedPriority)
	}
	if mock.capturedDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms delay, got %v", mock.capturedDelay)
	}
}

func TestSyncStats(t *testing.T) {
	mock := &mockEngine{statsResp: engine.SyncStats{
		Stats: syncqueue.Stats{
			Pending:    3,
			Completed:  10,
			Failed:     1,
			ByPriority: map[string]int{"high": 2, "low": 1},
		},
		LagByPriority:    map[string]time.Duration{"high": 2 * time.Second},
		OldestPendingAge: 5 * time.Second,
		Recent: []syncqueue.JobResult{
			{JobID: "j1", TenantID: "acme", Path: "a.md", Priority: syncqueue.PriorityHigh, Success: true, Duration: 120 * time.Millisecond},
		},
	}}
	h := newTestHandlers(mock, nil)

	rr := httptest.NewRecorder()
	h.SyncStats(rr, httptest.NewRequest(http.MethodGet, "/internal/sync/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp api.SyncStatsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Pending != 3 || resp.Completed != 10 || resp.Failed != 1 {
		t.Errorf("unexpected counters: %+v", resp)
	}
	if resp.LagMs["high"] != 2000 || resp.OldestPendingMs != 5000 {
		t.Errorf("unexpected lag: %+v", resp)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].Priority != "high" || resp.Recent[0].DurationMs != 120 {
		t.Errorf("unexpected recent results: %+v", resp.Recent)
	}
}
