package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatewayplane/internal/engine"
	"gatewayplane/internal/presign"
)

func TestIssueGrant(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockEngine)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success",
			body: `{"tenant_id": "acme", "path": "notes/a.md", "method": "PUT", "expires_in_seconds": 600}`,
			mockSetup: func(m *mockEngine) {
				m.grantResp = &engine.Grant{URL: "https://s3.example.com/signed", Key: "tenants/acme/files/notes/a.md", Method: "PUT"}
			},
			expectedStatus: http.StatusCreated,
			expectedInBody: "https://s3.example.com/signed",
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Negative Expiry",
			body:           `{"tenant_id": "acme", "path": "a.md", "expires_in_seconds": -5}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "expires_in_seconds",
		},
		{
			name: "Unsupported Method",
			body: `{"tenant_id": "acme", "path": "a.md", "method": "DELETE"}`,
			mockSetup: func(m *mockEngine) {
				m.grantErr = engine.ErrInvalidRequest
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Expiry Out Of Range",
			body: `{"tenant_id": "acme", "path": "a.md", "expires_in_seconds": 9999999}`,
			mockSetup: func(m *mockEngine) {
				m.grantErr = presign.ErrInvalidGrant
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "No Object Store",
			body: `{"tenant_id": "acme", "path": "a.md"}`,
			mockSetup: func(m *mockEngine) {
				m.grantErr = presign.ErrGrantUnavailable
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedInBody: "Failed to issue grant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEngine{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock, nil)

			req := httptest.NewRequest(http.MethodPost, "/internal/grants", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			h.IssueGrant(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}
		})
	}
}

func TestIssueGrant_ConvertsExpiry(t *testing.T) {
	mock := &mockEngine{grantResp: &engine.Grant{}}
	h := newTestHandlers(mock, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/grants",
		bytes.NewBufferString(`{"tenant_id": "acme", "path": "a.md", "method": "get", "expires_in_seconds": 600}`))
	h.IssueGrant(httptest.NewRecorder(), req)

	if mock.capturedExpiry != 10*time.Minute {
		t.Errorf("expected 10m expiry, got %v", mock.capturedExpiry)
	}
	if mock.capturedMethod != "get" {
		t.Errorf("expected method to be passed through, got %q", mock.capturedMethod)
	}
}
