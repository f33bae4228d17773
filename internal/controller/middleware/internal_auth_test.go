package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatewayplane/pkg/api"
)

func TestRequireInternalAuth(t *testing.T) {
	const secret = "test-secret-61"

	tests := []struct {
		name          string
		header        string
		expectedCode  int
		expectedError string
	}{
		{"Missing Header", "", http.StatusUnauthorized, "Missing authorization header"},
		{"Basic Scheme", "Basic test-secret-61", http.StatusUnauthorized, "Invalid authorization header"},
		{"No Token", "Bearer ", http.StatusUnauthorized, "Invalid authorization header"},
		{"Extra Parts", "Bearer test-secret-61 extra", http.StatusUnauthorized, "Invalid authorization header"},
		{"Lowercase Scheme", "bearer test-secret-61", http.StatusUnauthorized, "Invalid authorization header"},
		{"Wrong Token", "Bearer wrong-secret", http.StatusUnauthorized, "Invalid authorization token"},
		{"Valid Token", "Bearer test-secret-61", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireInternalAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/internal/tenants/acme/ensure", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedCode {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedCode)
			}
			if called != (tt.expectedError == "") {
				t.Errorf("handler called = %v, want %v", called, tt.expectedError == "")
			}
			if tt.expectedError == "" {
				return
			}

			var resp api.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.Error != tt.expectedError || resp.Code != "401" {
				t.Errorf("got error %+v, want %q", resp, tt.expectedError)
			}
		})
	}
}
