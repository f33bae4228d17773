package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"gatewayplane/pkg/api"
)

func TestGrantCommand(t *testing.T) {
	resetViper()

	var captured api.GrantRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/grants" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&captured)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.GrantResponse{
			URL:       "https://s3.example.com/tenants/acme/files/a.md?X-Amz-Signature=abc",
			Key:       "tenants/acme/files/a.md",
			Method:    "PUT",
			ExpiresAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "grant", "acme", "a.md", "--method", "PUT", "--expires", "10m")

	if captured.TenantID != "acme" || captured.Path != "a.md" || captured.Method != "PUT" || captured.ExpiresInSeconds != 600 {
		t.Errorf("unexpected request: %+v", captured)
	}
	if !strings.Contains(output, "X-Amz-Signature=abc") || !strings.Contains(output, "2026-03-01T13:00:00Z") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestGrantCommand_Unavailable(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Failed to issue grant", Code: "503"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "grant", "acme", "a.md", "--method", "GET", "--expires", "1h")

	if !strings.Contains(output, "API error (503): Failed to issue grant") {
		t.Errorf("unexpected output: %s", output)
	}
}
