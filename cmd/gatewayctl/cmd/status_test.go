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

func TestStatusCommand_Healthy(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/internal/tenants/acme/health" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.HealthResponse{
			TenantID:      "acme",
			Healthy:       true,
			Checks:        api.HealthChecks{ProcessRunning: true, PortReachable: true, GatewayResponds: true},
			UptimeSeconds: 3725,
			CheckedAt:     time.Now(),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "status", "acme")

	if !strings.Contains(output, "HEALTHY") {
		t.Errorf("expected HEALTHY in output, got: %s", output)
	}
	if !strings.Contains(output, "1h 2m") {
		t.Errorf("expected uptime in output, got: %s", output)
	}
	if strings.Contains(output, "Failures") {
		t.Errorf("did not expect failures line, got: %s", output)
	}
}

func TestStatusCommand_Unhealthy(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.HealthResponse{
			TenantID:            "acme",
			Checks:              api.HealthChecks{ProcessRunning: true},
			ConsecutiveFailures: 2,
			Error:               "port 18789 not reachable",
			CheckedAt:           time.Now(),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "status", "acme")

	for _, want := range []string{"UNHEALTHY", "port 18789 not reachable", "Failures"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestStatusCommand_Unauthorized(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Invalid authorization token", Code: "401"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "wrong")

	output := execute(t, "status", "acme")

	if !strings.Contains(output, "API error (401): Invalid authorization token") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{125 * time.Second, "2m 5s"},
		{3725 * time.Second, "1h 2m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
