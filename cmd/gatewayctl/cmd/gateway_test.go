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

func TestEnsureCommand_Success(t *testing.T) {
	resetViper()

	var captured api.EnsureRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/internal/tenants/acme/ensure" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&captured)

		json.NewEncoder(w).Encode(api.GatewayResponse{
			TenantID:  "acme",
			Sandbox:   "tenant-acme",
			PID:       "42",
			StartedAt: time.Now().Add(-time.Minute),
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "ensure", "acme", "--env", "LOG_LEVEL=debug")

	if !strings.Contains(output, "Gateway running") || !strings.Contains(output, "tenant-acme") {
		t.Errorf("expected gateway details, got: %s", output)
	}
	if captured.Env["LOG_LEVEL"] != "debug" {
		t.Errorf("expected env to be sent, got %v", captured.Env)
	}
}

func TestEnsureCommand_StartupFailure(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(api.ErrorResponse{
			Error:   "Failed to start gateway",
			Code:    "502",
			Details: "config file missing",
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "ensure", "acme")

	if !strings.Contains(output, "API error (502)") || !strings.Contains(output, "config file missing") {
		t.Errorf("expected startup error details, got: %s", output)
	}
}

func TestRestartCommand(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		resp           api.RestartResponse
		expectedOutput []string
	}{
		{
			name:   "Success",
			status: http.StatusOK,
			resp: api.RestartResponse{
				Success: true,
				Message: "gateway restarted",
				PID:     "43",
				Sync:    api.FlushResponse{Attempted: true, Success: true, Mode: "grant", DurationMs: 1500},
			},
			expectedOutput: []string{"gateway restarted (pid 43)", "1.5s via grant"},
		},
		{
			name:   "Sync Failed",
			status: http.StatusOK,
			resp: api.RestartResponse{
				Success: true,
				Message: "gateway restarted",
				Sync:    api.FlushResponse{Attempted: true, Error: "upload timed out"},
			},
			expectedOutput: []string{"failed: upload timed out"},
		},
		{
			name:           "Restart Failed",
			status:         http.StatusBadGateway,
			resp:           api.RestartResponse{Message: "gateway failed to start"},
			expectedOutput: []string{"✗", "gateway failed to start", "skipped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/internal/tenants/acme/restart" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.resp)
			}))
			defer server.Close()

			viper.Set("url", server.URL)
			viper.Set("token", "test-token")

			output := execute(t, "restart", "acme")

			for _, want := range tt.expectedOutput {
				if !strings.Contains(output, want) {
					t.Errorf("expected %q in output, got: %s", want, output)
				}
			}
		})
	}
}

func TestResetCommand(t *testing.T) {
	resetViper()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodPost || r.URL.Path != "/internal/tenants/acme/health/reset" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output := execute(t, "reset", "acme")

	if !called {
		t.Error("expected the reset endpoint to be called")
	}
	if !strings.Contains(output, "Health state reset for acme") {
		t.Errorf("unexpected output: %s", output)
	}
}
