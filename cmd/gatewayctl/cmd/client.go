package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"gatewayplane/pkg/api"
)

// Client handles calls to the orchestrator's internal API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client. The timeout covers a full gateway startup.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 4 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (%d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body, out interface{}, okStatus ...int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if !slices.Contains(okStatus, resp.StatusCode) {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func tenantPath(tenantID, suffix string) string {
	return "/internal/tenants/" + url.PathEscape(tenantID) + suffix
}

// Ensure sends POST /internal/tenants/{id}/ensure.
func (c *Client) Ensure(tenantID string, env map[string]string) (*api.GatewayResponse, error) {
	var result api.GatewayResponse
	if err := c.do(http.MethodPost, tenantPath(tenantID, "/ensure"), api.EnsureRequest{Env: env}, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Restart sends POST /internal/tenants/{id}/restart. A failed restart is
// reported in the response, not as an error.
func (c *Client) Restart(tenantID string) (*api.RestartResponse, error) {
	var result api.RestartResponse
	if err := c.do(http.MethodPost, tenantPath(tenantID, "/restart"), nil, &result, http.StatusOK, http.StatusBadGateway); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health sends GET /internal/tenants/{id}/health.
func (c *Client) Health(tenantID string) (*api.HealthResponse, error) {
	var result api.HealthResponse
	if err := c.do(http.MethodGet, tenantPath(tenantID, "/health"), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResetHealth sends POST /internal/tenants/{id}/health/reset.
func (c *Client) ResetHealth(tenantID string) error {
	return c.do(http.MethodPost, tenantPath(tenantID, "/health/reset"), nil, nil, http.StatusNoContent)
}

// Sync sends POST /internal/tenants/{id}/sync.
func (c *Client) Sync(tenantID string, req api.SyncRequest) (*api.SyncResponse, error) {
	var result api.SyncResponse
	if err := c.do(http.MethodPost, tenantPath(tenantID, "/sync"), req, &result, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncStats sends GET /internal/sync/stats.
func (c *Client) SyncStats() (*api.SyncStatsResponse, error) {
	var result api.SyncStatsResponse
	if err := c.do(http.MethodGet, "/internal/sync/stats", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Grant sends POST /internal/grants.
func (c *Client) Grant(req api.GrantRequest) (*api.GrantResponse, error) {
	var result api.GrantResponse
	if err := c.do(http.MethodPost, "/internal/grants", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}
