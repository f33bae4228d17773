package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gatewayplane/pkg/api"
)

// IssueGrant handles POST /internal/grants.
func (h *Handlers) IssueGrant(w http.ResponseWriter, r *http.Request) {
	var req api.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExpiresInSeconds < 0 {
		h.httpError(w, "expires_in_seconds must not be negative", http.StatusBadRequest)
		return
	}

	grant, err := h.engine.IssueGrant(r.Context(), req.TenantID, req.Path, req.Method,
		time.Duration(req.ExpiresInSeconds)*time.Second)
	if err != nil {
		h.engineError(w, r, "Failed to issue grant", err)
		return
	}

	h.respondJson(w, http.StatusCreated, api.GrantResponse{
		URL:       grant.URL,
		Key:       grant.Key,
		Method:    grant.Method,
		ExpiresAt: grant.ExpiresAt,
	})
}
