package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"gatewayplane/internal/syncqueue"
	"gatewayplane/pkg/api"
)

// EnqueueSync handles POST /internal/tenants/{id}/sync.
func (h *Handlers) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	priority, err := syncqueue.ParsePriority(req.Priority)
	if err != nil {
		h.httpError(w, "Invalid priority", http.StatusBadRequest)
		return
	}
	if req.DelayMs < 0 {
		h.httpError(w, "delay_ms must not be negative", http.StatusBadRequest)
		return
	}

	jobs, err := h.engine.EnqueueSync(r.PathValue("id"), req.Paths, priority, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		h.engineError(w, r, "Failed to enqueue sync", err)
		return
	}

	resp := api.SyncResponse{Jobs: make([]api.SyncJob, 0, len(jobs))}
	for _, j := range jobs {
		resp.BatchID = j.BatchID
		resp.Jobs = append(resp.Jobs, api.SyncJob{
			ID:        j.ID,
			Path:      j.Path,
			Priority:  j.Priority.String(),
			ExecuteAt: j.ExecuteAt,
		})
	}
	h.respondJson(w, http.StatusAccepted, resp)
}

// SyncStats handles GET /internal/sync/stats.
func (h *Handlers) SyncStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.SyncStats()

	resp := api.SyncStatsResponse{
		Pending:         stats.Pending,
		Processing:      stats.Processing,
		Completed:       stats.Completed,
		Failed:          stats.Failed,
		Retried:         stats.Retried,
		Superseded:      stats.Superseded,
		ByPriority:      stats.ByPriority,
		LagMs:           make(map[string]int64, len(stats.LagByPriority)),
		OldestPendingMs: stats.OldestPendingAge.Milliseconds(),
		Recent:          make([]api.SyncJobResult, 0, len(stats.Recent)),
	}
	for p, d := range stats.LagByPriority {
		resp.LagMs[p] = d.Milliseconds()
	}
	for _, res := range stats.Recent {
		resp.Recent = append(resp.Recent, api.SyncJobResult{
			JobID:        res.JobID,
			TenantID:     res.TenantID,
			Path:         res.Path,
			Priority:     res.Priority.String(),
			Success:      res.Success,
			Error:        res.Error,
			Retries:      res.Retries,
			DurationMs:   res.Duration.Milliseconds(),
			CompletedAt:  res.CompletedAt,
			SupersededBy: res.SupersededBy,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
