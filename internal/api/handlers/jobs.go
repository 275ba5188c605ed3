package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/admin"
	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// JobsHandler serves the background layout queue endpoints.
type JobsHandler struct {
	queue *jobs.Manager
	store *store.Store
}

// NewJobsHandler creates a jobs handler. The store is only consulted for
// the runtime enable flag and may be nil.
func NewJobsHandler(queue *jobs.Manager, st *store.Store) *JobsHandler {
	return &JobsHandler{queue: queue, store: st}
}

// EnqueueJob queues a layout computation.
// POST /api/jobs
func (h *JobsHandler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store != nil {
		if enabled, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyJobsEnabled, true); !enabled {
			apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Layout jobs are paused"))
			return
		}
	}

	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	if req.GraphName == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("graph_name"))
		return
	}
	if req.MaxTicks < 0 {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("max_ticks", "must be non-negative"))
		return
	}
	if req.EnqueuedBy == "" {
		req.EnqueuedBy = clientIP(r)
	}

	job, err := h.queue.Enqueue(req)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			apierr.WriteErrorWithContext(w, r, apierr.JobQueueFull())
			return
		}
		logger.ErrorContext(ctx, "Failed to enqueue job", "graph", req.GraphName, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to enqueue job"))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ListJobs returns the tracked jobs, newest first.
// GET /api/jobs?status=queued|running|completed|failed|canceled
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.Status(r.URL.Query().Get("status"))
	switch filter {
	case "", jobs.StatusQueued, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCanceled:
	default:
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("status", "unknown status "+string(filter)))
		return
	}

	list := []jobs.Job{}
	for _, job := range h.queue.List() {
		if filter == "" || job.Status == filter {
			list = append(list, job)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"count": len(list),
		"stats": h.queue.Stats(),
	})
}

// GetJob returns one job by id.
// GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.queue.Get(id)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.JobNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob cancels a queued job. Jobs already running run to completion.
// DELETE /api/jobs/{id}
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.queue.Cancel(id); err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			apierr.WriteErrorWithContext(w, r, apierr.JobNotFound(id))
		case errors.Is(err, jobs.ErrNotCancelable):
			apierr.WriteErrorWithContext(w, r, apierr.JobNotCancelable(id))
		default:
			logger.ErrorContext(r.Context(), "Failed to cancel job", "job", id, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to cancel job"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled", "id": id})
}
