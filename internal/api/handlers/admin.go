package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/admin"
	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/session"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// AdminHandler serves the token-gated operator endpoints.
type AdminHandler struct {
	store    *store.Store
	sessions *session.Manager
	queue    *jobs.Manager
}

func NewAdminHandler(st *store.Store, sessions *session.Manager, queue *jobs.Manager) *AdminHandler {
	return &AdminHandler{store: st, sessions: sessions, queue: queue}
}

// ServiceState is the runtime on/off state of the pausable subsystems.
type ServiceState struct {
	UploadsEnabled bool `json:"uploads_enabled"`
	JobsEnabled    bool `json:"jobs_enabled"`
	StreamsEnabled bool `json:"streams_enabled"`
}

// GetServices returns current service flags.
// GET /api/admin/services
func (h *AdminHandler) GetServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		// Without a database every flag is pinned on.
		writeJSON(w, http.StatusOK, ServiceState{UploadsEnabled: true, JobsEnabled: true, StreamsEnabled: true})
		return
	}
	uploads, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyUploadsEnabled, true)
	jobsOn, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyJobsEnabled, true)
	streams, _ := admin.GetBool(ctx, h.store.DB(), admin.KeyStreamsEnabled, true)
	writeJSON(w, http.StatusOK, ServiceState{UploadsEnabled: uploads, JobsEnabled: jobsOn, StreamsEnabled: streams})
}

type updateServicesReq struct {
	UploadsEnabled *bool `json:"uploads_enabled"`
	JobsEnabled    *bool `json:"jobs_enabled"`
	StreamsEnabled *bool `json:"streams_enabled"`
}

// UpdateServices sets service flags (partial updates allowed).
// PUT /api/admin/services
func (h *AdminHandler) UpdateServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Service flags need a database, set DATABASE_URL"))
		return
	}

	var req updateServicesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}

	ip := clientIP(r)
	for key, v := range map[string]*bool{
		admin.KeyUploadsEnabled: req.UploadsEnabled,
		admin.KeyJobsEnabled:    req.JobsEnabled,
		admin.KeyStreamsEnabled: req.StreamsEnabled,
	} {
		if v == nil {
			continue
		}
		if err := admin.Set(ctx, h.store.DB(), key, map[bool]string{true: "true", false: "false"}[*v]); err != nil {
			logger.ErrorContext(ctx, "Failed to set service flag", "key", key, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to update service flags"))
			return
		}
		details, _ := json.Marshal(map[string]bool{"enabled": *v})
		_ = admin.LogAction(ctx, h.store.DB(), "update_service_flag", "setting", key, details, ip)
	}
	h.GetServices(w, r)
}

// ListAuditLog returns the audit trail, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *AdminHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Audit log needs a database, set DATABASE_URL"))
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	entries, err := admin.ListAudit(ctx, h.store.DB(), limit, offset)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list audit log", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to list audit log"))
		return
	}
	if entries == nil {
		entries = []admin.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// SweepJobs drops finished jobs older than the given age.
// POST /api/admin/jobs/sweep  {"older_than_minutes": 60}
func (h *AdminHandler) SweepJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanMinutes int `json:"older_than_minutes"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}
	if req.OlderThanMinutes <= 0 {
		req.OlderThanMinutes = 60
	}

	removed := h.queue.Forget(time.Duration(req.OlderThanMinutes) * time.Minute)
	logger.Info("Swept finished jobs", "removed", removed, "older_than_minutes", req.OlderThanMinutes)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ReapSessions releases simulations idle longer than the given age.
// POST /api/admin/sessions/reap  {"idle_minutes": 30}
func (h *AdminHandler) ReapSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdleMinutes int `json:"idle_minutes"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}
	maxIdle := time.Duration(req.IdleMinutes) * time.Minute
	if maxIdle <= 0 {
		maxIdle = config.Load().SimIdleTimeout
	}

	reaped := h.sessions.ReapIdle(maxIdle)
	logger.Info("Reaped idle simulations", "reaped", reaped, "max_idle", maxIdle)
	writeJSON(w, http.StatusOK, map[string]int{"reaped": reaped})
}
