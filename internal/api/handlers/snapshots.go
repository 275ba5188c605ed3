package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/snapshot"
)

// CaptureSnapshot freezes the current positions as a new version.
// POST /api/simulations/{id}/snapshots
func (h *SimulationsHandler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	snap, err := s.History().Capture(s.Engine())
	if err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"version": snap.Version,
		"tick":    snap.Tick,
		"alpha":   snap.Alpha,
		"nodes":   len(snap.Positions),
	})
}

// ListSnapshots returns the versions still held for a simulation.
// GET /api/simulations/{id}/snapshots
func (h *SimulationsHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	versions := s.History().Versions()
	if versions == nil {
		versions = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       s.ID,
		"versions": versions,
		"count":    len(versions),
	})
}

// GetSnapshot returns one full snapshot by version.
// GET /api/simulations/{id}/snapshots/{version}
func (h *SimulationsHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	v, err := strconv.ParseUint(mux.Vars(r)["version"], 10, 64)
	if err != nil {
		apierr.WriteErrorWithContext(w, r,
			apierr.New(apierr.ErrValidationInvalidValue, "Invalid 'version' parameter: must be an integer", http.StatusBadRequest))
		return
	}

	snap, ok := s.History().Version(v)
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("snapshot"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetDiffSince returns the changes between a past snapshot and the latest
// one, so a client that missed frames can catch up without refetching
// every position.
// GET /api/simulations/{id}/diff?since=N
func (h *SimulationsHandler) GetDiffSince(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	hist := s.History()

	sinceStr := r.URL.Query().Get("since")
	if sinceStr == "" {
		apierr.WriteErrorWithContext(w, r,
			apierr.New(apierr.ErrValidationMissingField, "Missing 'since' parameter", http.StatusBadRequest))
		return
	}

	since, err := strconv.ParseUint(sinceStr, 10, 64)
	if err != nil {
		apierr.WriteErrorWithContext(w, r,
			apierr.New(apierr.ErrValidationInvalidValue, "Invalid 'since' parameter: must be a non-negative integer", http.StatusBadRequest))
		return
	}

	latest, ok := hist.Latest()
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("snapshot"))
		return
	}

	if since >= latest.Version {
		apierr.WriteErrorWithContext(w, r,
			apierr.New(apierr.ErrValidationInvalidValue, "'since' version must be less than the latest version", http.StatusBadRequest))
		return
	}

	old, ok := hist.Version(since)
	if !ok {
		apierr.WriteErrorWithContext(w, r,
			apierr.New(apierr.ErrValidationInvalidValue, "'since' version is too old and no longer available; please refetch the full positions", http.StatusBadRequest))
		return
	}

	epsilon := 0.0
	if epsStr := r.URL.Query().Get("epsilon"); epsStr != "" {
		epsilon, err = strconv.ParseFloat(epsStr, 64)
		if err != nil || epsilon < 0 {
			apierr.WriteErrorWithContext(w, r,
				apierr.New(apierr.ErrValidationInvalidValue, "Invalid 'epsilon' parameter: must be a non-negative number", http.StatusBadRequest))
			return
		}
	}

	writeJSON(w, http.StatusOK, snapshot.Compare(old, latest, epsilon))
}
