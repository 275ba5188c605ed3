package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/session"
	"github.com/exocortex-initiative/forcefield/internal/sim"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// SimulationsHandler serves the live simulation endpoints.
type SimulationsHandler struct {
	sessions *session.Manager
	store    *store.Store
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewSimulationsHandler creates a simulation handler. A nil store limits
// creation to inline graph documents.
func NewSimulationsHandler(sessions *session.Manager, st *store.Store, c cache.Cache) *SimulationsHandler {
	return &SimulationsHandler{
		sessions: sessions,
		store:    st,
		cache:    c,
		cacheTTL: config.Load().CacheTTL,
	}
}

// lookup resolves the path id, writing the error response on failure.
func (h *SimulationsHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := mux.Vars(r)["id"]
	s, err := h.sessions.Get(id)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SimNotFound(id))
		return nil, false
	}
	return s, true
}

type createSimulationRequest struct {
	// GraphName loads a stored graph; Graph supplies one inline. Exactly
	// one of the two must be set.
	GraphName string         `json:"graph_name,omitempty"`
	Graph     *graphio.Graph `json:"graph,omitempty"`

	Name      string `json:"name,omitempty"`
	Preset    string `json:"preset,omitempty"`
	Placement string `json:"placement,omitempty"`
	Seed      int64  `json:"seed,omitempty"`

	// Start launches the run loop immediately after creation.
	Start bool `json:"start,omitempty"`
}

// CreateSimulation builds a new simulation session.
// POST /api/simulations
func (h *SimulationsHandler) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}

	g := req.Graph
	switch {
	case g != nil && req.GraphName != "":
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("graph", "graph and graph_name are mutually exclusive"))
		return
	case g == nil && req.GraphName == "":
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("graph"))
		return
	case g == nil:
		if h.store == nil {
			apierr.WriteErrorWithContext(w, r,
				apierr.SystemUnavailable("Graph persistence is disabled, send the graph inline"))
			return
		}
		loaded, err := h.store.LoadGraph(ctx, req.GraphName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.GraphNotFound(req.GraphName))
				return
			}
			logger.ErrorContext(ctx, "Failed to load graph", "graph", req.GraphName, "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to load graph"))
			return
		}
		g = loaded
	}

	s, err := h.sessions.Create(session.CreateParams{
		Graph:     g,
		Name:      req.Name,
		Preset:    req.Preset,
		Placement: req.Placement,
		Seed:      req.Seed,
	})
	if err != nil {
		h.writeCreateError(w, r, err, g)
		return
	}

	if req.Start {
		s.Engine().Start()
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

func (h *SimulationsHandler) writeCreateError(w http.ResponseWriter, r *http.Request, err error, g *graphio.Graph) {
	switch {
	case errors.Is(err, session.ErrTooLarge):
		apierr.WriteErrorWithContext(w, r, apierr.GraphTooLarge(len(g.Nodes), h.sessions.MaxNodes()))
	case errors.Is(err, session.ErrLimitReached):
		apierr.WriteErrorWithContext(w, r, apierr.SimLimitReached(h.sessions.MaxSessions()))
	case errors.Is(err, session.ErrUnknownPreset):
		apierr.WriteErrorWithContext(w, r, apierr.PresetNotFound(presetName(err)))
	case errors.Is(err, sim.ErrDuplicateNode):
		apierr.WriteErrorWithContext(w, r, apierr.SimDuplicateNode(err.Error()))
	default:
		logger.ErrorContext(r.Context(), "Failed to create simulation", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to create simulation"))
	}
}

// presetName digs the quoted name out of an ErrUnknownPreset.
func presetName(err error) string {
	msg := err.Error()
	if i := len(msg) - 1; i > 0 && msg[i] == '"' {
		for j := i - 1; j >= 0; j-- {
			if msg[j] == '"' {
				return msg[j+1 : i]
			}
		}
	}
	return msg
}

// ListSimulations returns all live sessions.
// GET /api/simulations
func (h *SimulationsHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	infos := []session.Info{}
	for _, s := range h.sessions.List() {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": infos,
		"count":       len(infos),
		"limit":       h.sessions.MaxSessions(),
	})
}

// GetSimulation returns one session's state.
// GET /api/simulations/{id}
func (h *SimulationsHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// ReleaseSimulation tears a session down.
// DELETE /api/simulations/{id}
func (h *SimulationsHandler) ReleaseSimulation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.sessions.Release(id); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SimNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "id": id})
}

// StartSimulation launches the run loop.
// POST /api/simulations/{id}/start
func (h *SimulationsHandler) StartSimulation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Engine().Start()
	writeJSON(w, http.StatusOK, s.Info())
}

// StopSimulation halts the run loop without discarding state.
// POST /api/simulations/{id}/stop
func (h *SimulationsHandler) StopSimulation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Engine().Stop()
	writeJSON(w, http.StatusOK, s.Info())
}

// RestartSimulation reheats alpha to 1 and starts the run loop, the usual
// response to the user dragging the graph around.
// POST /api/simulations/{id}/restart
func (h *SimulationsHandler) RestartSimulation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	s.Engine().Restart()
	writeJSON(w, http.StatusOK, s.Info())
}

// TickSimulation advances the simulation synchronously.
// POST /api/simulations/{id}/tick  {"ticks": 10}
func (h *SimulationsHandler) TickSimulation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Ticks int `json:"ticks"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}
	if req.Ticks < 0 {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("ticks", "must be non-negative"))
		return
	}
	if req.Ticks == 0 {
		req.Ticks = 1
	}

	e := s.Engine()
	if err := e.Tick(req.Ticks); err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    s.ID,
		"ticks": e.Ticks(),
		"alpha": e.Alpha(),
	})
}

func (h *SimulationsHandler) writeEngineError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, sim.ErrReleased):
		apierr.WriteErrorWithContext(w, r, apierr.SimReleased(id))
	case errors.Is(err, sim.ErrNoGPU), errors.Is(err, sim.ErrDeviceLost):
		apierr.WriteErrorWithContext(w, r, apierr.SimGPUUnavailable(err.Error()))
	default:
		logger.ErrorContext(r.Context(), "Simulation backend error", "simulation", id, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SimBackendFailed(err.Error()))
	}
}

// GetPositions returns the current node positions.
// GET /api/simulations/{id}/positions
func (h *SimulationsHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	e := s.Engine()

	// Positions only change when the tick count does, so the tick count
	// keys the cache entry.
	cacheKey := fmt.Sprintf("positions:%s:%d", s.ID, e.Ticks())
	if cached, found := h.cache.Get(cacheKey); found {
		metrics.APICacheHits.WithLabelValues("positions").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		_, _ = w.Write(cached)
		return
	}
	metrics.APICacheMisses.WithLabelValues("positions").Inc()

	positions, err := e.Positions()
	if err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}

	export := graphio.PositionExport{
		Name:      e.Name(),
		Backend:   e.BackendName(),
		Tick:      e.Ticks(),
		Alpha:     e.Alpha(),
		Positions: positions,
	}
	data, err := json.Marshal(export)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Failed to serialize positions"))
		return
	}
	h.cache.Set(cacheKey, data, h.cacheTTL)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	_, _ = w.Write(data)
}

// SavePositions persists the current positions as a new layout version.
// POST /api/simulations/{id}/positions/save
func (h *SimulationsHandler) SavePositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.store == nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Graph persistence is disabled, set DATABASE_URL"))
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if s.GraphName == "" {
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("simulation", "inline graphs have no stored graph to save into"))
		return
	}

	e := s.Engine()
	positions, err := e.Positions()
	if err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}

	version, err := h.store.SaveLayout(ctx, &store.LayoutRecord{
		GraphName: s.GraphName,
		Tick:      e.Ticks(),
		Alpha:     e.Alpha(),
		Preset:    s.Preset,
		Backend:   e.BackendName(),
		Positions: positions,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save layout", "graph", s.GraphName, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase("Failed to save layout"))
		return
	}
	h.cache.Delete(layoutCacheKey(s.GraphName))

	writeJSON(w, http.StatusCreated, map[string]any{
		"graph":   s.GraphName,
		"version": version,
		"tick":    e.Ticks(),
	})
}

// PinNode fixes a node at the given coordinates.
// POST /api/simulations/{id}/nodes/{node}/pin  {"x": 10, "y": -4}
func (h *SimulationsHandler) PinNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	nodeID := mux.Vars(r)["node"]

	var req struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}
	if req.X == nil || req.Y == nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("x, y"))
		return
	}

	if err := s.Engine().PinNode(nodeID, *req.X, *req.Y); err != nil {
		if errors.Is(err, sim.ErrUnknownNode) {
			apierr.WriteErrorWithContext(w, r, apierr.SimUnknownNode(nodeID))
			return
		}
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     nodeID,
		"x":      *req.X,
		"y":      *req.Y,
		"pinned": true,
	})
}

// UnpinNode releases a pinned node back to the forces.
// DELETE /api/simulations/{id}/nodes/{node}/pin
func (h *SimulationsHandler) UnpinNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	nodeID := mux.Vars(r)["node"]

	if err := s.Engine().UnpinNode(nodeID); err != nil {
		if errors.Is(err, sim.ErrUnknownNode) {
			apierr.WriteErrorWithContext(w, r, apierr.SimUnknownNode(nodeID))
			return
		}
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     nodeID,
		"pinned": false,
	})
}

// simulationParams is the adjustable cooling schedule, pointer fields for
// partial updates.
type simulationParams struct {
	Alpha         *float64 `json:"alpha,omitempty"`
	AlphaMin      *float64 `json:"alpha_min,omitempty"`
	AlphaDecay    *float64 `json:"alpha_decay,omitempty"`
	AlphaTarget   *float64 `json:"alpha_target,omitempty"`
	VelocityDecay *float64 `json:"velocity_decay,omitempty"`
}

// UpdateParams adjusts the cooling schedule.
// PATCH /api/simulations/{id}/params
func (h *SimulationsHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req simulationParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}

	for field, v := range map[string]*float64{
		"alpha":          req.Alpha,
		"alpha_min":      req.AlphaMin,
		"alpha_decay":    req.AlphaDecay,
		"alpha_target":   req.AlphaTarget,
		"velocity_decay": req.VelocityDecay,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue(field, "must be within [0, 1]"))
			return
		}
	}

	e := s.Engine()
	if req.Alpha != nil {
		e.SetAlpha(*req.Alpha)
	}
	if req.AlphaMin != nil {
		e.SetAlphaMin(*req.AlphaMin)
	}
	if req.AlphaDecay != nil {
		e.SetAlphaDecay(*req.AlphaDecay)
	}
	if req.AlphaTarget != nil {
		e.SetAlphaTarget(*req.AlphaTarget)
	}
	if req.VelocityDecay != nil {
		e.SetVelocityDecay(*req.VelocityDecay)
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"alpha":          e.Alpha(),
		"alpha_min":      e.AlphaMin(),
		"alpha_decay":    e.AlphaDecay(),
		"alpha_target":   e.AlphaTarget(),
		"velocity_decay": e.VelocityDecay(),
	})
}
