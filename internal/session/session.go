// Package session tracks live simulations by id. The manager enforces the
// configured size and concurrency limits, picks the backend for new
// simulations, and records access times so the scheduler can reap
// simulations nobody is watching.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/gpu"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/placement"
	"github.com/exocortex-initiative/forcefield/internal/preset"
	"github.com/exocortex-initiative/forcefield/internal/sim"
	"github.com/exocortex-initiative/forcefield/internal/snapshot"
)

var (
	// ErrNotFound is returned for ids the manager does not know.
	ErrNotFound = errors.New("session: not found")

	// ErrLimitReached is returned when creating a session would exceed the
	// configured concurrency cap.
	ErrLimitReached = errors.New("session: simulation limit reached")

	// ErrTooLarge is returned for graphs above the configured node cap.
	ErrTooLarge = errors.New("session: graph exceeds node limit")

	// ErrUnknownPreset is returned when a named preset is neither built in
	// nor present in the preset directory.
	ErrUnknownPreset = errors.New("session: unknown preset")
)

// Session is one live simulation plus the bookkeeping around it.
type Session struct {
	ID        string
	GraphName string
	Preset    string
	CreatedAt time.Time

	engine  *sim.Engine
	history *snapshot.History

	mu         sync.Mutex
	lastAccess time.Time
}

// Engine returns the simulation engine backing this session.
func (s *Session) Engine() *sim.Engine {
	return s.engine
}

// History returns the snapshot ring for this session.
func (s *Session) History() *snapshot.History {
	return s.history
}

// Touch records client activity, deferring the idle reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

// LastAccess returns the time of the most recent Touch.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// IdleFor returns how long the session has gone without a Touch.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastAccess())
}

// Info is the JSON shape for session listings.
type Info struct {
	ID         string    `json:"id"`
	GraphName  string    `json:"graph_name,omitempty"`
	Preset     string    `json:"preset"`
	Backend    string    `json:"backend"`
	Nodes      int       `json:"nodes"`
	Links      int       `json:"links"`
	Running    bool      `json:"running"`
	Alpha      float64   `json:"alpha"`
	Ticks      uint64    `json:"ticks"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Info captures the session's current state for API responses.
func (s *Session) Info() Info {
	e := s.engine
	return Info{
		ID:         s.ID,
		GraphName:  s.GraphName,
		Preset:     s.Preset,
		Backend:    e.BackendName(),
		Nodes:      e.NodeCount(),
		Links:      len(e.Edges()),
		Running:    e.Running(),
		Alpha:      e.Alpha(),
		Ticks:      e.Ticks(),
		CreatedAt:  s.CreatedAt,
		LastAccess: s.LastAccess(),
	}
}

// CreateParams describes a new simulation.
type CreateParams struct {
	// Graph supplies the nodes and links to lay out.
	Graph *graphio.Graph

	// Name labels the simulation in logs and metrics. Defaults to the
	// graph's name.
	Name string

	// Preset names the force configuration. Empty selects the configured
	// default.
	Preset string

	// Placement overrides the preset's initial-position strategy.
	Placement string

	// Seed overrides the preset's placement seed and the engine's jiggle
	// seed. Zero keeps the defaults.
	Seed int64
}

// Manager owns the live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxSessions int
	maxNodes    int
	gpuEnabled  bool
	gpuMinNodes int
	interval    time.Duration
	retention   int
	defPreset   string
	presetDir   string

	log *slog.Logger
}

// NewManager builds a manager from the process configuration.
func NewManager() *Manager {
	cfg := config.Load()
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: cfg.SimMaxConcurrent,
		maxNodes:    cfg.SimMaxNodes,
		gpuEnabled:  cfg.GPUEnabled,
		gpuMinNodes: cfg.GPUMinNodes,
		interval:    cfg.SimTickInterval,
		retention:   cfg.SnapshotRetention,
		defPreset:   cfg.DefaultPreset,
		presetDir:   cfg.PresetDir,
		log:         logger.WithComponent("session"),
	}
}

// MaxNodes returns the configured per-graph node cap.
func (m *Manager) MaxNodes() int {
	return m.maxNodes
}

// MaxSessions returns the configured concurrency cap.
func (m *Manager) MaxSessions() int {
	return m.maxSessions
}

// Create builds a simulation for the graph, applies the preset and
// placement, selects a backend, and registers the session. The engine is
// returned stopped; callers start it explicitly.
func (m *Manager) Create(params CreateParams) (*Session, error) {
	g := params.Graph
	if g == nil {
		return nil, fmt.Errorf("session: nil graph")
	}
	if len(g.Nodes) > m.maxNodes {
		return nil, fmt.Errorf("%w: %d nodes, limit %d", ErrTooLarge, len(g.Nodes), m.maxNodes)
	}
	if m.Count() >= m.maxSessions {
		return nil, ErrLimitReached
	}

	name := params.Preset
	if name == "" {
		name = m.defPreset
	}
	p, err := m.resolvePreset(name)
	if err != nil {
		return nil, err
	}

	display := params.Name
	if display == "" {
		display = g.Name
	}
	e := sim.New(display)
	e.SetInterval(m.interval)
	if err := p.Apply(e); err != nil {
		e.Release()
		return nil, fmt.Errorf("failed to apply preset %q: %w", name, err)
	}

	strategy := params.Placement
	if strategy == "" {
		strategy = p.Placement.Strategy
	}
	seed := params.Seed
	if seed == 0 {
		seed = p.Placement.Seed
	}
	if strategy != "" {
		e.SetPlacement(placement.ByName(strategy, seed))
	}
	if seed != 0 {
		e.SetSeed(uint64(seed))
	}

	if err := e.SetNodes(g.Nodes); err != nil {
		e.Release()
		return nil, err
	}
	if err := e.SetEdges(g.Edges); err != nil {
		e.Release()
		return nil, err
	}

	if m.gpuEnabled && len(g.Nodes) >= m.gpuMinNodes {
		if err := e.SetBackend(gpu.New()); err != nil {
			m.log.Warn("GPU backend unavailable, staying on CPU",
				"simulation", display, "error", err)
		}
	}

	s := &Session{
		ID:         uuid.NewString(),
		GraphName:  g.Name,
		Preset:     name,
		CreatedAt:  time.Now(),
		engine:     e,
		history:    snapshot.NewHistory(m.retention),
		lastAccess: time.Now(),
	}

	m.mu.Lock()
	// The cap was checked before the engine was built; a racing create may
	// have filled the last slot since.
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		e.Release()
		return nil, ErrLimitReached
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session created",
		"id", s.ID,
		"graph", s.GraphName,
		"preset", s.Preset,
		"nodes", len(g.Nodes),
		"links", len(g.Edges),
		"backend", e.BackendName())
	return s, nil
}

// Get returns the session and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Release stops the session's engine, frees its resources and forgets it.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.engine.Release()
	m.log.Info("session released", "id", id, "graph", s.GraphName)
	return nil
}

// ReleaseAll tears down every session, for shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.engine.Release()
	}
}

// ReapIdle releases sessions idle longer than maxIdle and returns how many
// were reaped.
func (m *Manager) ReapIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	var stale []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IdleFor() > maxIdle {
			delete(m.sessions, id)
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.engine.Release()
		m.log.Info("idle session reaped",
			"id", s.ID, "graph", s.GraphName, "idle", s.IdleFor().Round(time.Second))
	}
	return len(stale)
}

// resolvePreset finds a preset by name. Files under the preset directory
// shadow builtins of the same name, matching what the presets API reports.
func (m *Manager) resolvePreset(name string) (preset.Preset, error) {
	p, ok, err := preset.Resolve(name, m.presetDir)
	if err != nil {
		return preset.Preset{}, fmt.Errorf("failed to load preset %q: %w", name, err)
	}
	if !ok {
		return preset.Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}
