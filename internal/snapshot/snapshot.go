// Package snapshot keeps versioned copies of simulation positions and
// computes the diffs between them. Diffs feed the websocket stream, which
// sends a full frame once and deltas afterwards, and give the scheduler a
// cheap way to detect a settled layout.
package snapshot

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// DefaultEpsilon is the movement threshold below which a node counts as
// unchanged. Sub-threshold motion exists on every tick while alpha decays,
// so diffing with zero epsilon would mark the whole graph moved forever.
const DefaultEpsilon = 0.0001

// Snapshot is one frozen view of a simulation's positions.
type Snapshot struct {
	Version   uint64         `json:"version"`
	Tick      uint64         `json:"tick"`
	Alpha     float64        `json:"alpha"`
	TakenAt   time.Time      `json:"taken_at"`
	Positions []sim.Position `json:"positions"`

	index map[string]int
}

// New freezes a position set. The version stays zero until a History
// assigns one.
func New(positions []sim.Position, tick uint64, alpha float64) *Snapshot {
	s := &Snapshot{
		Tick:      tick,
		Alpha:     alpha,
		TakenAt:   time.Now().UTC(),
		Positions: append([]sim.Position(nil), positions...),
		index:     make(map[string]int, len(positions)),
	}
	for i, p := range s.Positions {
		s.index[p.ID] = i
	}
	return s
}

// At returns the position of one node by id.
func (s *Snapshot) At(id string) (sim.Position, bool) {
	if s.index == nil {
		s.reindex()
	}
	i, ok := s.index[id]
	if !ok {
		return sim.Position{}, false
	}
	return s.Positions[i], true
}

// reindex rebuilds the id lookup, needed after JSON decoding.
func (s *Snapshot) reindex() {
	s.index = make(map[string]int, len(s.Positions))
	for i, p := range s.Positions {
		s.index[p.ID] = i
	}
}

// Move records one node that traveled further than epsilon between two
// snapshots.
type Move struct {
	ID    string  `json:"id"`
	FromX float64 `json:"from_x"`
	FromY float64 `json:"from_y"`
	ToX   float64 `json:"to_x"`
	ToY   float64 `json:"to_y"`
}

// Diff is the change set between two snapshots.
type Diff struct {
	FromVersion uint64         `json:"from_version"`
	ToVersion   uint64         `json:"to_version"`
	Added       []sim.Position `json:"added,omitempty"`
	Removed     []string       `json:"removed,omitempty"`
	Moved       []Move         `json:"moved,omitempty"`
	Unchanged   int            `json:"unchanged"`
}

// Empty reports whether the diff carries no visible change.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Moved) == 0
}

// Compare diffs cur against old. A nil old means everything in cur is an
// addition. Epsilon at or below zero picks DefaultEpsilon.
func Compare(old, cur *Snapshot, epsilon float64) Diff {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	d := Diff{ToVersion: cur.Version}
	if old == nil {
		d.Added = append([]sim.Position(nil), cur.Positions...)
		return d
	}
	d.FromVersion = old.Version

	for _, p := range cur.Positions {
		prev, ok := old.At(p.ID)
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case math.Abs(p.X-prev.X) > epsilon || math.Abs(p.Y-prev.Y) > epsilon:
			d.Moved = append(d.Moved, Move{
				ID:    p.ID,
				FromX: prev.X,
				FromY: prev.Y,
				ToX:   p.X,
				ToY:   p.Y,
			})
		default:
			d.Unchanged++
		}
	}
	for _, p := range old.Positions {
		if _, ok := cur.At(p.ID); !ok {
			d.Removed = append(d.Removed, p.ID)
		}
	}
	return d
}

// History holds the most recent snapshots of one simulation, oldest first,
// and hands out monotonically increasing versions.
type History struct {
	mu          sync.Mutex
	retention   int
	nextVersion uint64
	snaps       []*Snapshot
	log         *slog.Logger
}

// NewHistory returns a history keeping at most retention snapshots.
func NewHistory(retention int) *History {
	if retention < 1 {
		retention = 1
	}
	return &History{
		retention: retention,
		log:       logger.WithComponent("snapshot"),
	}
}

// Capture freezes the engine's current positions as the next version.
func (h *History) Capture(e *sim.Engine) (*Snapshot, error) {
	positions, err := e.Positions()
	if err != nil {
		return nil, fmt.Errorf("capture positions: %w", err)
	}
	snap := New(positions, e.Ticks(), e.Alpha())

	h.mu.Lock()
	h.nextVersion++
	snap.Version = h.nextVersion
	h.snaps = append(h.snaps, snap)
	if over := len(h.snaps) - h.retention; over > 0 {
		copy(h.snaps, h.snaps[over:])
		for i := h.retention; i < len(h.snaps); i++ {
			h.snaps[i] = nil
		}
		h.snaps = h.snaps[:h.retention]
	}
	h.mu.Unlock()

	h.log.Debug("snapshot captured",
		"version", snap.Version,
		"tick", snap.Tick,
		"nodes", len(snap.Positions))
	return snap, nil
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (*Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.snaps) == 0 {
		return nil, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// Version returns the snapshot with the given version, if still retained.
func (h *History) Version(v uint64) (*Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.snaps {
		if s.Version == v {
			return s, true
		}
	}
	return nil, false
}

// Versions lists the retained versions, oldest first.
func (h *History) Versions() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.snaps))
	for i, s := range h.snaps {
		out[i] = s.Version
	}
	return out
}

// Len reports how many snapshots are retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snaps)
}

// DiffLatest compares the two most recent snapshots. With fewer than two
// retained it returns ok=false.
func (h *History) DiffLatest(epsilon float64) (Diff, bool) {
	h.mu.Lock()
	n := len(h.snaps)
	if n < 2 {
		h.mu.Unlock()
		return Diff{}, false
	}
	old, cur := h.snaps[n-2], h.snaps[n-1]
	h.mu.Unlock()
	return Compare(old, cur, epsilon), true
}

// TrimOlderThan drops snapshots taken before the cutoff age, always keeping
// the most recent one, and reports how many were removed.
func (h *History) TrimOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	h.mu.Lock()
	defer h.mu.Unlock()
	keepFrom := 0
	for i, s := range h.snaps {
		if i == len(h.snaps)-1 {
			break
		}
		if s.TakenAt.Before(cutoff) {
			keepFrom = i + 1
		}
	}
	if keepFrom == 0 {
		return 0
	}
	dropped := keepFrom
	copy(h.snaps, h.snaps[keepFrom:])
	for i := len(h.snaps) - keepFrom; i < len(h.snaps); i++ {
		h.snaps[i] = nil
	}
	h.snaps = h.snaps[:len(h.snaps)-keepFrom]
	return dropped
}
