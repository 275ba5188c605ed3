// Package sim drives the force simulation: the cooling schedule, the tick
// loop, pluggable execution backends and the event stream that renderers,
// streams and jobs consume.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/placement"
)

const (
	// DefaultAlphaMin is the convergence threshold: the run loop stops once
	// alpha drops below it.
	DefaultAlphaMin = 0.001

	// DefaultAlphaTarget keeps the simulation cooling toward rest.
	DefaultAlphaTarget = 0.0

	// DefaultVelocityDecay is the per-tick friction; velocities are scaled
	// by 1 minus this value after forces run.
	DefaultVelocityDecay = 0.4

	// DefaultTickInterval paces the scheduled run loop at roughly 60 ticks
	// per second.
	DefaultTickInterval = 16 * time.Millisecond

	// DefaultSeed matches the conventional starting state of the layout's
	// linear congruential generator.
	DefaultSeed = 1
)

// DefaultAlphaDecay cools from 1 to alphaMin in about 300 ticks.
var DefaultAlphaDecay = 1 - math.Pow(DefaultAlphaMin, 1.0/300)

// Engine owns the node set, the force registry and the cooling state, and
// delegates per-tick execution to a Backend. All methods are safe for
// concurrent use; ticks are serialized, so no two are ever in flight.
type Engine struct {
	mu sync.Mutex

	name string

	nodes []*layout.Node
	byID  map[string]*layout.Node
	edges []layout.Edge

	forces *layout.Registry
	random *layout.Rand
	seed   uint64
	placer placement.Strategy

	alpha         float64
	alphaMin      float64
	alphaDecay    float64
	alphaTarget   float64
	velocityDecay float64
	interval      time.Duration

	backend Backend
	cpu     *CPUBackend

	running  bool
	released bool
	stopCh   chan struct{}
	ticks    uint64

	listeners  map[int]func(Event)
	nextListen int

	log *slog.Logger
}

// New returns an engine with the standard cooling schedule, a phyllotaxis
// placement strategy and the CPU backend active. No forces are registered.
func New(name string) *Engine {
	if name == "" {
		name = "default"
	}
	e := &Engine{
		name:          name,
		forces:        layout.NewRegistry(),
		seed:          DefaultSeed,
		placer:        placement.NewPhyllotaxis(),
		alpha:         1,
		alphaMin:      DefaultAlphaMin,
		alphaDecay:    DefaultAlphaDecay,
		alphaTarget:   DefaultAlphaTarget,
		velocityDecay: DefaultVelocityDecay,
		interval:      DefaultTickInterval,
		listeners:     make(map[int]func(Event)),
		log:           logger.WithComponent("sim").With("simulation", name),
	}
	e.random = layout.NewRand(e.seed)
	e.cpu = NewCPUBackend(e.forces)
	e.backend = e.cpu
	return e
}

// Name returns the engine's label, used in logs and metrics.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetBackend swaps the execution backend, initializing it and replaying the
// current node and link state into it. On any failure the engine keeps its
// current backend and returns the error. Passing nil selects the built-in
// CPU backend.
func (e *Engine) SetBackend(b Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if b == nil {
		b = e.cpu
	}
	if b == e.backend {
		return nil
	}
	if err := b.Initialize(); err != nil {
		return fmt.Errorf("initialize %s backend: %w", b.Name(), err)
	}
	if err := b.SetNodes(e.nodes); err != nil {
		b.Release()
		return fmt.Errorf("seed %s backend: %w", b.Name(), err)
	}
	if err := b.SetEdges(e.resolvedLinksLocked()); err != nil {
		b.Release()
		return fmt.Errorf("seed %s backend: %w", b.Name(), err)
	}
	old := e.backend
	e.backend = b
	if old != e.cpu {
		old.Release()
	}
	e.log.Info("backend switched", "backend", b.Name())
	return nil
}

// BackendName returns the name of the active backend.
func (e *Engine) BackendName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Name()
}

// SetNodes replaces the node set. Specs without coordinates are seeded by
// the placement strategy, all forces are rebound, and the backend receives
// the fresh state. Duplicate ids are rejected.
func (e *Engine) SetNodes(specs []layout.NodeSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	nodes := layout.BuildNodes(specs)
	byID := make(map[string]*layout.Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID)
		}
		byID[n.ID] = n
	}
	seedPositions(nodes, e.placer)
	e.nodes = nodes
	e.byID = byID
	e.forces.InitializeAll(nodes, e.random)
	if err := e.backend.SetNodes(nodes); err != nil {
		return err
	}
	return e.backend.SetEdges(e.resolvedLinksLocked())
}

// NodeCount returns the size of the current node set.
func (e *Engine) NodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

// Nodes returns the engine-owned node structs. Callers must treat them as
// read-only and not hold the slice across set-operations.
func (e *Engine) Nodes() []*layout.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes
}

// SetEdges replaces the edge set and rebinds the link force, if one is
// registered. Edges naming unknown nodes are dropped during resolution.
func (e *Engine) SetEdges(edges []layout.Edge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.edges = append([]layout.Edge(nil), edges...)
	if lf := e.linkForceLocked(); lf != nil {
		lf.SetEdges(e.edges)
		lf.Initialize(e.nodes, e.random)
	}
	return e.backend.SetEdges(e.resolvedLinksLocked())
}

// Edges returns a copy of the caller-supplied edge set.
func (e *Engine) Edges() []layout.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]layout.Edge(nil), e.edges...)
}

// SetForce installs a force in the given slot, binding it to the current
// node set. A link force installed without edges inherits the engine's.
// Passing nil removes the slot's force.
func (e *Engine) SetForce(kind layout.Kind, f layout.Force) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if f == nil {
		e.forces.Remove(kind)
		if kind == layout.KindLink {
			return e.backend.SetEdges(nil)
		}
		return nil
	}
	if lf, ok := f.(*layout.LinkForce); ok && len(lf.Edges()) == 0 && len(e.edges) > 0 {
		lf.SetEdges(e.edges)
	}
	e.forces.Set(kind, f)
	f.Initialize(e.nodes, e.random)
	if kind == layout.KindLink {
		return e.backend.SetEdges(e.resolvedLinksLocked())
	}
	return nil
}

// Force returns the force in the given slot, or nil.
func (e *Engine) Force(kind layout.Kind) layout.Force {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, _ := e.forces.Get(kind)
	return f
}

// ForceKinds returns the active slots in run order.
func (e *Engine) ForceKinds() []layout.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forces.Kinds()
}

func (e *Engine) linkForceLocked() *layout.LinkForce {
	if f, ok := e.forces.Get(layout.KindLink); ok {
		if lf, ok := f.(*layout.LinkForce); ok {
			return lf
		}
	}
	return nil
}

func (e *Engine) resolvedLinksLocked() []*layout.Link {
	if lf := e.linkForceLocked(); lf != nil {
		return lf.Links()
	}
	return nil
}

// Tick advances the simulation n steps synchronously, regardless of the
// running state. Tick(0) is a valid no-op. Synchronous ticks emit no tick
// events, so tests can step deterministically; fallback events still fire.
func (e *Engine) Tick(n int) error {
	for i := 0; i < n; i++ {
		if res := e.step(); res.err != nil {
			return res.err
		}
	}
	return nil
}

type stepResult struct {
	alpha   float64
	tick    uint64
	backend string
	err     error
}

func (e *Engine) step() stepResult {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return stepResult{err: ErrReleased}
	}
	e.alpha += (e.alphaTarget - e.alpha) * e.alphaDecay
	params := TickParams{
		Alpha:         e.alpha,
		VelocityDecay: e.velocityDecay,
		Forces:        e.forceParamsLocked(),
	}
	start := time.Now()
	err := e.backend.Tick(params)
	var fallback *Event
	if err != nil && e.backend != e.cpu {
		ev := e.failoverLocked(err)
		fallback = &ev
		// Rerun the frame on the CPU so the tick is not lost.
		err = e.backend.Tick(params)
	}
	name := e.backend.Name()
	metrics.SimulationTicksTotal.WithLabelValues(name).Inc()
	metrics.SimulationTickDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.SimulationAlpha.WithLabelValues(e.name).Set(e.alpha)
	e.ticks++
	res := stepResult{alpha: e.alpha, tick: e.ticks, backend: name, err: err}
	e.mu.Unlock()
	if fallback != nil {
		e.emit(*fallback)
	}
	return res
}

// failoverLocked swaps to the CPU backend after a backend failure. The
// shared node structs hold the state of the last completed tick, so the
// run continues from there without losing computed work.
func (e *Engine) failoverLocked(cause error) Event {
	failed := e.backend
	e.backend = e.cpu
	_ = e.cpu.SetNodes(e.nodes)
	failed.Release()
	reason := fallbackReason(cause)
	metrics.BackendFallbacks.WithLabelValues(reason).Inc()
	e.log.Warn("backend failed, falling back to cpu",
		"from", failed.Name(), "reason", reason, "error", cause)
	return Event{
		Kind:    EventFallback,
		Alpha:   e.alpha,
		Tick:    e.ticks,
		Backend: e.cpu.Name(),
		Reason:  cause.Error(),
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrNoGPU):
		return "no_gpu"
	case errors.Is(err, ErrDeviceLost):
		return "device_lost"
	default:
		return "tick_error"
	}
}

func (e *Engine) forceParamsLocked() ForceParams {
	var p ForceParams
	e.forces.Each(func(k layout.Kind, f layout.Force) {
		switch ff := f.(type) {
		case *layout.Center:
			p.HasCenter = true
			p.CenterX, p.CenterY = ff.Target()
			p.CenterStrength = ff.Strength()
		case *layout.ManyBody:
			p.HasCharge = true
			p.ChargeStrength = ff.Strength()
			dmin := ff.DistanceMin()
			dmax := ff.DistanceMax()
			p.DistanceMin2 = dmin * dmin
			p.DistanceMax2 = dmax * dmax
		case *layout.Collide:
			p.HasCollide = true
			p.CollideStrength = ff.Strength()
			p.CollideIterations = ff.Iterations()
		case *layout.LinkForce:
			p.HasLink = true
			p.LinkIterations = ff.Iterations()
		case *layout.Radial:
			p.HasRadial = true
			p.RadialRadius = ff.Radius()
			p.RadialX, p.RadialY = ff.Center()
			p.RadialStrength = ff.Strength()
		case *layout.AxisX:
			p.HasX = true
			p.XTarget = ff.Target()
			p.XStrength = ff.Strength()
		case *layout.AxisY:
			p.HasY = true
			p.YTarget = ff.Target()
			p.YStrength = ff.Strength()
		}
	})
	return p
}

// Start launches the scheduled run loop if it is not already running. The
// loop steps once per tick interval, emits a tick event per step, and stops
// with an end event once alpha falls below alphaMin.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || e.released {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stop := e.stopCh
	interval := e.interval
	e.mu.Unlock()
	metrics.SimulationsActive.Inc()
	go e.loop(stop, interval)
}

// Stop halts the scheduled run loop. A frame already scheduled but not yet
// executed will not tick. Synchronous Tick calls remain allowed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.stopCh = nil
	e.mu.Unlock()
	metrics.SimulationsActive.Dec()
}

// Restart reheats the simulation to alpha 1 and starts the run loop.
func (e *Engine) Restart() {
	e.SetAlpha(1)
	e.Start()
}

// Running reports whether the scheduled run loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// A Stop racing the ticker wins: the scheduled frame is dropped.
			select {
			case <-stop:
				return
			default:
			}
			res := e.step()
			if res.err != nil {
				e.log.Error("tick failed, stopping run loop", "error", res.err)
				e.Stop()
				return
			}
			e.emit(Event{Kind: EventTick, Alpha: res.alpha, Tick: res.tick, Backend: res.backend})
			if res.alpha < e.AlphaMin() {
				e.Stop()
				e.emit(Event{Kind: EventEnd, Alpha: res.alpha, Tick: res.tick, Backend: res.backend})
				return
			}
		}
	}
}

// RunToConvergence steps synchronously until alpha drops below alphaMin,
// the tick budget is exhausted or the context is cancelled. A maxTicks of
// zero picks the cooling schedule's natural length. Returns the number of
// ticks executed.
func (e *Engine) RunToConvergence(ctx context.Context, maxTicks int) (int, error) {
	if maxTicks <= 0 {
		maxTicks = e.ScheduleLength()
	}
	for i := 0; i < maxTicks; i++ {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
		res := e.step()
		if res.err != nil {
			return i, res.err
		}
		if res.alpha < e.AlphaMin() {
			return i + 1, nil
		}
	}
	return maxTicks, nil
}

// ScheduleLength returns how many ticks the current cooling schedule takes
// to pass below alphaMin from a full reheat.
func (e *Engine) ScheduleLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alphaDecay <= 0 || e.alphaDecay >= 1 || e.alphaMin <= 0 {
		return 300
	}
	return int(math.Ceil(math.Log(e.alphaMin) / math.Log(1-e.alphaDecay)))
}

// Subscribe registers a listener for engine events and returns its cancel
// function. Listeners are invoked in subscription order.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextListen
	e.nextListen++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = e.listeners[id]
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Positions returns the current node positions in node order.
func (e *Engine) Positions() ([]Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Positions()
}

// Velocities returns the current node velocities in node order.
func (e *Engine) Velocities() ([]Velocity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Velocities()
}

// Position returns one node's position by id.
func (e *Engine) Position(id string) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.byID[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return Position{ID: n.ID, X: n.X, Y: n.Y}, nil
}

// PinNode fixes a node at (x, y) and writes the pin through to the backend
// so the live buffer picks it up on the next tick.
func (e *Engine) PinNode(id string, x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	n.Pin(x, y)
	n.X, n.Y = x, y
	n.VX, n.VY = 0, 0
	return e.backend.UpdateNode(n)
}

// UnpinNode releases a pinned node; it keeps its position and rejoins the
// simulation on the next tick.
func (e *Engine) UnpinNode(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	n.Unpin()
	return e.backend.UpdateNode(n)
}

// Ticks returns the total number of ticks executed since construction.
func (e *Engine) Ticks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// Alpha returns the current cooling temperature.
func (e *Engine) Alpha() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alpha
}

// SetAlpha sets the cooling temperature, clamped to [0, 1].
func (e *Engine) SetAlpha(a float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alpha = math.Max(0, math.Min(1, a))
}

// AlphaMin returns the convergence threshold.
func (e *Engine) AlphaMin() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alphaMin
}

// SetAlphaMin sets the convergence threshold.
func (e *Engine) SetAlphaMin(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alphaMin = v
}

// AlphaDecay returns the per-tick cooling rate.
func (e *Engine) AlphaDecay() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alphaDecay
}

// SetAlphaDecay sets the per-tick cooling rate.
func (e *Engine) SetAlphaDecay(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alphaDecay = v
}

// AlphaTarget returns the value alpha relaxes toward.
func (e *Engine) AlphaTarget() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alphaTarget
}

// SetAlphaTarget sets the value alpha relaxes toward. Raising it above
// alphaMin while running keeps the simulation warm, which is how drag
// interactions stay lively.
func (e *Engine) SetAlphaTarget(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alphaTarget = v
}

// VelocityDecay returns the per-tick friction.
func (e *Engine) VelocityDecay() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.velocityDecay
}

// SetVelocityDecay sets the per-tick friction, clamped to [0, 1].
func (e *Engine) SetVelocityDecay(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.velocityDecay = math.Max(0, math.Min(1, v))
}

// Seed returns the random source seed.
func (e *Engine) Seed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seed
}

// SetSeed resets the random source and rebinds all forces so runs replay
// deterministically from the next tick.
func (e *Engine) SetSeed(seed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seed = seed
	e.random = layout.NewRand(seed)
	e.forces.InitializeAll(e.nodes, e.random)
}

// SetInterval sets the pacing of the scheduled run loop. Takes effect on
// the next Start.
func (e *Engine) SetInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.interval = d
	}
}

// Interval returns the run loop pacing.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// SetPlacement selects the strategy used to seed missing coordinates on the
// next SetNodes.
func (e *Engine) SetPlacement(s placement.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s != nil {
		e.placer = s
	}
}

// Placement returns the active placement strategy.
func (e *Engine) Placement() placement.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placer
}

// Release stops the run loop and frees backend resources. The engine is
// unusable afterwards: every mutating operation returns ErrReleased.
func (e *Engine) Release() {
	e.Stop()
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	backend := e.backend
	e.backend = e.cpu
	e.listeners = make(map[int]func(Event))
	e.mu.Unlock()
	backend.Release()
	metrics.SimulationAlpha.DeleteLabelValues(e.name)
}

// seedPositions fills missing coordinates from the placement strategy. A
// node with either coordinate unset gets both from the strategy, keeping
// the seeded pattern intact.
func seedPositions(nodes []*layout.Node, strat placement.Strategy) {
	var pos [][2]float64
	for i, n := range nodes {
		if math.IsNaN(n.X) || math.IsNaN(n.Y) {
			if pos == nil {
				pos = strat.Positions(len(nodes))
			}
			n.X = pos[i][0]
			n.Y = pos[i][1]
		}
		// Pins win over seeded coordinates.
		if n.FX != nil {
			n.X = *n.FX
		}
		if n.FY != nil {
			n.Y = *n.FY
		}
	}
}
