package sim

import (
	"math"

	"github.com/exocortex-initiative/forcefield/internal/layout"
)

// Position is a node position snapshot keyed by node id.
type Position struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Velocity is a node velocity snapshot keyed by node id.
type Velocity struct {
	ID string  `json:"id"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// ForceParams is the scalar distillation of the active force set. The CPU
// backend ignores it and runs the force objects directly; device backends
// consume it as uniform input instead. Per-node inputs (mass, radius, pins)
// travel in the node buffer, per-link inputs (distance, strength, bias) in
// the edge buffer.
type ForceParams struct {
	HasCenter      bool
	CenterX        float64
	CenterY        float64
	CenterStrength float64

	HasCharge      bool
	ChargeStrength float64
	DistanceMin2   float64
	DistanceMax2   float64

	HasCollide        bool
	CollideStrength   float64
	CollideIterations int

	HasLink        bool
	LinkIterations int

	HasRadial      bool
	RadialRadius   float64
	RadialX        float64
	RadialY        float64
	RadialStrength float64

	HasX      bool
	XTarget   float64
	XStrength float64

	HasY      bool
	YTarget   float64
	YStrength float64
}

// TickParams carries everything a backend needs to advance one tick.
type TickParams struct {
	Alpha         float64
	VelocityDecay float64
	Forces        ForceParams
}

// Backend is the execution strategy behind an Engine. The engine owns the
// node structs; backends advance them. After a successful Tick the shared
// structs reflect the new state, which is what makes mid-run failover
// lossless: whatever backend dies, the host copy is at most one tick old.
type Backend interface {
	// Name identifies the backend in logs, metrics and events.
	Name() string

	// Initialize acquires backend resources. It must be called before any
	// other method and may fail (for example when no GPU adapter exists).
	Initialize() error

	// SetNodes binds the backend to the engine's node structs. Device
	// backends upload them; the CPU backend just keeps the slice.
	SetNodes(nodes []*layout.Node) error

	// SetEdges binds the resolved link set. Links arrive with endpoints,
	// rest distance, strength and bias already computed.
	SetEdges(links []*layout.Link) error

	// Tick advances the simulation one step.
	Tick(params TickParams) error

	// Positions returns one entry per node in node order.
	Positions() ([]Position, error)

	// Velocities returns one entry per node in node order.
	Velocities() ([]Velocity, error)

	// UpdateNode writes one node's mutated fields (pins, drags) through to
	// backend state so the live buffer never diverges from the host.
	UpdateNode(n *layout.Node) error

	// Release frees backend resources. Safe to call more than once.
	Release()
}

// CPUBackend runs the force registry directly against the shared node
// structs. It is infallible and always available, which is why the engine
// keeps one around as the fallback target.
type CPUBackend struct {
	forces *layout.Registry
	nodes  []*layout.Node
}

// NewCPUBackend returns a CPU backend executing the given registry.
func NewCPUBackend(forces *layout.Registry) *CPUBackend {
	return &CPUBackend{forces: forces}
}

func (b *CPUBackend) Name() string { return "cpu" }

func (b *CPUBackend) Initialize() error { return nil }

func (b *CPUBackend) SetNodes(nodes []*layout.Node) error {
	b.nodes = nodes
	return nil
}

// SetEdges is a no-op: the registry's link force already holds the links.
func (b *CPUBackend) SetEdges(links []*layout.Link) error { return nil }

func (b *CPUBackend) Tick(params TickParams) error {
	b.forces.ApplyAll(params.Alpha)
	integrate(b.nodes, params.VelocityDecay)
	return nil
}

func (b *CPUBackend) Positions() ([]Position, error) {
	out := make([]Position, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = Position{ID: n.ID, X: n.X, Y: n.Y}
	}
	return out, nil
}

func (b *CPUBackend) Velocities() ([]Velocity, error) {
	out := make([]Velocity, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = Velocity{ID: n.ID, VX: n.VX, VY: n.VY}
	}
	return out, nil
}

// UpdateNode is a no-op: the CPU backend reads the shared structs.
func (b *CPUBackend) UpdateNode(n *layout.Node) error { return nil }

func (b *CPUBackend) Release() {}

// integrate applies friction, advances positions, clamps pinned axes and
// repairs non-finite values. A node whose update would produce NaN or Inf
// keeps its last finite position with velocity zeroed, so one bad frame
// cannot poison the layout.
func integrate(nodes []*layout.Node, velocityDecay float64) {
	friction := 1 - velocityDecay
	for _, n := range nodes {
		if !finite(n.VX) {
			n.VX = 0
		}
		if !finite(n.VY) {
			n.VY = 0
		}
		if n.FX != nil {
			n.X = *n.FX
			n.VX = 0
		} else {
			n.VX *= friction
			if x := n.X + n.VX; finite(x) {
				n.X = x
			} else {
				n.VX = 0
			}
		}
		if n.FY != nil {
			n.Y = *n.FY
			n.VY = 0
		} else {
			n.VY *= friction
			if y := n.Y + n.VY; finite(y) {
				n.Y = y
			} else {
				n.VY = 0
			}
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
