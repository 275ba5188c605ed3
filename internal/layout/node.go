// Package layout holds the node/edge model and the composable forces of the
// force-directed layout. Forces share one contract: Initialize binds them to
// the current node set, Apply runs once per tick scaled by the cooling
// factor, and every force writes velocity only. The two documented
// exceptions are the center force, which translates positions to cancel
// drift, and the link force, which reads projected positions (x+vx, y+vy)
// but still writes velocity.
package layout

const (
	// DefaultMass biases the link-force distribution; heavier endpoints
	// absorb less of a spring correction.
	DefaultMass = 1.0

	// DefaultRadius is the collision extent of a node.
	DefaultRadius = 8.0
)

// Node is one simulated body. The engine owns these between set-operations;
// forces mutate velocity (and for the center force, position) in place
// during a tick. FX/FY are per-axis pins: a non-nil pin clamps the position
// and zeroes the velocity on that axis after every integration step.
type Node struct {
	ID    string
	Index int

	X, Y   float64
	VX, VY float64
	FX, FY *float64

	Mass   float64
	Radius float64
	Group  int
}

// NodeSpec is the caller-facing shape for supplying nodes. Nil coordinates
// mean "place me": the engine seeds missing positions deterministically.
type NodeSpec struct {
	ID     string   `json:"id"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	FX     *float64 `json:"fx,omitempty"`
	FY     *float64 `json:"fy,omitempty"`
	Mass   float64  `json:"mass,omitempty"`
	Radius float64  `json:"radius,omitempty"`
	Group  int      `json:"group,omitempty"`
}

// Edge is the caller-facing shape for supplying links. Distance and
// Strength are optional per-edge overrides; Type selects semantic rules.
type Edge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Distance *float64 `json:"distance,omitempty"`
	Strength *float64 `json:"strength,omitempty"`
	Type     string   `json:"type,omitempty"`
}

// Link is a resolved edge: both endpoints found in the current node set.
// Bias in (0,1) is the fraction of a spring correction the target absorbs;
// it derives from mass-weighted endpoint degrees so hubs and heavy nodes
// move less when pulled.
type Link struct {
	Index    int
	Source   *Node
	Target   *Node
	Distance float64
	Strength float64
	Bias     float64
}

// Pinned reports whether the node is pinned on either axis.
func (n *Node) Pinned() bool { return n.FX != nil || n.FY != nil }

// Pin fixes the node at (x, y). The integrator clamps it there every tick.
func (n *Node) Pin(x, y float64) {
	fx, fy := x, y
	n.FX, n.FY = &fx, &fy
}

// Unpin releases both axes.
func (n *Node) Unpin() { n.FX, n.FY = nil, nil }

// BuildNodes materializes specs into engine-owned nodes, applying the mass
// and radius defaults. Positions left nil stay NaN for the caller to seed.
func BuildNodes(specs []NodeSpec) []*Node {
	nodes := make([]*Node, len(specs))
	for i, s := range specs {
		n := &Node{
			ID:     s.ID,
			Index:  i,
			Mass:   s.Mass,
			Radius: s.Radius,
			Group:  s.Group,
		}
		if n.Mass <= 0 {
			n.Mass = DefaultMass
		}
		if n.Radius <= 0 {
			n.Radius = DefaultRadius
		}
		if s.X != nil {
			n.X = *s.X
		} else {
			n.X = nan
		}
		if s.Y != nil {
			n.Y = *s.Y
		} else {
			n.Y = nan
		}
		if s.FX != nil {
			fx := *s.FX
			n.FX = &fx
			n.X = fx
		}
		if s.FY != nil {
			fy := *s.FY
			n.FY = &fy
			n.Y = fy
		}
		nodes[i] = n
	}
	return nodes
}
