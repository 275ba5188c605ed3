package layout

import "math"

// Radial pulls every node toward a circle of the given radius around a
// center point. Used by specialized presets (orbit-style groupings).
type Radial struct {
	radius   float64
	x, y     float64
	strength float64
	radiusFn func(*Node) float64

	nodes []*Node
}

// NewRadial returns the force targeting the circle of the given radius
// around (x, y), strength 0.1.
func NewRadial(radius, x, y float64) *Radial {
	return &Radial{radius: radius, x: x, y: y, strength: 0.1}
}

// SetRadius sets the target radius for every node.
func (f *Radial) SetRadius(r float64) {
	f.radius = r
	f.radiusFn = nil
}

// Radius returns the uniform target radius.
func (f *Radial) Radius() float64 { return f.radius }

// SetRadiusFunc derives the target radius per node, letting presets place
// groups on distinct rings.
func (f *Radial) SetRadiusFunc(fn func(*Node) float64) { f.radiusFn = fn }

// SetCenter moves the circle's center.
func (f *Radial) SetCenter(x, y float64) { f.x, f.y = x, y }

// Center returns the circle's center.
func (f *Radial) Center() (x, y float64) { return f.x, f.y }

// SetStrength scales the pull toward the circle.
func (f *Radial) SetStrength(s float64) { f.strength = s }

// Strength returns the pull scale.
func (f *Radial) Strength() float64 { return f.strength }

// Initialize binds the force to the node set.
func (f *Radial) Initialize(nodes []*Node, _ *Rand) { f.nodes = nodes }

// Apply accumulates a velocity delta toward each node's target ring.
func (f *Radial) Apply(alpha float64) {
	for _, n := range f.nodes {
		dx := n.X - f.x
		dy := n.Y - f.y
		if dx == 0 {
			dx = 1e-6
		}
		if dy == 0 {
			dy = 1e-6
		}
		r := math.Sqrt(dx*dx + dy*dy)
		target := f.radius
		if f.radiusFn != nil {
			target = f.radiusFn(n)
		}
		k := (target - r) * f.strength * alpha / r
		n.VX += dx * k
		n.VY += dy * k
	}
}
