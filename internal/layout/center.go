package layout

// Center cancels drift by translating the whole layout toward a target
// point. Each tick it takes the centroid of the unpinned nodes and shifts
// every node by (target - centroid) * strength * alpha, a position write
// that preserves the layout's shape instead of snapping it. Pinned nodes
// are re-clamped by the integrator, so the shift never moves them.
type Center struct {
	x, y     float64
	strength float64

	nodes []*Node
}

// NewCenter returns the force targeting (x, y) with strength 1.
func NewCenter(x, y float64) *Center {
	return &Center{x: x, y: y, strength: 1}
}

// SetTarget moves the target point.
func (f *Center) SetTarget(x, y float64) { f.x, f.y = x, y }

// Target returns the target point.
func (f *Center) Target() (x, y float64) { return f.x, f.y }

// SetStrength scales how much of the drift one tick cancels.
func (f *Center) SetStrength(s float64) { f.strength = s }

// Strength returns the drift-cancel scale.
func (f *Center) Strength() float64 { return f.strength }

// Initialize binds the force to the node set.
func (f *Center) Initialize(nodes []*Node, _ *Rand) { f.nodes = nodes }

// Apply translates all nodes so the unpinned centroid nears the target.
func (f *Center) Apply(alpha float64) {
	var cx, cy float64
	var count int
	for _, n := range f.nodes {
		if n.Pinned() {
			continue
		}
		cx += n.X
		cy += n.Y
		count++
	}
	if count == 0 {
		return
	}
	cx /= float64(count)
	cy /= float64(count)

	sx := (f.x - cx) * f.strength * alpha
	sy := (f.y - cy) * f.strength * alpha
	for _, n := range f.nodes {
		n.X += sx
		n.Y += sy
	}
}
