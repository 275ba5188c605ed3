package layout

import (
	"math"

	"github.com/exocortex-initiative/forcefield/internal/quadtree"
)

// ManyBody applies mutual repulsion (negative strength, the default) or
// attraction (positive) between all node pairs. A quadtree built from
// current positions each tick lets distant quadrants act as single
// pseudo-bodies at their aggregate center, bounded by the accuracy
// parameter theta: a cell of side s at distance d is aggregated when
// s/d < theta. theta = 0 degenerates to the exact O(n²) sum.
type ManyBody struct {
	strength   float64
	strengthFn func(*Node) float64

	distanceMin2 float64
	distanceMax2 float64
	theta2       float64

	nodes     []*Node
	strengths []float64
	random    *Rand
}

// NewManyBody returns the force with the reference defaults: strength -30,
// minimum distance 1, no maximum distance, theta 0.9.
func NewManyBody() *ManyBody {
	return &ManyBody{
		strength:     -30,
		distanceMin2: 1,
		distanceMax2: math.Inf(1),
		theta2:       0.81,
	}
}

// SetStrength sets the uniform per-node strength. Negative repels.
func (f *ManyBody) SetStrength(s float64) {
	f.strength = s
	f.strengthFn = nil
	f.rebuildStrengths()
}

// Strength returns the uniform strength.
func (f *ManyBody) Strength() float64 { return f.strength }

// SetStrengthFunc overrides the uniform strength with a per-node value.
func (f *ManyBody) SetStrengthFunc(fn func(*Node) float64) {
	f.strengthFn = fn
	f.rebuildStrengths()
}

// SetDistanceMin clamps the minimum separation used in the force law, so
// near-coincident nodes cannot produce unbounded velocities.
func (f *ManyBody) SetDistanceMin(d float64) { f.distanceMin2 = d * d }

// DistanceMin returns the minimum separation.
func (f *ManyBody) DistanceMin() float64 { return math.Sqrt(f.distanceMin2) }

// SetDistanceMax cuts off interactions beyond the given distance.
func (f *ManyBody) SetDistanceMax(d float64) { f.distanceMax2 = d * d }

// DistanceMax returns the interaction cutoff.
func (f *ManyBody) DistanceMax() float64 { return math.Sqrt(f.distanceMax2) }

// SetTheta sets the accuracy parameter. Advisory range [0, 2].
func (f *ManyBody) SetTheta(theta float64) { f.theta2 = theta * theta }

// Theta returns the accuracy parameter.
func (f *ManyBody) Theta() float64 { return math.Sqrt(f.theta2) }

// Initialize binds the force to the node set and precomputes strengths.
func (f *ManyBody) Initialize(nodes []*Node, random *Rand) {
	f.nodes = nodes
	f.random = random
	f.rebuildStrengths()
}

func (f *ManyBody) rebuildStrengths() {
	if f.nodes == nil {
		return
	}
	f.strengths = make([]float64, len(f.nodes))
	for i, n := range f.nodes {
		if f.strengthFn != nil {
			f.strengths[i] = f.strengthFn(n)
		} else {
			f.strengths[i] = f.strength
		}
	}
}

// Apply rebuilds the quadtree and accumulates one velocity delta per node.
func (f *ManyBody) Apply(alpha float64) {
	if len(f.nodes) == 0 {
		return
	}

	pts := make([]quadtree.Point, len(f.nodes))
	for i, n := range f.nodes {
		pts[i] = quadtree.Point{X: n.X, Y: n.Y, Index: i}
	}
	tree := quadtree.New(pts)

	// Bottom-up pass: each cell gets its signed aggregate strength and the
	// absolute-strength-weighted center it acts from.
	tree.Accumulate(
		func(q *quadtree.Node) {
			var strength float64
			leaf := q.Points()
			for _, p := range leaf {
				strength += f.strengths[p.Index]
			}
			q.Value = strength
			q.CX = leaf[0].X
			q.CY = leaf[0].Y
		},
		func(q *quadtree.Node) {
			var strength, weight, x, y float64
			for i := 0; i < 4; i++ {
				c := q.Child(i)
				if c == nil {
					continue
				}
				if w := math.Abs(c.Value); w != 0 {
					strength += c.Value
					weight += w
					x += w * c.CX
					y += w * c.CY
				}
			}
			q.Value = strength
			if weight > 0 {
				q.CX = x / weight
				q.CY = y / weight
			}
		},
	)

	for _, n := range f.nodes {
		tree.Visit(func(q *quadtree.Node, x0, _, x1, _ float64) bool {
			return f.applyTo(n, q, x1-x0, alpha)
		})
	}
}

// applyTo handles one visited cell for one node. Returning true prunes the
// cell's subtree.
func (f *ManyBody) applyTo(n *Node, q *quadtree.Node, size, alpha float64) bool {
	if q.Value == 0 {
		return true
	}

	dx := q.CX - n.X
	dy := q.CY - n.Y
	l := dx*dx + dy*dy

	// Far enough: the whole cell acts as one body at its aggregate center.
	if size*size/f.theta2 < l {
		if l < f.distanceMax2 {
			if dx == 0 {
				dx = Jiggle(f.random)
				l += dx * dx
			}
			if dy == 0 {
				dy = Jiggle(f.random)
				l += dy * dy
			}
			if l < f.distanceMin2 {
				l = math.Sqrt(f.distanceMin2 * l)
			}
			n.VX += dx * q.Value * alpha / l
			n.VY += dy * q.Value * alpha / l
		}
		return true
	}
	if !q.Leaf() || l >= f.distanceMax2 {
		return false
	}

	// Leaf in range: apply its points pairwise, skipping the node itself.
	pts := q.Points()
	if pts[0].Index != n.Index || len(pts) > 1 {
		if dx == 0 {
			dx = Jiggle(f.random)
			l += dx * dx
		}
		if dy == 0 {
			dy = Jiggle(f.random)
			l += dy * dy
		}
		if l < f.distanceMin2 {
			l = math.Sqrt(f.distanceMin2 * l)
		}
	}
	for _, p := range pts {
		if p.Index == n.Index {
			continue
		}
		w := f.strengths[p.Index] * alpha / l
		n.VX += dx * w
		n.VY += dy * w
	}
	return true
}
