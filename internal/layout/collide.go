package layout

import (
	"math"

	"github.com/exocortex-initiative/forcefield/internal/quadtree"
)

// Collide pushes apart any two nodes whose projected positions overlap
// within the sum of their radii. The push is proportional to the overlap
// and split by relative squared radius, so large nodes displace small ones
// more than the reverse. A quadtree annotated with per-subtree maximum
// radius prunes pairs that cannot possibly touch. Velocity-only; iterated
// for stability under dense packing.
type Collide struct {
	radiusFn   func(*Node) float64
	strength   float64
	iterations int

	nodes  []*Node
	radii  []float64
	random *Rand
}

// NewCollide returns the force using each node's own radius, strength 1,
// one iteration.
func NewCollide() *Collide {
	return &Collide{strength: 1, iterations: 1}
}

// SetRadius uses a constant collision radius for every node.
func (f *Collide) SetRadius(r float64) {
	f.radiusFn = func(*Node) float64 { return r }
	f.rebuildRadii()
}

// SetRadiusFunc derives the collision radius per node. The default reads
// the node's Radius field.
func (f *Collide) SetRadiusFunc(fn func(*Node) float64) {
	f.radiusFn = fn
	f.rebuildRadii()
}

// SetStrength scales the overlap correction; advisory range (0, 1].
func (f *Collide) SetStrength(s float64) { f.strength = s }

// Strength returns the correction scale.
func (f *Collide) Strength() float64 { return f.strength }

// SetIterations sets the number of sequential relaxation passes per tick.
func (f *Collide) SetIterations(n int) {
	if n < 1 {
		n = 1
	}
	f.iterations = n
}

// Iterations returns the relaxation pass count.
func (f *Collide) Iterations() int { return f.iterations }

// Initialize binds the force to the node set and precomputes radii.
func (f *Collide) Initialize(nodes []*Node, random *Rand) {
	f.nodes = nodes
	f.random = random
	f.rebuildRadii()
}

func (f *Collide) rebuildRadii() {
	if f.nodes == nil {
		return
	}
	f.radii = make([]float64, len(f.nodes))
	for i, n := range f.nodes {
		if f.radiusFn != nil {
			f.radii[i] = f.radiusFn(n)
		} else {
			f.radii[i] = n.Radius
		}
	}
}

// Apply runs the relaxation passes. Each pass rebuilds the quadtree from
// projected positions so later passes see earlier corrections.
func (f *Collide) Apply(_ float64) {
	for k := 0; k < f.iterations; k++ {
		f.pass()
	}
}

func (f *Collide) pass() {
	if len(f.nodes) == 0 {
		return
	}

	pts := make([]quadtree.Point, len(f.nodes))
	for i, n := range f.nodes {
		pts[i] = quadtree.Point{X: n.X + n.VX, Y: n.Y + n.VY, Index: i}
	}
	tree := quadtree.New(pts)

	// Value holds the largest radius in each subtree, which bounds how far
	// outside a cell a collision can still reach.
	tree.Accumulate(
		func(q *quadtree.Node) {
			var r float64
			for _, p := range q.Points() {
				if f.radii[p.Index] > r {
					r = f.radii[p.Index]
				}
			}
			q.Value = r
		},
		func(q *quadtree.Node) {
			var r float64
			for i := 0; i < 4; i++ {
				if c := q.Child(i); c != nil && c.Value > r {
					r = c.Value
				}
			}
			q.Value = r
		},
	)

	for _, n := range f.nodes {
		ri := f.radii[n.Index]
		ri2 := ri * ri
		xi := n.X + n.VX
		yi := n.Y + n.VY

		tree.Visit(func(q *quadtree.Node, x0, y0, x1, y1 float64) bool {
			reach := ri + q.Value
			if !q.Leaf() {
				return x0 > xi+reach || x1 < xi-reach || y0 > yi+reach || y1 < yi-reach
			}
			// Pairwise against the leaf chain; index order avoids double
			// handling of each pair.
			for _, p := range q.Points() {
				if p.Index <= n.Index {
					continue
				}
				other := f.nodes[p.Index]
				rj := f.radii[p.Index]
				r := ri + rj
				x := xi - other.X - other.VX
				y := yi - other.Y - other.VY
				l := x*x + y*y
				if l >= r*r {
					continue
				}
				if x == 0 {
					x = Jiggle(f.random)
					l += x * x
				}
				if y == 0 {
					y = Jiggle(f.random)
					l += y * y
				}
				l = math.Sqrt(l)
				l = (r - l) / l * f.strength
				x *= l
				y *= l
				rj2 := rj * rj
				ratio := rj2 / (ri2 + rj2)
				n.VX += x * ratio
				n.VY += y * ratio
				other.VX -= x * (1 - ratio)
				other.VY -= y * (1 - ratio)
			}
			return true
		})
	}
}
