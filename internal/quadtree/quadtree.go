// Package quadtree implements a point-region quadtree over a square extent.
// It is the spatial index behind the many-body approximation and the
// collision force: both rebuild a tree every tick and walk it with a
// visitor callback that prunes whole quadrants.
package quadtree

import "math"

// maxDepth bounds leaf splitting. Points that still share a cell this deep
// are chained into the leaf instead of splitting further, so clusters of
// nearly coincident points cannot recurse unboundedly.
const maxDepth = 48

// Point is one indexed 2D sample. Index refers back to the owning slot in
// the caller's node array.
type Point struct {
	X, Y  float64
	Index int
}

// Node is a single cell of the tree. Internal nodes carry up to four
// children; leaves carry one or more points (coincident points chain into
// the same leaf).
//
// Value, CX and CY are aggregate slots for visitors: the tree never reads
// them, Accumulate fills them bottom-up with whatever the caller computes
// (signed strength and weighted center for many-body, max radius for
// collision).
type Node struct {
	children [4]*Node
	points   []Point
	leaf     bool

	Value  float64
	CX, CY float64
}

// Leaf reports whether n holds points rather than children.
func (n *Node) Leaf() bool { return n.leaf }

// Points returns the leaf's point chain. Empty for internal nodes.
func (n *Node) Points() []Point { return n.points }

// Child returns the i-th quadrant (0=NW, 1=NE, 2=SW, 3=SE), or nil.
func (n *Node) Child(i int) *Node { return n.children[i] }

// Tree is a quadtree over a fixed square extent computed at build time.
type Tree struct {
	root           *Node
	x0, y0, x1, y1 float64
	size           int
}

// Visitor receives a node and its cell bounds. Returning true prunes the
// node's subtree; returning false descends into it.
type Visitor func(n *Node, x0, y0, x1, y1 float64) bool

// New builds a tree covering all points. The extent is the bounding box
// squared up and padded so border points never sit exactly on a cell edge.
func New(points []Point) *Tree {
	t := &Tree{}
	if len(points) == 0 {
		return t
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}

	pad := math.Max(maxX-minX, maxY-minY) * 0.1
	if pad == 0 {
		pad = 1 // all points coincident
	}
	minX -= pad
	maxX += pad
	minY -= pad
	maxY += pad

	// Square extent keeps every quadrant square, which lets visitors use a
	// single side length in their pruning tests.
	width := maxX - minX
	height := maxY - minY
	if width > height {
		diff := (width - height) / 2
		minY -= diff
		maxY += diff
	} else if height > width {
		diff := (height - width) / 2
		minX -= diff
		maxX += diff
	}

	t.x0, t.y0, t.x1, t.y1 = minX, minY, maxX, maxY
	for _, p := range points {
		t.Insert(p)
	}
	return t
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int { return t.size }

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root() *Node { return t.root }

// Bounds returns the extent covered by the root cell.
func (t *Tree) Bounds() (x0, y0, x1, y1 float64) {
	return t.x0, t.y0, t.x1, t.y1
}

// Insert adds a point. Points at identical coordinates chain into one leaf
// rather than splitting forever; the extent is fixed, so callers should
// insert only points inside the bounds New was built from.
func (t *Tree) Insert(p Point) {
	t.size++
	if t.root == nil {
		t.root = &Node{leaf: true, points: []Point{p}}
		return
	}
	t.root = insert(t.root, p, t.x0, t.y0, t.x1, t.y1, 0)
}

func insert(n *Node, p Point, x0, y0, x1, y1 float64, depth int) *Node {
	if n == nil {
		return &Node{leaf: true, points: []Point{p}}
	}
	if n.leaf {
		// Coincident with the resident point, or splitting has gone deep
		// enough: extend the chain.
		if (p.X == n.points[0].X && p.Y == n.points[0].Y) || depth >= maxDepth {
			n.points = append(n.points, p)
			return n
		}
		// Split: push the old chain down, then fall through to place p.
		old := n.points
		n.points = nil
		n.leaf = false
		for _, q := range old {
			i, cx0, cy0, cx1, cy1 := quadrant(q, x0, y0, x1, y1)
			n.children[i] = insert(n.children[i], q, cx0, cy0, cx1, cy1, depth+1)
		}
	}
	i, cx0, cy0, cx1, cy1 := quadrant(p, x0, y0, x1, y1)
	n.children[i] = insert(n.children[i], p, cx0, cy0, cx1, cy1, depth+1)
	return n
}

// quadrant picks the child index and bounds for p within the given cell.
func quadrant(p Point, x0, y0, x1, y1 float64) (i int, cx0, cy0, cx1, cy1 float64) {
	xm := (x0 + x1) / 2
	ym := (y0 + y1) / 2
	cx0, cy0, cx1, cy1 = x0, y0, xm, ym
	if p.X >= xm {
		i |= 1
		cx0, cx1 = xm, x1
	}
	if p.Y >= ym {
		i |= 2
		cy0, cy1 = ym, y1
	}
	return i, cx0, cy0, cx1, cy1
}

// Visit walks the tree depth-first in quadrant order (NW, NE, SW, SE),
// calling fn before descending. fn returning true skips the subtree.
func (t *Tree) Visit(fn Visitor) {
	if t.root != nil {
		visit(t.root, t.x0, t.y0, t.x1, t.y1, fn)
	}
}

func visit(n *Node, x0, y0, x1, y1 float64, fn Visitor) {
	if fn(n, x0, y0, x1, y1) || n.leaf {
		return
	}
	xm := (x0 + x1) / 2
	ym := (y0 + y1) / 2
	if c := n.children[0]; c != nil {
		visit(c, x0, y0, xm, ym, fn)
	}
	if c := n.children[1]; c != nil {
		visit(c, xm, y0, x1, ym, fn)
	}
	if c := n.children[2]; c != nil {
		visit(c, x0, ym, xm, y1, fn)
	}
	if c := n.children[3]; c != nil {
		visit(c, xm, ym, x1, y1, fn)
	}
}

// VisitAfter walks the tree depth-first, calling fn on the way back up, so
// every child is seen before its parent.
func (t *Tree) VisitAfter(fn func(n *Node, x0, y0, x1, y1 float64)) {
	if t.root != nil {
		visitAfter(t.root, t.x0, t.y0, t.x1, t.y1, fn)
	}
}

func visitAfter(n *Node, x0, y0, x1, y1 float64, fn func(n *Node, x0, y0, x1, y1 float64)) {
	if !n.leaf {
		xm := (x0 + x1) / 2
		ym := (y0 + y1) / 2
		if c := n.children[0]; c != nil {
			visitAfter(c, x0, y0, xm, ym, fn)
		}
		if c := n.children[1]; c != nil {
			visitAfter(c, xm, y0, x1, ym, fn)
		}
		if c := n.children[2]; c != nil {
			visitAfter(c, x0, ym, xm, y1, fn)
		}
		if c := n.children[3]; c != nil {
			visitAfter(c, xm, ym, x1, y1, fn)
		}
	}
	fn(n, x0, y0, x1, y1)
}

// Accumulate runs VisitAfter with a callback that fills the aggregate
// slots. Leaves get their own callback since they carry points instead of
// children.
func (t *Tree) Accumulate(leaf func(n *Node), internal func(n *Node)) {
	t.VisitAfter(func(n *Node, _, _, _, _ float64) {
		if n.leaf {
			leaf(n)
		} else {
			internal(n)
		}
	})
}
