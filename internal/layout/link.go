package layout

import "math"

// DefaultLinkDistance is the rest length assigned to links without a
// per-edge override or semantic rule. Advisory range [10, 500].
const DefaultLinkDistance = 30.0

// LinkForce pulls linked nodes toward a per-link rest distance. Each
// iteration computes a 1D spring correction along the source-target axis on
// projected positions (x+vx, y+vy) and splits it by the link's degree bias,
// so hubs and heavy nodes absorb less of the correction. Edges whose
// endpoints are missing from the node set are dropped at resolution time.
type LinkForce struct {
	edges      []Edge
	distance   float64
	strengthFn func(*Link) float64
	iterations int
	rules      *SemanticRules

	nodes  []*Node
	links  []*Link
	random *Rand
}

// NewLinkForce returns the force with the reference defaults: rest distance
// 30, strength 1/min(degree), one iteration.
func NewLinkForce(edges []Edge) *LinkForce {
	return &LinkForce{
		edges:      edges,
		distance:   DefaultLinkDistance,
		iterations: 1,
	}
}

// SetEdges replaces the edge set. Takes effect at the next Initialize.
func (f *LinkForce) SetEdges(edges []Edge) { f.edges = edges }

// Edges returns the raw edge set.
func (f *LinkForce) Edges() []Edge { return f.edges }

// Links returns the resolved links from the last Initialize.
func (f *LinkForce) Links() []*Link { return f.links }

// SetDistance sets the default rest distance for links without overrides.
func (f *LinkForce) SetDistance(d float64) { f.distance = d }

// Distance returns the default rest distance.
func (f *LinkForce) Distance() float64 { return f.distance }

// SetStrengthFunc overrides the default per-link strength.
func (f *LinkForce) SetStrengthFunc(fn func(*Link) float64) { f.strengthFn = fn }

// SetIterations sets the number of sequential relaxation passes per tick.
// More passes make the links stiffer and cost proportionally more.
func (f *LinkForce) SetIterations(n int) {
	if n < 1 {
		n = 1
	}
	f.iterations = n
}

// Iterations returns the relaxation pass count.
func (f *LinkForce) Iterations() int { return f.iterations }

// SetSemanticRules attaches edge-type scaling rules, applied at resolution.
func (f *LinkForce) SetSemanticRules(rules *SemanticRules) { f.rules = rules }

// Initialize resolves edges against the node set. Unresolvable edges are
// dropped silently; the surviving links carry rest distance, strength and
// the degree bias.
func (f *LinkForce) Initialize(nodes []*Node, random *Rand) {
	f.nodes = nodes
	f.random = random

	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	f.links = f.links[:0]
	resolved := make([]Edge, 0, len(f.edges))
	for _, e := range f.edges {
		src, ok := byID[e.Source]
		if !ok {
			continue
		}
		tgt, ok := byID[e.Target]
		if !ok {
			continue
		}
		link := &Link{
			Index:    len(f.links),
			Source:   src,
			Target:   tgt,
			Distance: f.distance,
		}
		if e.Distance != nil {
			link.Distance = *e.Distance
		}
		if f.rules != nil {
			link.Distance *= f.rules.distanceMultiplier(e.Type, src, tgt)
		}
		f.links = append(f.links, link)
		resolved = append(resolved, e)
	}

	// Degree over resolved links only; dropped edges contribute nothing.
	degree := make([]float64, len(nodes))
	for _, l := range f.links {
		degree[l.Source.Index]++
		degree[l.Target.Index]++
	}

	for i, l := range f.links {
		ds := degree[l.Source.Index]
		dt := degree[l.Target.Index]
		ws := ds * l.Source.Mass
		wt := dt * l.Target.Mass
		l.Bias = ws / (ws + wt)

		e := resolved[i]
		switch {
		case e.Strength != nil:
			l.Strength = *e.Strength
		case f.strengthFn != nil:
			l.Strength = f.strengthFn(l)
		default:
			l.Strength = 1 / math.Min(ds, dt)
		}
		if f.rules != nil {
			l.Strength *= f.rules.strengthMultiplier(e.Type)
		}
	}
}

// Apply relaxes every link f.iterations times. Sub-steps run strictly in
// sequence, each seeing the previous sub-step's velocity updates.
func (f *LinkForce) Apply(alpha float64) {
	for k := 0; k < f.iterations; k++ {
		for _, l := range f.links {
			src, tgt := l.Source, l.Target
			x := tgt.X + tgt.VX - src.X - src.VX
			y := tgt.Y + tgt.VY - src.Y - src.VY
			if x == 0 {
				x = Jiggle(f.random)
			}
			if y == 0 {
				y = Jiggle(f.random)
			}
			dist := math.Sqrt(x*x + y*y)
			scale := (dist - l.Distance) / dist * alpha * l.Strength
			x *= scale
			y *= scale
			tgt.VX -= x * l.Bias
			tgt.VY -= y * l.Bias
			src.VX += x * (1 - l.Bias)
			src.VY += y * (1 - l.Bias)
		}
	}
}
