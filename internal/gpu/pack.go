package gpu

import (
	"math"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// Buffer layouts are shared with the WGSL source in shader.go; the structs
// here must stay field-for-field identical to their shader counterparts.
const (
	nodeStride  = 48
	linkStride  = 20
	uniformSize = 96

	workgroupSize = 64
)

// nodeState is the device representation of one node. Pins travel as a
// position plus a flag so the shader can clamp without nullable fields. The
// trailing pad keeps the stride at three 16-byte rows.
type nodeState struct {
	X, Y       float32
	VX, VY     float32
	FX, FY     float32
	PinX, PinY float32
	Radius     float32
	pad        [3]float32
}

// linkState is the device representation of one resolved link. Distance,
// strength and bias arrive precomputed, so the shader never needs degree
// or mass information.
type linkState struct {
	Source, Target     uint32
	Distance, Strength float32
	Bias               float32
}

// uniforms carries the per-tick scalar inputs. Force blocks that are not
// active keep zero strengths, which the shader treats as disabled; separate
// enable flags would be redundant.
type uniforms struct {
	Alpha             float32
	VelocityDecay     float32
	NodeCount         uint32
	LinkCount         uint32
	CenterX           float32
	CenterY           float32
	CenterStrength    float32
	ChargeStrength    float32
	DistanceMin2      float32
	DistanceMax2      float32
	CollideStrength   float32
	CollideIterations uint32
	RadialRadius      float32
	RadialX           float32
	RadialY           float32
	RadialStrength    float32
	XTarget           float32
	XStrength         float32
	YTarget           float32
	YStrength         float32
	LinkIterations    uint32
	pad               [3]float32
}

func packNodes(nodes []*layout.Node, out []nodeState) {
	for i, n := range nodes {
		s := nodeState{
			X:      float32(n.X),
			Y:      float32(n.Y),
			VX:     float32(n.VX),
			VY:     float32(n.VY),
			Radius: float32(n.Radius),
		}
		if n.FX != nil {
			s.FX = float32(*n.FX)
			s.PinX = 1
		}
		if n.FY != nil {
			s.FY = float32(*n.FY)
			s.PinY = 1
		}
		out[i] = s
	}
}

func packNode(n *layout.Node) nodeState {
	var s [1]nodeState
	packNodes([]*layout.Node{n}, s[:])
	return s[0]
}

func packLinks(links []*layout.Link, out []linkState) {
	for i, l := range links {
		out[i] = linkState{
			Source:   uint32(l.Source.Index),
			Target:   uint32(l.Target.Index),
			Distance: float32(l.Distance),
			Strength: float32(l.Strength),
			Bias:     float32(l.Bias),
		}
	}
}

func packUniforms(params sim.TickParams, nodeCount, linkCount int) uniforms {
	f := params.Forces
	u := uniforms{
		Alpha:         float32(params.Alpha),
		VelocityDecay: float32(params.VelocityDecay),
		NodeCount:     uint32(nodeCount),
	}
	if f.HasCenter {
		u.CenterX = float32(f.CenterX)
		u.CenterY = float32(f.CenterY)
		u.CenterStrength = float32(f.CenterStrength)
	}
	if f.HasCharge {
		u.ChargeStrength = float32(f.ChargeStrength)
		u.DistanceMin2 = finite32(f.DistanceMin2)
		u.DistanceMax2 = finite32(f.DistanceMax2)
	}
	if f.HasCollide {
		u.CollideStrength = float32(f.CollideStrength)
		u.CollideIterations = uint32(atLeast(f.CollideIterations, 1))
	}
	if f.HasRadial {
		u.RadialRadius = float32(f.RadialRadius)
		u.RadialX = float32(f.RadialX)
		u.RadialY = float32(f.RadialY)
		u.RadialStrength = float32(f.RadialStrength)
	}
	if f.HasX {
		u.XTarget = float32(f.XTarget)
		u.XStrength = float32(f.XStrength)
	}
	if f.HasY {
		u.YTarget = float32(f.YTarget)
		u.YStrength = float32(f.YStrength)
	}
	if f.HasLink && linkCount > 0 {
		u.LinkCount = uint32(linkCount)
		u.LinkIterations = uint32(atLeast(f.LinkIterations, 1))
	}
	return u
}

// unpackNodes copies a read-back snapshot into the shared node structs. The
// host copy is authoritative for the non-finite guard: a field that came
// back NaN or Inf keeps its previous value with the velocity zeroed.
func unpackNodes(states []nodeState, nodes []*layout.Node) {
	for i, n := range nodes {
		s := states[i]
		if x := float64(s.X); finite(x) {
			n.X = x
			if vx := float64(s.VX); finite(vx) {
				n.VX = vx
			} else {
				n.VX = 0
			}
		} else {
			n.VX = 0
		}
		if y := float64(s.Y); finite(y) {
			n.Y = y
			if vy := float64(s.VY); finite(vy) {
				n.VY = vy
			} else {
				n.VY = 0
			}
		} else {
			n.VY = 0
		}
	}
}

// finite32 converts to float32, clamping infinities to the largest finite
// value so uniforms never carry Inf across the FFI boundary.
func finite32(v float64) float32 {
	if math.IsInf(v, 1) || v > math.MaxFloat32 {
		return math.MaxFloat32
	}
	if math.IsInf(v, -1) || v < -math.MaxFloat32 {
		return -math.MaxFloat32
	}
	return float32(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}

// workgroups returns the dispatch width covering n items.
func workgroups(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// grow doubles capacity until it covers need, starting from a floor that
// keeps small graphs from thrashing buffer recreation.
func grow(cur, need int) int {
	c := cur
	if c < 256 {
		c = 256
	}
	for c < need {
		c *= 2
	}
	return c
}
