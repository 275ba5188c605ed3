package gpu

import (
	"math"
	"testing"
	"unsafe"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// The WGSL structs are hand-mirrored, so the Go side must match the strides
// the shader assumes byte for byte.
func TestDeviceStructSizes(t *testing.T) {
	if got := unsafe.Sizeof(nodeState{}); got != nodeStride {
		t.Fatalf("nodeState size = %d, want %d", got, nodeStride)
	}
	if got := unsafe.Sizeof(linkState{}); got != linkStride {
		t.Fatalf("linkState size = %d, want %d", got, linkStride)
	}
	if got := unsafe.Sizeof(uniforms{}); got != uniformSize {
		t.Fatalf("uniforms size = %d, want %d", got, uniformSize)
	}
}

func TestPackNodesCarriesPins(t *testing.T) {
	free := &layout.Node{ID: "free", X: 1.5, Y: -2.5, VX: 0.25, VY: -0.75, Radius: 6}
	pinned := &layout.Node{ID: "pinned", X: 10, Y: 20, Radius: 3}
	pinned.Pin(40, 50)
	halfX := 7.5
	half := &layout.Node{ID: "half", X: 7.5, Y: 9, FX: &halfX}

	out := make([]nodeState, 3)
	packNodes([]*layout.Node{free, pinned, half}, out)

	if out[0].PinX != 0 || out[0].PinY != 0 {
		t.Fatalf("free node carries pin flags: %+v", out[0])
	}
	if out[0].X != 1.5 || out[0].Y != -2.5 || out[0].VX != 0.25 || out[0].VY != -0.75 {
		t.Fatalf("free node state mismatch: %+v", out[0])
	}
	if out[0].Radius != 6 {
		t.Fatalf("radius = %v, want 6", out[0].Radius)
	}
	if out[1].PinX != 1 || out[1].PinY != 1 {
		t.Fatalf("pinned node lost pin flags: %+v", out[1])
	}
	if out[1].FX != 40 || out[1].FY != 50 {
		t.Fatalf("pin target = (%v, %v), want (40, 50)", out[1].FX, out[1].FY)
	}
	if out[2].PinX != 1 || out[2].PinY != 0 {
		t.Fatalf("single-axis pin flags = (%v, %v), want (1, 0)", out[2].PinX, out[2].PinY)
	}
	if out[2].FX != 7.5 || out[2].FY != 0 {
		t.Fatalf("single-axis pin target = (%v, %v), want (7.5, 0)", out[2].FX, out[2].FY)
	}
}

func TestPackLinksUsesNodeIndices(t *testing.T) {
	src := &layout.Node{ID: "a", Index: 0}
	dst := &layout.Node{ID: "b", Index: 3}
	links := []*layout.Link{{Source: src, Target: dst, Distance: 30, Strength: 0.5, Bias: 0.25}}

	out := make([]linkState, 1)
	packLinks(links, out)

	want := linkState{Source: 0, Target: 3, Distance: 30, Strength: 0.5, Bias: 0.25}
	if out[0] != want {
		t.Fatalf("packed link = %+v, want %+v", out[0], want)
	}
}

func TestPackUniformsZeroesInactiveForces(t *testing.T) {
	params := sim.TickParams{Alpha: 0.5, VelocityDecay: 0.4}
	params.Forces.HasCharge = true
	params.Forces.ChargeStrength = -30
	params.Forces.DistanceMin2 = 1
	params.Forces.DistanceMax2 = math.Inf(1)

	u := packUniforms(params, 7, 0)

	if u.Alpha != 0.5 || u.VelocityDecay != 0.4 {
		t.Fatalf("scalars = (%v, %v), want (0.5, 0.4)", u.Alpha, u.VelocityDecay)
	}
	if u.NodeCount != 7 {
		t.Fatalf("node count = %d, want 7", u.NodeCount)
	}
	if u.ChargeStrength != -30 || u.DistanceMin2 != 1 {
		t.Fatalf("charge block = %+v", u)
	}
	if u.DistanceMax2 != math.MaxFloat32 {
		t.Fatalf("unbounded distance max = %v, want MaxFloat32", u.DistanceMax2)
	}
	if u.CenterStrength != 0 || u.CollideStrength != 0 || u.RadialStrength != 0 ||
		u.XStrength != 0 || u.YStrength != 0 {
		t.Fatalf("inactive force block carries a strength: %+v", u)
	}
	if u.LinkCount != 0 || u.LinkIterations != 0 {
		t.Fatalf("link block set without links: %+v", u)
	}
}

func TestPackUniformsGatesLinksOnUploadedEdges(t *testing.T) {
	params := sim.TickParams{Alpha: 1}
	params.Forces.HasLink = true
	params.Forces.LinkIterations = 0

	if u := packUniforms(params, 4, 0); u.LinkCount != 0 {
		t.Fatalf("link count = %d with no edges uploaded, want 0", u.LinkCount)
	}
	u := packUniforms(params, 4, 9)
	if u.LinkCount != 9 {
		t.Fatalf("link count = %d, want 9", u.LinkCount)
	}
	if u.LinkIterations != 1 {
		t.Fatalf("link iterations = %d, want floor of 1", u.LinkIterations)
	}

	params.Forces.LinkIterations = 3
	if u := packUniforms(params, 4, 9); u.LinkIterations != 3 {
		t.Fatalf("link iterations = %d, want 3", u.LinkIterations)
	}
}

func TestPackUniformsCollideIterationFloor(t *testing.T) {
	params := sim.TickParams{Alpha: 1}
	params.Forces.HasCollide = true
	params.Forces.CollideStrength = 0.7
	params.Forces.CollideIterations = 0

	u := packUniforms(params, 2, 0)
	if u.CollideIterations != 1 {
		t.Fatalf("collide iterations = %d, want floor of 1", u.CollideIterations)
	}
	if u.CollideStrength != float32(0.7) {
		t.Fatalf("collide strength = %v, want 0.7", u.CollideStrength)
	}
}

func TestUnpackNodesSanitizesNonFinite(t *testing.T) {
	nodes := []*layout.Node{
		{ID: "a", X: 1, Y: 2, VX: 3, VY: 4},
		{ID: "b", X: 5, Y: 6, VX: 7, VY: 8},
		{ID: "c", X: 9, Y: 10, VX: 11, VY: 12},
	}
	states := []nodeState{
		{X: 100, Y: 200, VX: -1, VY: -2},
		{X: float32(math.NaN()), Y: 60, VX: 1, VY: 1},
		{X: 70, Y: 80, VX: float32(math.Inf(1)), VY: 2},
	}

	unpackNodes(states, nodes)

	if nodes[0].X != 100 || nodes[0].Y != 200 || nodes[0].VX != -1 || nodes[0].VY != -2 {
		t.Fatalf("finite state not copied: %+v", nodes[0])
	}
	if nodes[1].X != 5 {
		t.Fatalf("NaN position overwrote host value: x = %v", nodes[1].X)
	}
	if nodes[1].VX != 0 {
		t.Fatalf("velocity behind a NaN position = %v, want 0", nodes[1].VX)
	}
	if nodes[1].Y != 60 || nodes[1].VY != 1 {
		t.Fatalf("healthy axis rejected: %+v", nodes[1])
	}
	if nodes[2].X != 70 {
		t.Fatalf("finite position rejected: x = %v", nodes[2].X)
	}
	if nodes[2].VX != 0 {
		t.Fatalf("infinite velocity kept: vx = %v", nodes[2].VX)
	}
}

func TestWorkgroupsCoverAllItems(t *testing.T) {
	cases := []struct {
		n    int
		want uint32
	}{
		{0, 0},
		{-3, 0},
		{1, 1},
		{63, 1},
		{64, 1},
		{65, 2},
		{4096, 64},
	}
	for _, tc := range cases {
		if got := workgroups(tc.n); got != tc.want {
			t.Errorf("workgroups(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}

func TestGrowDoublesFromFloor(t *testing.T) {
	cases := []struct {
		cur, need, want int
	}{
		{0, 1, 256},
		{0, 256, 256},
		{0, 257, 512},
		{256, 257, 512},
		{512, 4000, 4096},
		{1024, 100, 1024},
	}
	for _, tc := range cases {
		if got := grow(tc.cur, tc.need); got != tc.want {
			t.Errorf("grow(%d, %d) = %d, want %d", tc.cur, tc.need, got, tc.want)
		}
	}
}
