package sim

import (
	"math"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/layout"
)

func TestIntegrateAppliesFriction(t *testing.T) {
	n := &layout.Node{ID: "a", X: 100, VX: 10, VY: -10}
	integrate([]*layout.Node{n}, 0.4)

	if math.Abs(n.VX-6) > 1e-12 {
		t.Errorf("vx = %v, expected 6 after 0.4 friction", n.VX)
	}
	if math.Abs(n.X-106) > 1e-12 {
		t.Errorf("x = %v, expected 106", n.X)
	}
	if math.Abs(n.VY+6) > 1e-12 {
		t.Errorf("vy = %v, expected -6", n.VY)
	}
}

func TestIntegrateClampsPinnedAxes(t *testing.T) {
	fx := 50.0
	n := &layout.Node{ID: "a", X: 10, Y: 10, VX: 99, VY: 2, FX: &fx}
	integrate([]*layout.Node{n}, 0.4)

	if n.X != 50 {
		t.Errorf("pinned x = %v, expected exactly 50", n.X)
	}
	if n.VX != 0 {
		t.Errorf("pinned vx = %v, expected 0", n.VX)
	}
	// The y axis is free and integrates normally.
	if math.Abs(n.Y-11.2) > 1e-12 {
		t.Errorf("free y = %v, expected 11.2", n.Y)
	}
}

func TestIntegrateRepairsNonFiniteVelocity(t *testing.T) {
	n := &layout.Node{ID: "a", X: 5, Y: 5, VX: math.NaN(), VY: math.Inf(1)}
	integrate([]*layout.Node{n}, 0.4)

	if n.VX != 0 || n.VY != 0 {
		t.Errorf("velocities = (%v, %v), expected both repaired to 0", n.VX, n.VY)
	}
	if n.X != 5 || n.Y != 5 {
		t.Errorf("position = (%v, %v), expected unchanged (5, 5)", n.X, n.Y)
	}
}

func TestIntegrateKeepsLastFinitePosition(t *testing.T) {
	// The velocity is finite but the position update would overflow.
	n := &layout.Node{ID: "a", X: math.MaxFloat64, VX: math.MaxFloat64}
	integrate([]*layout.Node{n}, 0.4)

	if n.X != math.MaxFloat64 {
		t.Errorf("x = %v, expected the last finite position to survive", n.X)
	}
	if n.VX != 0 {
		t.Errorf("vx = %v, expected 0 after the rejected update", n.VX)
	}
}

func TestCPUBackendSnapshots(t *testing.T) {
	nodes := []*layout.Node{
		{ID: "a", Index: 0, X: 1, Y: 2, VX: 3, VY: 4},
		{ID: "b", Index: 1, X: 5, Y: 6, VX: 7, VY: 8},
	}
	b := NewCPUBackend(layout.NewRegistry())
	if err := b.SetNodes(nodes); err != nil {
		t.Fatalf("SetNodes: %v", err)
	}

	pos, err := b.Positions()
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(pos) != 2 || pos[0] != (Position{ID: "a", X: 1, Y: 2}) || pos[1] != (Position{ID: "b", X: 5, Y: 6}) {
		t.Errorf("unexpected positions: %+v", pos)
	}

	vel, err := b.Velocities()
	if err != nil {
		t.Fatalf("Velocities: %v", err)
	}
	if len(vel) != 2 || vel[0] != (Velocity{ID: "a", VX: 3, VY: 4}) || vel[1] != (Velocity{ID: "b", VX: 7, VY: 8}) {
		t.Errorf("unexpected velocities: %+v", vel)
	}
}

func TestCPUBackendTickRunsForcesThenIntegrates(t *testing.T) {
	reg := layout.NewRegistry()
	ax := layout.NewAxisX(100)
	ax.SetStrength(1)
	reg.Set(layout.KindAxisX, ax)

	nodes := []*layout.Node{{ID: "a", X: 0, Y: 0}}
	reg.InitializeAll(nodes, layout.NewRand(1))

	b := NewCPUBackend(reg)
	if err := b.SetNodes(nodes); err != nil {
		t.Fatalf("SetNodes: %v", err)
	}
	if err := b.Tick(TickParams{Alpha: 1, VelocityDecay: 0.4}); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// Force contributes vx = 100, friction scales it to 60, position moves.
	if math.Abs(nodes[0].VX-60) > 1e-12 {
		t.Errorf("vx = %v, expected 60", nodes[0].VX)
	}
	if math.Abs(nodes[0].X-60) > 1e-12 {
		t.Errorf("x = %v, expected 60", nodes[0].X)
	}
}
