// Package placement provides the initial-position strategies used to seed
// nodes that arrive without coordinates. A good seed keeps early ticks from
// exploding: all strategies guarantee distinct, finite positions.
package placement

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Strategy produces one position per node index for a set of n nodes.
type Strategy interface {
	Name() string
	Positions(n int) [][2]float64
}

// Phyllotaxis arranges nodes on a sunflower-seed spiral: radius grows with
// the square root of the index, the angle steps by the golden angle. The
// default strategy; dense near the origin, collision-free, deterministic.
type Phyllotaxis struct {
	// Radius scales the spiral; the i-th node sits at Radius*sqrt(0.5+i).
	Radius float64
}

// NewPhyllotaxis returns the spiral with the conventional base radius 10.
func NewPhyllotaxis() *Phyllotaxis {
	return &Phyllotaxis{Radius: 10}
}

func (p *Phyllotaxis) Name() string { return "phyllotaxis" }

func (p *Phyllotaxis) Positions(n int) [][2]float64 {
	// math has no Sqrt5 constant; √5 = 2·Phi − 1 keeps this exact and constant.
	const goldenAngle = math.Pi * (3 - (2*math.Phi - 1))
	base := p.Radius
	if base <= 0 {
		base = 10
	}
	out := make([][2]float64, n)
	for i := range out {
		radius := base * math.Sqrt(0.5+float64(i))
		angle := float64(i) * goldenAngle
		out[i] = [2]float64{radius * math.Cos(angle), radius * math.Sin(angle)}
	}
	return out
}

// Random scatters nodes uniformly over a square extent. Seeded, so a given
// graph always starts from the same cloud.
type Random struct {
	Seed   int64
	Extent float64
}

// NewRandom returns a seeded uniform scatter over a 1000x1000 extent.
func NewRandom(seed int64) *Random {
	return &Random{Seed: seed, Extent: 1000}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Positions(n int) [][2]float64 {
	extent := r.Extent
	if extent <= 0 {
		extent = 1000
	}
	rng := rand.New(rand.NewSource(r.Seed))
	out := make([][2]float64, n)
	for i := range out {
		out[i] = [2]float64{
			(rng.Float64() - 0.5) * extent,
			(rng.Float64() - 0.5) * extent,
		}
	}
	return out
}

// Grid lays nodes on a centered square lattice. Useful as a neutral start
// for lattice-like graphs where the spiral's density gradient fights the
// link structure.
type Grid struct {
	Spacing float64
}

// NewGrid returns a lattice with spacing 40.
func NewGrid() *Grid {
	return &Grid{Spacing: 40}
}

func (g *Grid) Name() string { return "grid" }

func (g *Grid) Positions(n int) [][2]float64 {
	spacing := g.Spacing
	if spacing <= 0 {
		spacing = 40
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	if cols == 0 {
		return nil
	}
	offset := float64(cols-1) / 2
	out := make([][2]float64, n)
	for i := range out {
		row := i / cols
		col := i % cols
		out[i] = [2]float64{
			(float64(col) - offset) * spacing,
			(float64(row) - offset) * spacing,
		}
	}
	return out
}

// Noise is a lattice displaced by smooth simplex noise: organic-looking
// clumps without the pathological overlaps of pure random placement.
type Noise struct {
	Seed    int64
	Spacing float64
	// Jitter scales the displacement; 0 picks the default of one spacing.
	Jitter float64
}

// NewNoise returns a noise-displaced lattice.
func NewNoise(seed int64) *Noise {
	return &Noise{Seed: seed, Spacing: 40}
}

func (s *Noise) Name() string { return "noise" }

func (s *Noise) Positions(n int) [][2]float64 {
	spacing := s.Spacing
	if spacing <= 0 {
		spacing = 40
	}
	jitter := s.Jitter
	if jitter <= 0 {
		jitter = spacing
	}

	grid := (&Grid{Spacing: spacing}).Positions(n)
	noise := opensimplex.New(s.Seed)
	const frequency = 0.05
	for i := range grid {
		x, y := grid[i][0], grid[i][1]
		// Two decorrelated noise reads per node; the offset on the second
		// read keeps dx and dy independent.
		dx := noise.Eval2(x*frequency, y*frequency)
		dy := noise.Eval2(x*frequency+137.5, y*frequency-91.3)
		grid[i][0] = x + dx*jitter
		grid[i][1] = y + dy*jitter
	}
	return grid
}

// ByName resolves a strategy identifier, defaulting to phyllotaxis for
// unknown names so config typos degrade gracefully.
func ByName(name string, seed int64) Strategy {
	switch name {
	case "random":
		return NewRandom(seed)
	case "grid":
		return NewGrid()
	case "noise":
		return NewNoise(seed)
	default:
		return NewPhyllotaxis()
	}
}
