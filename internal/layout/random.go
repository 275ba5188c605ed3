package layout

import "math"

var nan = math.NaN()

// Linear congruential generator constants (Numerical Recipes). A tiny
// platform-stable source keeps tick sequences reproducible for a given
// seed, which the jitter below depends on.
const (
	lcgA = 1664525
	lcgC = 1013904223
	lcgM = 1 << 32
)

// Rand is the deterministic random source shared by all forces of one
// simulation. Not safe for concurrent use; the engine serializes ticks.
type Rand struct {
	state uint64
}

// NewRand returns a source with the given seed.
func NewRand(seed uint64) *Rand {
	return &Rand{state: seed % lcgM}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	r.state = (lcgA*r.state + lcgC) % lcgM
	return float64(r.state) / float64(lcgM)
}

// Jiggle returns a tiny signed offset used to separate exactly coincident
// points before a direction is computed, so no force ever divides by zero.
func Jiggle(r *Rand) float64 {
	return (r.Float64() - 0.5) * 1e-6
}
