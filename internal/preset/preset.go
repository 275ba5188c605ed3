// Package preset bundles named force configurations. A preset is a plain
// value decoded from TOML or picked from the built-in table; applying one
// replaces the engine's forces for the kinds it names and leaves the rest
// alone. Zero-valued knobs keep the force's own default, which lets preset
// files stay short.
package preset

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/placement"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

// Preset is one named force configuration. Section pointers double as
// enable flags: a nil section installs nothing for that kind.
type Preset struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`

	Alpha     AlphaTuning   `toml:"alpha"`
	Placement PlacementSpec `toml:"placement"`

	Charge  *ChargeSection  `toml:"charge"`
	Link    *LinkSection    `toml:"link"`
	Center  *CenterSection  `toml:"center"`
	Collide *CollideSection `toml:"collide"`
	Radial  *RadialSection  `toml:"radial"`
	AxisX   *AxisSection    `toml:"axis_x"`
	AxisY   *AxisSection    `toml:"axis_y"`
}

// AlphaTuning adjusts the cooling schedule. Zero fields keep the engine
// defaults.
type AlphaTuning struct {
	Decay         float64 `toml:"decay"`
	Min           float64 `toml:"min"`
	Target        float64 `toml:"target"`
	VelocityDecay float64 `toml:"velocity_decay"`
}

// PlacementSpec names the initial-position strategy for unseeded nodes.
type PlacementSpec struct {
	Strategy string `toml:"strategy"`
	Seed     int64  `toml:"seed"`
}

type ChargeSection struct {
	Strength    float64 `toml:"strength"`
	DistanceMin float64 `toml:"distance_min"`
	DistanceMax float64 `toml:"distance_max"`
	Theta       float64 `toml:"theta"`
}

type LinkSection struct {
	Distance   float64               `toml:"distance"`
	Iterations int                   `toml:"iterations"`
	Semantic   *layout.SemanticRules `toml:"semantic"`
}

type CenterSection struct {
	X        float64 `toml:"x"`
	Y        float64 `toml:"y"`
	Strength float64 `toml:"strength"`
}

type CollideSection struct {
	Strength   float64 `toml:"strength"`
	Iterations int     `toml:"iterations"`
	// Padding widens every node's collision radius by a constant margin.
	Padding float64 `toml:"padding"`
}

type RadialSection struct {
	Radius   float64 `toml:"radius"`
	X        float64 `toml:"x"`
	Y        float64 `toml:"y"`
	Strength float64 `toml:"strength"`
}

type AxisSection struct {
	Target   float64 `toml:"target"`
	Strength float64 `toml:"strength"`
}

var builtins = map[string]Preset{
	"default": {
		Name:        "default",
		Description: "general-purpose layout: repulsion, springs and centering",
		Charge:      &ChargeSection{Strength: -30},
		Link:        &LinkSection{},
		Center:      &CenterSection{Strength: 1},
	},
	"clusters": {
		Name:        "clusters",
		Description: "separates groups: stronger repulsion, stretched cross-group links, collision",
		Charge:      &ChargeSection{Strength: -60},
		Link: &LinkSection{
			Distance:   40,
			Iterations: 2,
			Semantic: &layout.SemanticRules{
				Default:            layout.LinkTune{Distance: 1, Strength: 1},
				CrossGroupDistance: 2.5,
			},
		},
		Center:  &CenterSection{Strength: 1},
		Collide: &CollideSection{Strength: 0.7, Padding: 2},
	},
	"radial": {
		Name:        "radial",
		Description: "rings nodes around the origin at a fixed radius",
		Charge:      &ChargeSection{Strength: -40},
		Link:        &LinkSection{},
		Radial:      &RadialSection{Radius: 250, Strength: 0.8},
	},
	"lattice": {
		Name:        "lattice",
		Description: "tight grid-like packing for mostly regular graphs",
		Placement:   PlacementSpec{Strategy: "grid"},
		Charge:      &ChargeSection{Strength: -10, DistanceMax: 80},
		Link:        &LinkSection{Distance: 24, Iterations: 3},
		Collide:     &CollideSection{Strength: 1},
		AxisX:       &AxisSection{Strength: 0.05},
		AxisY:       &AxisSection{Strength: 0.05},
	},
}

// Builtin returns a copy of a named built-in preset. Mutating the copy
// never leaks back into the table.
func Builtin(name string) (Preset, bool) {
	p, ok := builtins[name]
	if !ok {
		return Preset{}, false
	}
	return p.clone(), true
}

// Names lists the built-in presets in stable order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the preset new simulations start from.
func Default() Preset {
	return builtins["default"].clone()
}

// LoadFile reads one preset from a TOML file. Unknown keys are errors so a
// typo in a hand-edited file cannot silently drop a force.
func LoadFile(path string) (Preset, error) {
	var p Preset
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Preset{}, fmt.Errorf("decode preset %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Preset{}, fmt.Errorf("preset %s: unknown keys %v", path, undecoded)
	}
	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// Resolve finds a preset by name. A <name>.toml under dir shadows a
// builtin of the same name, matching what the presets API reports. The
// boolean is false when the name is unknown in both places.
func Resolve(name, dir string) (Preset, bool, error) {
	if dir != "" {
		path := filepath.Join(dir, name+".toml")
		p, err := LoadFile(path)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Preset{}, false, err
		}
	}
	if p, ok := builtins[name]; ok {
		return p.clone(), true, nil
	}
	return Preset{}, false, nil
}

// Apply installs the preset on the engine. Forces are registered in the
// order the tick evaluates them: charge, radial, axes, center, link,
// collision, matching the device pass order so both backends see the same
// intra-tick sequencing.
func (p Preset) Apply(e *sim.Engine) error {
	if p.Alpha.Decay > 0 {
		e.SetAlphaDecay(p.Alpha.Decay)
	}
	if p.Alpha.Min > 0 {
		e.SetAlphaMin(p.Alpha.Min)
	}
	if p.Alpha.Target > 0 {
		e.SetAlphaTarget(p.Alpha.Target)
	}
	if p.Alpha.VelocityDecay > 0 {
		e.SetVelocityDecay(p.Alpha.VelocityDecay)
	}
	if p.Placement.Strategy != "" {
		seed := p.Placement.Seed
		if seed == 0 {
			seed = int64(e.Seed())
		}
		e.SetPlacement(placement.ByName(p.Placement.Strategy, seed))
	}

	if c := p.Charge; c != nil {
		f := layout.NewManyBody()
		if c.Strength != 0 {
			f.SetStrength(c.Strength)
		}
		if c.DistanceMin > 0 {
			f.SetDistanceMin(c.DistanceMin)
		}
		if c.DistanceMax > 0 {
			f.SetDistanceMax(c.DistanceMax)
		}
		if c.Theta > 0 {
			f.SetTheta(c.Theta)
		}
		if err := e.SetForce(layout.KindCharge, f); err != nil {
			return fmt.Errorf("charge: %w", err)
		}
	}
	if r := p.Radial; r != nil {
		f := layout.NewRadial(r.Radius, r.X, r.Y)
		if r.Strength > 0 {
			f.SetStrength(r.Strength)
		}
		if err := e.SetForce(layout.KindRadial, f); err != nil {
			return fmt.Errorf("radial: %w", err)
		}
	}
	if a := p.AxisX; a != nil {
		f := layout.NewAxisX(a.Target)
		if a.Strength > 0 {
			f.SetStrength(a.Strength)
		}
		if err := e.SetForce(layout.KindAxisX, f); err != nil {
			return fmt.Errorf("axis_x: %w", err)
		}
	}
	if a := p.AxisY; a != nil {
		f := layout.NewAxisY(a.Target)
		if a.Strength > 0 {
			f.SetStrength(a.Strength)
		}
		if err := e.SetForce(layout.KindAxisY, f); err != nil {
			return fmt.Errorf("axis_y: %w", err)
		}
	}
	if c := p.Center; c != nil {
		f := layout.NewCenter(c.X, c.Y)
		if c.Strength > 0 {
			f.SetStrength(c.Strength)
		}
		if err := e.SetForce(layout.KindCenter, f); err != nil {
			return fmt.Errorf("center: %w", err)
		}
	}
	if l := p.Link; l != nil {
		f := layout.NewLinkForce(nil)
		if l.Distance > 0 {
			f.SetDistance(l.Distance)
		}
		if l.Iterations > 0 {
			f.SetIterations(l.Iterations)
		}
		if l.Semantic != nil {
			f.SetSemanticRules(l.Semantic)
		}
		if err := e.SetForce(layout.KindLink, f); err != nil {
			return fmt.Errorf("link: %w", err)
		}
	}
	if c := p.Collide; c != nil {
		f := layout.NewCollide()
		if c.Strength > 0 {
			f.SetStrength(c.Strength)
		}
		if c.Iterations > 0 {
			f.SetIterations(c.Iterations)
		}
		if c.Padding > 0 {
			pad := c.Padding
			f.SetRadiusFunc(func(n *layout.Node) float64 { return n.Radius + pad })
		}
		if err := e.SetForce(layout.KindCollision, f); err != nil {
			return fmt.Errorf("collide: %w", err)
		}
	}
	return nil
}

// Validate flags questionable values without rejecting them. The engine is
// permissive at apply time; callers decide what to do with the warnings.
func (p Preset) Validate() []string {
	var warnings []string
	add := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if p.Alpha.Decay < 0 || p.Alpha.Decay > 1 {
		add("alpha.decay %g outside [0, 1]", p.Alpha.Decay)
	}
	if p.Alpha.VelocityDecay < 0 || p.Alpha.VelocityDecay > 1 {
		add("alpha.velocity_decay %g outside [0, 1]", p.Alpha.VelocityDecay)
	}
	if p.Alpha.Min < 0 {
		add("alpha.min %g is negative", p.Alpha.Min)
	}
	if c := p.Charge; c != nil {
		if math.IsNaN(c.Strength) {
			add("charge.strength is NaN")
		}
		if c.Theta < 0 || c.Theta > 2 {
			add("charge.theta %g outside [0, 2]", c.Theta)
		}
		if c.DistanceMin < 0 {
			add("charge.distance_min %g is negative", c.DistanceMin)
		}
		if c.DistanceMax != 0 && c.DistanceMax < c.DistanceMin {
			add("charge.distance_max %g below distance_min %g", c.DistanceMax, c.DistanceMin)
		}
	}
	if l := p.Link; l != nil {
		if l.Distance != 0 && (l.Distance < 10 || l.Distance > 500) {
			add("link.distance %g outside [10, 500]", l.Distance)
		}
		if l.Iterations < 0 {
			add("link.iterations %d is not positive", l.Iterations)
		}
	}
	if c := p.Collide; c != nil {
		if math.IsNaN(c.Strength) {
			add("collide.strength is NaN")
		}
		if c.Strength < 0 || c.Strength > 1 {
			add("collide.strength %g outside [0, 1]", c.Strength)
		}
		if c.Iterations < 0 {
			add("collide.iterations %d is not positive", c.Iterations)
		}
		if c.Padding < 0 {
			add("collide.padding %g is negative", c.Padding)
		}
	}
	if r := p.Radial; r != nil {
		if math.IsNaN(r.Strength) {
			add("radial.strength is NaN")
		}
		if r.Radius < 0 {
			add("radial.radius %g is negative", r.Radius)
		}
	}
	if a := p.AxisX; a != nil && math.IsNaN(a.Strength) {
		add("axis_x.strength is NaN")
	}
	if a := p.AxisY; a != nil && math.IsNaN(a.Strength) {
		add("axis_y.strength is NaN")
	}
	if s := p.Placement.Strategy; s != "" {
		switch s {
		case "phyllotaxis", "random", "grid", "noise":
		default:
			add("placement.strategy %q is not a known strategy", s)
		}
	}
	return warnings
}

func (p Preset) clone() Preset {
	c := p
	if p.Charge != nil {
		v := *p.Charge
		c.Charge = &v
	}
	if p.Link != nil {
		v := *p.Link
		if p.Link.Semantic != nil {
			s := *p.Link.Semantic
			if p.Link.Semantic.ByType != nil {
				s.ByType = make(map[string]layout.LinkTune, len(p.Link.Semantic.ByType))
				for k, tune := range p.Link.Semantic.ByType {
					s.ByType[k] = tune
				}
			}
			v.Semantic = &s
		}
		c.Link = &v
	}
	if p.Center != nil {
		v := *p.Center
		c.Center = &v
	}
	if p.Collide != nil {
		v := *p.Collide
		c.Collide = &v
	}
	if p.Radial != nil {
		v := *p.Radial
		c.Radial = &v
	}
	if p.AxisX != nil {
		v := *p.AxisX
		c.AxisX = &v
	}
	if p.AxisY != nil {
		v := *p.AxisY
		c.AxisY = &v
	}
	return c
}
