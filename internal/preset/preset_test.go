package preset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/sim"
)

func TestBuiltinNames(t *testing.T) {
	want := []string{"clusters", "default", "lattice", "radial"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	for _, name := range want {
		p, ok := Builtin(name)
		if !ok {
			t.Fatalf("Builtin(%q) missing", name)
		}
		if p.Name != name {
			t.Errorf("Builtin(%q).Name = %q", name, p.Name)
		}
		if p.Description == "" {
			t.Errorf("Builtin(%q) has no description", name)
		}
	}
	if _, ok := Builtin("bogus"); ok {
		t.Fatal("Builtin(\"bogus\") should not exist")
	}
}

func TestBuiltinCopiesAreIsolated(t *testing.T) {
	a, _ := Builtin("default")
	a.Charge.Strength = 999
	a.Center.Strength = 999

	b, _ := Builtin("default")
	if b.Charge.Strength != -30 {
		t.Fatalf("builtin charge strength mutated to %v", b.Charge.Strength)
	}
	if b.Center.Strength != 1 {
		t.Fatalf("builtin center strength mutated to %v", b.Center.Strength)
	}

	c, _ := Builtin("clusters")
	c.Link.Semantic.CrossGroupDistance = 0
	d, _ := Builtin("clusters")
	if d.Link.Semantic.CrossGroupDistance != 2.5 {
		t.Fatalf("builtin semantic rules mutated to %v", d.Link.Semantic.CrossGroupDistance)
	}
}

func TestApplyInstallsForces(t *testing.T) {
	e := sim.New("preset-apply")
	defer e.Release()

	p, _ := Builtin("clusters")
	if err := p.Apply(e); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	kinds := map[layout.Kind]bool{}
	for _, k := range e.ForceKinds() {
		kinds[k] = true
	}
	for _, k := range []layout.Kind{layout.KindCharge, layout.KindCenter, layout.KindLink, layout.KindCollision} {
		if !kinds[k] {
			t.Errorf("kind %v not installed", k)
		}
	}
	if kinds[layout.KindRadial] {
		t.Error("radial installed by a preset that does not name it")
	}

	mb, ok := e.Force(layout.KindCharge).(*layout.ManyBody)
	if !ok {
		t.Fatal("charge slot does not hold a ManyBody")
	}
	if mb.Strength() != -60 {
		t.Fatalf("charge strength = %v, want -60", mb.Strength())
	}
	lf, ok := e.Force(layout.KindLink).(*layout.LinkForce)
	if !ok {
		t.Fatal("link slot does not hold a LinkForce")
	}
	if lf.Distance() != 40 || lf.Iterations() != 2 {
		t.Fatalf("link tuning = (%v, %d), want (40, 2)", lf.Distance(), lf.Iterations())
	}
}

func TestApplyTunesAlphaAndPlacement(t *testing.T) {
	e := sim.New("preset-alpha")
	defer e.Release()

	p := Preset{
		Alpha:     AlphaTuning{Decay: 0.5, Min: 0.01, VelocityDecay: 0.2},
		Placement: PlacementSpec{Strategy: "grid"},
	}
	if err := p.Apply(e); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if e.AlphaDecay() != 0.5 {
		t.Fatalf("alpha decay = %v, want 0.5", e.AlphaDecay())
	}
	if e.AlphaMin() != 0.01 {
		t.Fatalf("alpha min = %v, want 0.01", e.AlphaMin())
	}
	if e.VelocityDecay() != 0.2 {
		t.Fatalf("velocity decay = %v, want 0.2", e.VelocityDecay())
	}
	if got := e.Placement().Name(); got != "grid" {
		t.Fatalf("placement = %q, want grid", got)
	}
}

func TestLoadFile(t *testing.T) {
	body := `
name = "spread"
description = "wide layout for dense graphs"

[alpha]
velocity_decay = 0.3

[charge]
strength = -45.0
theta = 0.8

[link]
distance = 60.0
iterations = 2

[link.semantic]
cross_group_distance = 2.0

[link.semantic.by_type]
follows = { distance = 1.5, strength = 0.5 }
`
	path := filepath.Join(t.TempDir(), "spread.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write preset file: %v", err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "spread" {
		t.Fatalf("name = %q, want spread", p.Name)
	}
	if p.Alpha.VelocityDecay != 0.3 {
		t.Fatalf("velocity decay = %v, want 0.3", p.Alpha.VelocityDecay)
	}
	if p.Charge == nil || p.Charge.Strength != -45 || p.Charge.Theta != 0.8 {
		t.Fatalf("charge section = %+v", p.Charge)
	}
	if p.Link == nil || p.Link.Distance != 60 || p.Link.Iterations != 2 {
		t.Fatalf("link section = %+v", p.Link)
	}
	if p.Link.Semantic == nil || p.Link.Semantic.CrossGroupDistance != 2.0 {
		t.Fatalf("semantic rules = %+v", p.Link.Semantic)
	}
	tune, ok := p.Link.Semantic.ByType["follows"]
	if !ok || tune.Distance != 1.5 || tune.Strength != 0.5 {
		t.Fatalf("follows tune = %+v (present %v)", tune, ok)
	}
	if p.Collide != nil || p.Radial != nil {
		t.Fatal("sections absent from the file were materialized")
	}
}

func TestLoadFileDefaultsNameFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbital.toml")
	if err := os.WriteFile(path, []byte("[radial]\nradius = 120.0\n"), 0o644); err != nil {
		t.Fatalf("write preset file: %v", err)
	}
	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "orbital" {
		t.Fatalf("name = %q, want orbital", p.Name)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.toml")
	if err := os.WriteFile(path, []byte("[charge]\nstrengh = -3.0\n"), 0o644); err != nil {
		t.Fatalf("write preset file: %v", err)
	}
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("LoadFile error = %v, want unknown keys", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clusters.toml"),
		[]byte("description = \"file override\"\n[charge]\nstrength = -99.0\n"), 0o644); err != nil {
		t.Fatalf("write preset file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"),
		[]byte("charge = \"not a table\"\n"), 0o644); err != nil {
		t.Fatalf("write preset file: %v", err)
	}

	t.Run("file shadows builtin", func(t *testing.T) {
		p, ok, err := Resolve("clusters", dir)
		if err != nil || !ok {
			t.Fatalf("Resolve = ok %v, err %v", ok, err)
		}
		if p.Charge == nil || p.Charge.Strength != -99 {
			t.Fatalf("builtin won over the file: %+v", p.Charge)
		}
	})

	t.Run("builtin fallback", func(t *testing.T) {
		p, ok, err := Resolve("radial", dir)
		if err != nil || !ok {
			t.Fatalf("Resolve = ok %v, err %v", ok, err)
		}
		if p.Radial == nil {
			t.Fatal("expected the builtin radial preset")
		}
	})

	t.Run("builtin without dir", func(t *testing.T) {
		if _, ok, err := Resolve("default", ""); err != nil || !ok {
			t.Fatalf("Resolve = ok %v, err %v", ok, err)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		if _, ok, err := Resolve("does-not-exist", dir); err != nil || ok {
			t.Fatalf("Resolve = ok %v, err %v, want miss", ok, err)
		}
	})

	t.Run("undecodable file", func(t *testing.T) {
		if _, _, err := Resolve("broken", dir); err == nil {
			t.Fatal("expected decode error for broken preset file")
		}
	})
}

func TestValidateFlagsSuspectValues(t *testing.T) {
	cases := []struct {
		name   string
		preset Preset
		want   string
	}{
		{
			name:   "theta out of range",
			preset: Preset{Charge: &ChargeSection{Theta: 3}},
			want:   "charge.theta",
		},
		{
			name:   "link distance too short",
			preset: Preset{Link: &LinkSection{Distance: 5}},
			want:   "link.distance",
		},
		{
			name:   "link distance too long",
			preset: Preset{Link: &LinkSection{Distance: 900}},
			want:   "link.distance",
		},
		{
			name:   "negative iterations",
			preset: Preset{Link: &LinkSection{Iterations: -1}},
			want:   "link.iterations",
		},
		{
			name:   "nan strength",
			preset: Preset{Charge: &ChargeSection{Strength: math.NaN()}},
			want:   "charge.strength is NaN",
		},
		{
			name:   "collide strength above one",
			preset: Preset{Collide: &CollideSection{Strength: 1.5}},
			want:   "collide.strength",
		},
		{
			name:   "unknown placement",
			preset: Preset{Placement: PlacementSpec{Strategy: "spiral-of-doom"}},
			want:   "placement.strategy",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			warnings := tc.preset.Validate()
			found := false
			for _, w := range warnings {
				if strings.Contains(w, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("warnings %v do not mention %q", warnings, tc.want)
			}
		})
	}
}

func TestValidateAcceptsBuiltins(t *testing.T) {
	for _, name := range Names() {
		p, _ := Builtin(name)
		if warnings := p.Validate(); len(warnings) != 0 {
			t.Errorf("builtin %q has warnings: %v", name, warnings)
		}
	}
}
