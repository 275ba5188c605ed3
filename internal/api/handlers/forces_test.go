package handlers

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/layout"
)

func TestListForces_DefaultPreset(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(3))

	req := withVars(httptest.NewRequest(http.MethodGet, "/x", nil), "id", s.ID)
	rr := httptest.NewRecorder()
	h.ListForces(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var out struct {
		ID     string   `json:"id"`
		Forces []string `json:"forces"`
	}
	decodeBody(t, rr, &out)
	sort.Strings(out.Forces)
	want := []string{"center", "charge", "link"}
	if len(out.Forces) != len(want) {
		t.Fatalf("forces = %v, expected %v", out.Forces, want)
	}
	for i, k := range want {
		if out.Forces[i] != k {
			t.Errorf("forces = %v, expected %v", out.Forces, want)
			break
		}
	}
}

func TestSetForce(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(3))

	t.Run("install radial", func(t *testing.T) {
		body := `{"radius":150,"strength":0.9}`
		req := withVars(
			httptest.NewRequest(http.MethodPut, "/x", strings.NewReader(body)),
			"id", s.ID, "kind", "radial")
		rr := httptest.NewRecorder()
		h.SetForce(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
		}
		if s.Engine().Force(layout.KindRadial) == nil {
			t.Error("radial force not installed on the engine")
		}
	})

	t.Run("replace charge without body", func(t *testing.T) {
		req := withVars(httptest.NewRequest(http.MethodPut, "/x", nil), "id", s.ID, "kind", "charge")
		rr := httptest.NewRecorder()
		h.SetForce(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("got %d", rr.Code)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		req := withVars(httptest.NewRequest(http.MethodPut, "/x", nil), "id", s.ID, "kind", "gravity")
		rr := httptest.NewRecorder()
		h.SetForce(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("got %d, expected 400", rr.Code)
		}
	})
}

func TestSetForce_PositiveChargeAllowed(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(2))

	// Positive many-body strength means attraction; the handler must not
	// drop it on a sign check.
	body := `{"strength":25}`
	req := withVars(
		httptest.NewRequest(http.MethodPut, "/x", strings.NewReader(body)),
		"id", s.ID, "kind", "charge")
	rr := httptest.NewRecorder()
	h.SetForce(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}

	f, ok := s.Engine().Force(layout.KindCharge).(*layout.ManyBody)
	if !ok {
		t.Fatalf("charge force is %T", s.Engine().Force(layout.KindCharge))
	}
	if got := f.Strength(); got != 25 {
		t.Errorf("strength = %v, expected 25", got)
	}
}

func TestRemoveForce(t *testing.T) {
	h, sessions := newSimHandler(t)
	s := newSession(t, sessions, chainGraph(2))

	req := withVars(httptest.NewRequest(http.MethodDelete, "/x", nil), "id", s.ID, "kind", "charge")
	rr := httptest.NewRecorder()
	h.RemoveForce(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var out struct {
		Force   string `json:"force"`
		Removed bool   `json:"removed"`
	}
	decodeBody(t, rr, &out)
	if out.Force != "charge" || !out.Removed {
		t.Errorf("body = %+v", out)
	}
	if s.Engine().Force(layout.KindCharge) != nil {
		t.Error("charge force still installed")
	}

	// Removing again is a no-op, not an error.
	rr = httptest.NewRecorder()
	h.RemoveForce(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("repeat remove: got %d", rr.Code)
	}
}

func TestForceSpecBuild(t *testing.T) {
	str := func(v float64) *float64 { return &v }

	// collidePush builds the collision force from spec, runs one pass over
	// two nodes 10 apart, and reports whether they were pushed.
	collidePush := func(t *testing.T, spec forceSpec, nodeRadius float64) bool {
		t.Helper()
		f, ok := spec.build(layout.KindCollision).(*layout.Collide)
		if !ok {
			t.Fatalf("built %T", spec.build(layout.KindCollision))
		}
		a := &layout.Node{Index: 0, X: 0, Radius: nodeRadius}
		b := &layout.Node{Index: 1, X: 10, Radius: nodeRadius}
		f.Initialize([]*layout.Node{a, b}, layout.NewRand(1))
		f.Apply(1)
		return a.VX != 0 || b.VX != 0
	}

	t.Run("collision fixed radius wins over padding", func(t *testing.T) {
		// Fixed radius 8 overlaps at distance 10; the padding path (0+3)
		// would not. A push proves the fixed radius took effect.
		if !collidePush(t, forceSpec{Radius: str(8), Padding: str(3)}, 0) {
			t.Error("no push, fixed radius was ignored")
		}
	})

	t.Run("collision padding on top of node radius", func(t *testing.T) {
		// Node radius 2 + padding 3 gives 5 each: touching at 10 means no
		// overlap, so bump the padding to 4 for a clear push.
		if collidePush(t, forceSpec{Padding: str(3)}, 2) {
			t.Error("pushed although 2+3 radii only just touch at distance 10")
		}
		if !collidePush(t, forceSpec{Padding: str(4)}, 2) {
			t.Error("no push although 2+4 radii overlap at distance 10")
		}
	})

	t.Run("link distance", func(t *testing.T) {
		spec := forceSpec{Distance: str(42)}
		if spec.build(layout.KindLink) == nil {
			t.Fatal("nil link force")
		}
	})
}
