package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/apierr"
	"github.com/exocortex-initiative/forcefield/internal/layout"
)

// forceSpec is the wire form of a force configuration. Pointer fields
// distinguish "unset" from zero, which matters for signed strengths.
type forceSpec struct {
	Strength    *float64 `json:"strength,omitempty"`
	Distance    *float64 `json:"distance,omitempty"`
	DistanceMin *float64 `json:"distance_min,omitempty"`
	DistanceMax *float64 `json:"distance_max,omitempty"`
	Theta       *float64 `json:"theta,omitempty"`
	Iterations  *int     `json:"iterations,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Radius      *float64 `json:"radius,omitempty"`
	Target      *float64 `json:"target,omitempty"`
	Padding     *float64 `json:"padding,omitempty"`
}

func f64(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// build constructs the force for a kind from whichever fields are set.
func (s forceSpec) build(kind layout.Kind) layout.Force {
	switch kind {
	case layout.KindCharge:
		f := layout.NewManyBody()
		if s.Strength != nil {
			f.SetStrength(*s.Strength)
		}
		if s.DistanceMin != nil && *s.DistanceMin > 0 {
			f.SetDistanceMin(*s.DistanceMin)
		}
		if s.DistanceMax != nil && *s.DistanceMax > 0 {
			f.SetDistanceMax(*s.DistanceMax)
		}
		if s.Theta != nil && *s.Theta > 0 {
			f.SetTheta(*s.Theta)
		}
		return f
	case layout.KindRadial:
		f := layout.NewRadial(f64(s.Radius), f64(s.X), f64(s.Y))
		if s.Strength != nil && *s.Strength > 0 {
			f.SetStrength(*s.Strength)
		}
		return f
	case layout.KindAxisX:
		f := layout.NewAxisX(f64(s.Target))
		if s.Strength != nil && *s.Strength > 0 {
			f.SetStrength(*s.Strength)
		}
		return f
	case layout.KindAxisY:
		f := layout.NewAxisY(f64(s.Target))
		if s.Strength != nil && *s.Strength > 0 {
			f.SetStrength(*s.Strength)
		}
		return f
	case layout.KindCenter:
		f := layout.NewCenter(f64(s.X), f64(s.Y))
		if s.Strength != nil && *s.Strength > 0 {
			f.SetStrength(*s.Strength)
		}
		return f
	case layout.KindLink:
		f := layout.NewLinkForce(nil)
		if s.Distance != nil && *s.Distance > 0 {
			f.SetDistance(*s.Distance)
		}
		if s.Iterations != nil && *s.Iterations > 0 {
			f.SetIterations(*s.Iterations)
		}
		return f
	case layout.KindCollision:
		f := layout.NewCollide()
		if s.Strength != nil && *s.Strength > 0 {
			f.SetStrength(*s.Strength)
		}
		if s.Iterations != nil && *s.Iterations > 0 {
			f.SetIterations(*s.Iterations)
		}
		if s.Radius != nil && *s.Radius > 0 {
			r := *s.Radius
			f.SetRadiusFunc(func(*layout.Node) float64 { return r })
		} else if s.Padding != nil && *s.Padding > 0 {
			pad := *s.Padding
			f.SetRadiusFunc(func(n *layout.Node) float64 { return n.Radius + pad })
		}
		return f
	}
	return nil
}

// ListForces returns the kinds currently installed on a simulation.
// GET /api/simulations/{id}/forces
func (h *SimulationsHandler) ListForces(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kinds := s.Engine().ForceKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     s.ID,
		"forces": names,
	})
}

// SetForce installs or replaces one force.
// PUT /api/simulations/{id}/forces/{kind}
func (h *SimulationsHandler) SetForce(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kind, ok := layout.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("kind", "unknown force kind "+mux.Vars(r)["kind"]))
		return
	}

	var spec forceSpec
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
			return
		}
	}

	if err := s.Engine().SetForce(kind, spec.build(kind)); err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    s.ID,
		"force": kind.String(),
	})
}

// RemoveForce uninstalls one force. Removing a force that is not installed
// is a no-op.
// DELETE /api/simulations/{id}/forces/{kind}
func (h *SimulationsHandler) RemoveForce(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kind, ok := layout.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		apierr.WriteErrorWithContext(w, r,
			apierr.ValidationInvalidValue("kind", "unknown force kind "+mux.Vars(r)["kind"]))
		return
	}

	if err := s.Engine().SetForce(kind, nil); err != nil {
		h.writeEngineError(w, r, s.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      s.ID,
		"force":   kind.String(),
		"removed": true,
	})
}
