package layout

// Force is the shared contract of every layout force. Initialize binds the
// force to the current node set and random source; it runs again whenever
// the node set or the force configuration changes. Apply runs once per tick
// and scales its effect by alpha. Forces keep no per-tick state.
type Force interface {
	Initialize(nodes []*Node, random *Rand)
	Apply(alpha float64)
}

// Kind enumerates the closed set of force slots. The registry is keyed by
// Kind, so there is exactly one active force per slot and forces always run
// in registration order.
type Kind int

const (
	KindCenter Kind = iota
	KindCharge
	KindLink
	KindCollision
	KindRadial
	KindAxisX
	KindAxisY
)

func (k Kind) String() string {
	switch k {
	case KindCenter:
		return "center"
	case KindCharge:
		return "charge"
	case KindLink:
		return "link"
	case KindCollision:
		return "collision"
	case KindRadial:
		return "radial"
	case KindAxisX:
		return "x"
	case KindAxisY:
		return "y"
	default:
		return "unknown"
	}
}

// ParseKind resolves a kind from its wire name. The bool is false for
// names String never produces.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "center":
		return KindCenter, true
	case "charge":
		return KindCharge, true
	case "link":
		return KindLink, true
	case "collision":
		return KindCollision, true
	case "radial":
		return KindRadial, true
	case "x":
		return KindAxisX, true
	case "y":
		return KindAxisY, true
	default:
		return 0, false
	}
}

// Registry is an ordered set of forces keyed by Kind. Setting an existing
// kind replaces the force in place, keeping its position in the run order;
// setting a new kind appends it.
type Registry struct {
	order  []Kind
	forces map[Kind]Force
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{forces: make(map[Kind]Force)}
}

// Set inserts or replaces the force for the given kind.
func (r *Registry) Set(k Kind, f Force) {
	if _, ok := r.forces[k]; !ok {
		r.order = append(r.order, k)
	}
	r.forces[k] = f
}

// Get returns the force for the given kind.
func (r *Registry) Get(k Kind) (Force, bool) {
	f, ok := r.forces[k]
	return f, ok
}

// Remove drops the force for the given kind, if present.
func (r *Registry) Remove(k Kind) {
	if _, ok := r.forces[k]; !ok {
		return
	}
	delete(r.forces, k)
	for i, kk := range r.order {
		if kk == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered forces.
func (r *Registry) Len() int { return len(r.order) }

// Kinds returns the registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Each calls fn for every force in registration order.
func (r *Registry) Each(fn func(Kind, Force)) {
	for _, k := range r.order {
		fn(k, r.forces[k])
	}
}

// InitializeAll rebinds every force to the given node set.
func (r *Registry) InitializeAll(nodes []*Node, random *Rand) {
	for _, k := range r.order {
		r.forces[k].Initialize(nodes, random)
	}
}

// ApplyAll runs every force once in registration order.
func (r *Registry) ApplyAll(alpha float64) {
	for _, k := range r.order {
		r.forces[k].Apply(alpha)
	}
}
