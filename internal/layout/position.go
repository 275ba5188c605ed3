package layout

// AxisX pulls nodes toward a target x coordinate. Together with AxisY it
// gives presets a way to pin the layout loosely to bands or columns.
type AxisX struct {
	target   float64
	strength float64
	targetFn func(*Node) float64

	nodes []*Node
}

// NewAxisX returns the force targeting the given x, strength 0.1.
func NewAxisX(x float64) *AxisX {
	return &AxisX{target: x, strength: 0.1}
}

// SetTarget sets the uniform target x.
func (f *AxisX) SetTarget(x float64) {
	f.target = x
	f.targetFn = nil
}

// Target returns the uniform target x.
func (f *AxisX) Target() float64 { return f.target }

// SetTargetFunc derives the target x per node.
func (f *AxisX) SetTargetFunc(fn func(*Node) float64) { f.targetFn = fn }

// SetStrength scales the pull; advisory range (0, 1].
func (f *AxisX) SetStrength(s float64) { f.strength = s }

// Strength returns the pull scale.
func (f *AxisX) Strength() float64 { return f.strength }

// Initialize binds the force to the node set.
func (f *AxisX) Initialize(nodes []*Node, _ *Rand) { f.nodes = nodes }

// Apply accumulates the velocity delta toward the target x.
func (f *AxisX) Apply(alpha float64) {
	for _, n := range f.nodes {
		target := f.target
		if f.targetFn != nil {
			target = f.targetFn(n)
		}
		n.VX += (target - n.X) * f.strength * alpha
	}
}

// AxisY pulls nodes toward a target y coordinate.
type AxisY struct {
	target   float64
	strength float64
	targetFn func(*Node) float64

	nodes []*Node
}

// NewAxisY returns the force targeting the given y, strength 0.1.
func NewAxisY(y float64) *AxisY {
	return &AxisY{target: y, strength: 0.1}
}

// SetTarget sets the uniform target y.
func (f *AxisY) SetTarget(y float64) {
	f.target = y
	f.targetFn = nil
}

// Target returns the uniform target y.
func (f *AxisY) Target() float64 { return f.target }

// SetTargetFunc derives the target y per node.
func (f *AxisY) SetTargetFunc(fn func(*Node) float64) { f.targetFn = fn }

// SetStrength scales the pull; advisory range (0, 1].
func (f *AxisY) SetStrength(s float64) { f.strength = s }

// Strength returns the pull scale.
func (f *AxisY) Strength() float64 { return f.strength }

// Initialize binds the force to the node set.
func (f *AxisY) Initialize(nodes []*Node, _ *Rand) { f.nodes = nodes }

// Apply accumulates the velocity delta toward the target y.
func (f *AxisY) Apply(alpha float64) {
	for _, n := range f.nodes {
		target := f.target
		if f.targetFn != nil {
			target = f.targetFn(n)
		}
		n.VY += (target - n.Y) * f.strength * alpha
	}
}
