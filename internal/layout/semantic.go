package layout

// LinkTune scales one edge type's spring behavior. Zero fields mean "leave
// unchanged", so partially filled tables behave sensibly.
type LinkTune struct {
	Distance float64 `json:"distance,omitempty" toml:"distance"`
	Strength float64 `json:"strength,omitempty" toml:"strength"`
}

// SemanticRules classifies edges by their type identifier and scales the
// resolved link's rest distance and strength accordingly. The table is
// pure configuration supplied by the caller; nothing here is derived from
// the graph itself.
type SemanticRules struct {
	// ByType maps an edge-type identifier to its multipliers.
	ByType map[string]LinkTune `json:"byType,omitempty" toml:"by_type"`

	// Default applies to edges whose type has no table entry.
	Default LinkTune `json:"default,omitempty" toml:"default"`

	// CrossGroupDistance additionally stretches the rest distance of links
	// whose endpoints belong to different groups, pushing unlike nodes
	// apart. 1 (or 0) disables it. Repulsion itself is aggregated per
	// quadrant and cannot carry per-pair factors, so the separation rides
	// on the link rest length instead.
	CrossGroupDistance float64 `json:"crossGroupDistance,omitempty" toml:"cross_group_distance"`
}

// NewSemanticRules returns an empty rule set that leaves links unchanged.
func NewSemanticRules() *SemanticRules {
	return &SemanticRules{
		ByType:             make(map[string]LinkTune),
		Default:            LinkTune{Distance: 1, Strength: 1},
		CrossGroupDistance: 1,
	}
}

func (r *SemanticRules) tuneFor(edgeType string) LinkTune {
	tune, ok := r.ByType[edgeType]
	if !ok {
		tune = r.Default
	}
	if tune.Distance == 0 {
		tune.Distance = 1
	}
	if tune.Strength == 0 {
		tune.Strength = 1
	}
	return tune
}

func (r *SemanticRules) distanceMultiplier(edgeType string, src, tgt *Node) float64 {
	m := r.tuneFor(edgeType).Distance
	if r.CrossGroupDistance > 0 && r.CrossGroupDistance != 1 && src.Group != tgt.Group {
		m *= r.CrossGroupDistance
	}
	return m
}

func (r *SemanticRules) strengthMultiplier(edgeType string) float64 {
	return r.tuneFor(edgeType).Strength
}
