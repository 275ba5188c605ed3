// Package integrity validates graph documents before they reach a
// simulation: duplicate ids, dangling links, non-finite coordinates,
// orphans and broken attributes. Checks only report; Repair applies the
// drop-or-clamp fixes the caller opts into.
package integrity

import (
	"log/slog"
	"math"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// maxSampleIDs caps how many offending ids a check result carries. The
// count is always exact; the sample keeps reports readable.
const maxSampleIDs = 20

// Checker runs graph integrity checks.
type Checker struct {
	log *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{log: logger.WithComponent("integrity")}
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	CheckName  string    `json:"check_name"`
	IssueCount int       `json:"issue_count"`
	Details    string    `json:"details"`
	SampleIDs  []string  `json:"sample_ids,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	HasIssues  bool      `json:"has_issues"`
}

// Report bundles every check over one graph.
type Report struct {
	Checks      []CheckResult `json:"checks"`
	TotalIssues int           `json:"total_issues"`
	Clean       bool          `json:"clean"`
}

// Check runs all integrity checks against the graph.
func (c *Checker) Check(g *graphio.Graph) *Report {
	now := time.Now()
	report := &Report{}

	add := func(name, details string, ids []string) {
		count := len(ids)
		sample := ids
		if len(sample) > maxSampleIDs {
			sample = sample[:maxSampleIDs]
		}
		report.Checks = append(report.Checks, CheckResult{
			CheckName:  name,
			IssueCount: count,
			Details:    details,
			SampleIDs:  sample,
			CheckedAt:  now,
			HasIssues:  count > 0,
		})
		report.TotalIssues += count
	}

	add("duplicate_node_ids",
		"Nodes sharing an id; only the first occurrence would survive",
		duplicateIDs(g))
	add("dangling_links",
		"Links referencing ids not in the node set",
		danglingLinks(g))
	add("non_finite_coordinates",
		"Nodes whose position or pin is NaN or infinite",
		nonFiniteCoords(g))
	if len(g.Edges) == 0 {
		add("orphan_nodes", "Skipped: graph has no links", nil)
	} else {
		add("orphan_nodes", "Nodes with no incident links", orphanNodes(g))
	}
	add("invalid_attributes",
		"Nodes with negative or NaN mass or radius",
		invalidAttributes(g))

	report.Clean = report.TotalIssues == 0
	c.log.Debug("graph checked",
		"nodes", len(g.Nodes),
		"links", len(g.Edges),
		"issues", report.TotalIssues)
	return report
}

func duplicateIDs(g *graphio.Graph) []string {
	seen := make(map[string]bool, len(g.Nodes))
	var dups []string
	for _, n := range g.Nodes {
		if seen[n.ID] {
			dups = append(dups, n.ID)
			continue
		}
		seen[n.ID] = true
	}
	return dups
}

func danglingLinks(g *graphio.Graph) []string {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	var bad []string
	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			bad = append(bad, e.Source+"->"+e.Target)
		}
	}
	return bad
}

func nonFiniteCoords(g *graphio.Graph) []string {
	var bad []string
	for _, n := range g.Nodes {
		if badCoord(n.X) || badCoord(n.Y) || badCoord(n.FX) || badCoord(n.FY) {
			bad = append(bad, n.ID)
		}
	}
	return bad
}

func badCoord(v *float64) bool {
	return v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0))
}

func orphanNodes(g *graphio.Graph) []string {
	linked := make(map[string]bool, len(g.Nodes))
	for _, e := range g.Edges {
		linked[e.Source] = true
		linked[e.Target] = true
	}
	var orphans []string
	for _, n := range g.Nodes {
		if !linked[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	return orphans
}

func invalidAttributes(g *graphio.Graph) []string {
	var bad []string
	for _, n := range g.Nodes {
		if n.Mass < 0 || math.IsNaN(n.Mass) || n.Radius < 0 || math.IsNaN(n.Radius) {
			bad = append(bad, n.ID)
		}
	}
	return bad
}

// RepairOptions selects which fixes Repair applies.
type RepairOptions struct {
	// DropDuplicates keeps the first node per id and drops the rest.
	DropDuplicates bool `json:"drop_duplicates"`
	// DropDangling removes links with an unknown endpoint.
	DropDangling bool `json:"drop_dangling"`
	// ClearBadCoordinates nils non-finite positions and pins so the
	// engine reseeds them.
	ClearBadCoordinates bool `json:"clear_bad_coordinates"`
	// ResetBadAttributes zeroes negative or NaN mass and radius, letting
	// the engine defaults take over.
	ResetBadAttributes bool `json:"reset_bad_attributes"`
	// DropOrphans removes nodes with no incident links. Off by default:
	// isolated nodes are legal input.
	DropOrphans bool `json:"drop_orphans"`
}

// DefaultRepair fixes everything except orphans.
func DefaultRepair() RepairOptions {
	return RepairOptions{
		DropDuplicates:      true,
		DropDangling:        true,
		ClearBadCoordinates: true,
		ResetBadAttributes:  true,
	}
}

// RepairResult counts what Repair changed.
type RepairResult struct {
	NodesDropped    int `json:"nodes_dropped"`
	LinksDropped    int `json:"links_dropped"`
	CoordsCleared   int `json:"coords_cleared"`
	AttributesReset int `json:"attributes_reset"`
}

// Changed reports whether Repair touched the graph.
func (r *RepairResult) Changed() bool {
	return r.NodesDropped+r.LinksDropped+r.CoordsCleared+r.AttributesReset > 0
}

// Repair mutates the graph in place. Fix order matters: duplicates and
// orphans go first so the link pass sees the final node set.
func (c *Checker) Repair(g *graphio.Graph, opts RepairOptions) *RepairResult {
	result := &RepairResult{}

	if opts.DropDuplicates {
		seen := make(map[string]bool, len(g.Nodes))
		kept := g.Nodes[:0]
		for _, n := range g.Nodes {
			if seen[n.ID] {
				result.NodesDropped++
				continue
			}
			seen[n.ID] = true
			kept = append(kept, n)
		}
		g.Nodes = kept
	}

	if opts.DropOrphans && len(g.Edges) > 0 {
		linked := make(map[string]bool, len(g.Nodes))
		for _, e := range g.Edges {
			linked[e.Source] = true
			linked[e.Target] = true
		}
		kept := g.Nodes[:0]
		for _, n := range g.Nodes {
			if !linked[n.ID] {
				result.NodesDropped++
				continue
			}
			kept = append(kept, n)
		}
		g.Nodes = kept
	}

	if opts.DropDangling {
		ids := make(map[string]bool, len(g.Nodes))
		for _, n := range g.Nodes {
			ids[n.ID] = true
		}
		kept := g.Edges[:0]
		for _, e := range g.Edges {
			if !ids[e.Source] || !ids[e.Target] {
				result.LinksDropped++
				continue
			}
			kept = append(kept, e)
		}
		g.Edges = kept
	}

	if opts.ClearBadCoordinates {
		for i := range g.Nodes {
			n := &g.Nodes[i]
			cleared := false
			if badCoord(n.X) || badCoord(n.Y) {
				n.X, n.Y = nil, nil
				cleared = true
			}
			if badCoord(n.FX) {
				n.FX = nil
				cleared = true
			}
			if badCoord(n.FY) {
				n.FY = nil
				cleared = true
			}
			if cleared {
				result.CoordsCleared++
			}
		}
	}

	if opts.ResetBadAttributes {
		for i := range g.Nodes {
			n := &g.Nodes[i]
			reset := false
			if n.Mass < 0 || math.IsNaN(n.Mass) {
				n.Mass = 0
				reset = true
			}
			if n.Radius < 0 || math.IsNaN(n.Radius) {
				n.Radius = 0
				reset = true
			}
			if reset {
				result.AttributesReset++
			}
		}
	}

	if result.Changed() {
		c.log.Info("graph repaired",
			"nodes_dropped", result.NodesDropped,
			"links_dropped", result.LinksDropped,
			"coords_cleared", result.CoordsCleared,
			"attributes_reset", result.AttributesReset)
	}
	return result
}
