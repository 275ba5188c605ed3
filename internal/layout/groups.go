package layout

import (
	"math/rand"
	"sort"
)

// GroupResult is the outcome of modularity-based group detection.
type GroupResult struct {
	// Groups is the number of detected groups after renumbering.
	Groups int
	// ByNode maps node id to group index.
	ByNode map[string]int
	// Modularity of the final partition, in [-0.5, 1].
	Modularity float64
}

// DetectGroups partitions nodes into groups by greedy modularity
// optimization (single-level Louvain). Graphs often arrive without group
// labels; semantic cross-group rules and per-group rendering both need
// them. Deterministic for a fixed seed. Edges with missing endpoints are
// ignored, matching link resolution.
func DetectGroups(nodes []*Node, edges []Edge, seed int64) *GroupResult {
	ids := make([]string, len(nodes))
	adjacency := make(map[string]map[string]int, len(nodes))
	degrees := make(map[string]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		adjacency[n.ID] = make(map[string]int)
	}

	totalWeight := 0
	for _, e := range edges {
		if _, ok := adjacency[e.Source]; !ok {
			continue
		}
		if _, ok := adjacency[e.Target]; !ok {
			continue
		}
		adjacency[e.Source][e.Target]++
		adjacency[e.Target][e.Source]++
		degrees[e.Source]++
		degrees[e.Target]++
		totalWeight++
	}

	group := make(map[string]int, len(ids))
	for i, id := range ids {
		group[id] = i
	}

	// Greedy passes: move each node to the neighboring group with the best
	// modularity gain until nothing improves.
	rng := rand.New(rand.NewSource(seed))
	improved := true
	for iteration := 0; improved && iteration < 50; iteration++ {
		improved = false

		shuffled := make([]string, len(ids))
		copy(shuffled, ids)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, id := range shuffled {
			current := group[id]
			candidates := make(map[int]bool)
			for neighbor := range adjacency[id] {
				candidates[group[neighbor]] = true
			}

			best, bestGain := current, 0.0
			for target := range candidates {
				if target == current {
					continue
				}
				if gain := modularityGain(id, current, target, group, adjacency, degrees, totalWeight); gain > bestGain {
					best, bestGain = target, gain
				}
			}
			if best != current {
				group[id] = best
				improved = true
			}
		}
	}

	// Renumber groups to a dense 0..k-1 range, largest first so group 0 is
	// always the dominant cluster.
	sizes := make(map[int]int)
	for _, g := range group {
		sizes[g]++
	}
	order := make([]int, 0, len(sizes))
	for g := range sizes {
		order = append(order, g)
	}
	sort.Slice(order, func(i, j int) bool {
		if sizes[order[i]] != sizes[order[j]] {
			return sizes[order[i]] > sizes[order[j]]
		}
		return order[i] < order[j]
	})
	renumber := make(map[int]int, len(order))
	for i, g := range order {
		renumber[g] = i
	}

	final := make(map[string]int, len(group))
	for id, g := range group {
		final[id] = renumber[g]
	}

	return &GroupResult{
		Groups:     len(order),
		ByNode:     final,
		Modularity: partitionModularity(final, adjacency, degrees, totalWeight),
	}
}

// AssignGroups runs DetectGroups and writes the result onto the nodes.
func AssignGroups(nodes []*Node, edges []Edge, seed int64) *GroupResult {
	result := DetectGroups(nodes, edges, seed)
	for _, n := range nodes {
		if g, ok := result.ByNode[n.ID]; ok {
			n.Group = g
		}
	}
	return result
}

// modularityGain is the modularity delta from moving one node between
// groups, using the standard degree-product null model.
func modularityGain(id string, from, to int, group map[string]int, adjacency map[string]map[string]int, degrees map[string]int, totalWeight int) float64 {
	if totalWeight == 0 {
		return 0
	}

	weightTo, weightFrom := 0, 0
	for neighbor, weight := range adjacency[id] {
		switch group[neighbor] {
		case to:
			weightTo += weight
		case from:
			weightFrom += weight
		}
	}

	m2 := float64(2 * totalWeight)
	return float64(weightTo-weightFrom)/m2 -
		float64(degrees[id])*
			(float64(sumDegrees(to, group, degrees))-float64(sumDegrees(from, group, degrees)))/
			(m2*m2)
}

func sumDegrees(g int, group map[string]int, degrees map[string]int) int {
	sum := 0
	for id, gg := range group {
		if gg == g {
			sum += degrees[id]
		}
	}
	return sum
}

func partitionModularity(group map[string]int, adjacency map[string]map[string]int, degrees map[string]int, totalWeight int) float64 {
	if totalWeight == 0 {
		return 0
	}
	m2 := float64(2 * totalWeight)
	modularity := 0.0
	for a, neighbors := range adjacency {
		for b, weight := range neighbors {
			if group[a] != group[b] {
				continue
			}
			modularity += float64(weight) - float64(degrees[a])*float64(degrees[b])/m2
		}
	}
	return modularity / m2
}
