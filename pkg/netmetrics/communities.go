package netmetrics

import (
	"math/rand"
)

const (
	labelPropagationThreshold = 50
	labelPropagationRounds    = 10
)

// Communities assigns every node a community id. Connected components
// come first via BFS; any component at or above the size threshold is
// refined with label propagation to split loosely joined clusters.
// Final labels are renumbered to sequential ids starting at 0.
func Communities(g *Graph, rng *rand.Rand) []int {
	n := g.Size()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	nextComponent := 0
	components := make(map[int][]int)
	for start := 0; start < n; start++ {
		if labels[start] >= 0 {
			continue
		}
		component := nextComponent
		nextComponent++

		queue := []int{start}
		labels[start] = component
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			components[component] = append(components[component], v)
			for _, e := range g.adj[v] {
				if labels[e.to] < 0 {
					labels[e.to] = component
					queue = append(queue, e.to)
				}
			}
		}
	}

	for _, members := range components {
		if len(members) >= labelPropagationThreshold {
			propagateLabels(g, members, labels, rng)
		}
	}

	return renumber(labels)
}

// propagateLabels refines one large component in place. Each node starts
// with a unique label and adopts the weight-majority label among its
// neighbors, a fixed number of rounds, in randomized order per round.
func propagateLabels(g *Graph, members []int, labels []int, rng *rand.Rand) {
	// Local labels are offset so they can never collide with component
	// ids already assigned outside this component.
	base := g.Size()
	for i, v := range members {
		labels[v] = base + i
	}

	inComponent := make(map[int]bool, len(members))
	for _, v := range members {
		inComponent[v] = true
	}

	order := make([]int, len(members))
	copy(order, members)

	for round := 0; round < labelPropagationRounds; round++ {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		changed := false
		for _, v := range order {
			weightByLabel := make(map[int]float64)
			for _, e := range g.adj[v] {
				if !inComponent[e.to] {
					continue
				}
				weightByLabel[labels[e.to]] += e.weight
			}
			if len(weightByLabel) == 0 {
				continue
			}

			best := labels[v]
			bestWeight := weightByLabel[best]
			for label, weight := range weightByLabel {
				if weight > bestWeight || (weight == bestWeight && label < best) {
					best = label
					bestWeight = weight
				}
			}
			if best != labels[v] {
				labels[v] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

func renumber(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, label := range labels {
		id, ok := mapping[label]
		if !ok {
			id = len(mapping)
			mapping[label] = id
		}
		out[i] = id
	}
	return out
}
