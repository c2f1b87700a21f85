package netmetrics

import (
	"math/rand"
)

const maxBetweennessSources = 100

// Betweenness approximates betweenness centrality with Brandes'
// algorithm run from a random sample of source nodes. Sampling keeps
// large graphs tractable at the cost of exactness; scores are
// normalized so the highest-scoring node is exactly 1.0, which is all
// downstream ranking needs.
func Betweenness(g *Graph, rng *rand.Rand) []float64 {
	n := g.Size()
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}

	sources := sampleSources(n, maxBetweennessSources, rng)
	for _, s := range sources {
		accumulateFromSource(g, s, scores)
	}

	max := 0.0
	for _, v := range scores {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range scores {
			scores[i] /= max
		}
	}
	return scores
}

// accumulateFromSource runs one Brandes pass: BFS for shortest-path
// counts and predecessor sets, then dependency back-propagation in
// reverse visit order.
func accumulateFromSource(g *Graph, source int, scores []float64) {
	n := g.Size()

	dist := make([]int, n)
	sigma := make([]float64, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	for i := range dist {
		dist[i] = -1
	}
	dist[source] = 0
	sigma[source] = 1

	order := make([]int, 0, n)
	queue := []int{source}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, v)
		for _, e := range g.adj[v] {
			w := e.to
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				preds[w] = append(preds[w], v)
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		w := order[i]
		for _, v := range preds[w] {
			delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
		}
		if w != source {
			scores[w] += delta[w]
		}
	}
}

func sampleSources(n, limit int, rng *rand.Rand) []int {
	if n <= limit {
		sources := make([]int, n)
		for i := range sources {
			sources[i] = i
		}
		return sources
	}
	perm := rng.Perm(n)
	return perm[:limit]
}
