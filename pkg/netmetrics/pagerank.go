package netmetrics

const (
	pageRankDamping    = 0.85
	pageRankIterations = 30
)

// PageRank runs power iteration over the weighted graph. Each node
// starts at 1/n and every iteration spreads rank to neighbors in
// proportion to edge weight. Mass from dangling nodes is redistributed
// uniformly so the total stays at 1.0 throughout.
func PageRank(g *Graph) []float64 {
	n := g.Size()
	if n == 0 {
		return nil
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	initial := 1.0 / float64(n)
	for i := range rank {
		rank[i] = initial
	}

	teleport := (1 - pageRankDamping) / float64(n)
	for iter := 0; iter < pageRankIterations; iter++ {
		dangling := 0.0
		for i := range next {
			next[i] = 0
		}

		for i := 0; i < n; i++ {
			if g.weightSum[i] == 0 {
				dangling += rank[i]
				continue
			}
			share := rank[i] / g.weightSum[i]
			for _, e := range g.adj[i] {
				next[e.to] += pageRankDamping * share * e.weight
			}
		}

		danglingShare := pageRankDamping * dangling / float64(n)
		for i := 0; i < n; i++ {
			next[i] += teleport + danglingShare
		}
		rank, next = next, rank
	}
	return rank
}
