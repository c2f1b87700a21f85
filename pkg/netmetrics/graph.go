// Package netmetrics computes graph metrics over the full relationship
// graph of a dataset. All algorithms work on a dense adjacency structure
// built once per run; entity ids map to contiguous node indices so the
// iteration state fits in plain slices.
package netmetrics

import (
	"github.com/caselight/backend/pkg/common"
)

type edge struct {
	to     int
	weight float64
}

// Graph is an undirected weighted adjacency structure over entities.
type Graph struct {
	ids       []int64         // node index -> entity id
	index     map[int64]int   // entity id -> node index
	adj       [][]edge        // per-node neighbor list
	weightSum []float64       // per-node total incident edge weight
}

// BuildGraph constructs the adjacency structure from entities and their
// relationship edges. Every entity becomes a node even when it has no
// edges; isolated nodes still receive PageRank via the teleport term.
func BuildGraph(entities []common.Entity, relationships []common.EntityRelationship) *Graph {
	g := &Graph{
		ids:   make([]int64, 0, len(entities)),
		index: make(map[int64]int, len(entities)),
	}
	for _, e := range entities {
		if _, ok := g.index[e.ID]; ok {
			continue
		}
		g.index[e.ID] = len(g.ids)
		g.ids = append(g.ids, e.ID)
	}

	g.adj = make([][]edge, len(g.ids))
	g.weightSum = make([]float64, len(g.ids))

	for _, rel := range relationships {
		a, okA := g.index[rel.EntityA]
		b, okB := g.index[rel.EntityB]
		if !okA || !okB || a == b {
			continue
		}
		w := rel.Strength
		if w <= 0 {
			w = 0.1
		}
		g.adj[a] = append(g.adj[a], edge{to: b, weight: w})
		g.adj[b] = append(g.adj[b], edge{to: a, weight: w})
		g.weightSum[a] += w
		g.weightSum[b] += w
	}
	return g
}

// Size returns the number of nodes.
func (g *Graph) Size() int {
	return len(g.ids)
}

// EntityID returns the entity id for a node index.
func (g *Graph) EntityID(node int) int64 {
	return g.ids[node]
}
