package netmetrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/caselight/backend/pkg/common"
)

func makeEntities(n int) []common.Entity {
	out := make([]common.Entity, n)
	for i := range out {
		out[i] = common.Entity{ID: int64(i + 1)}
	}
	return out
}

func edgeBetween(a, b int64, strength float64) common.EntityRelationship {
	if a > b {
		a, b = b, a
	}
	return common.EntityRelationship{EntityA: a, EntityB: b, Type: common.RelationAssociate, Strength: strength}
}

func TestPageRankSumsToOne(t *testing.T) {
	tests := []struct {
		name     string
		entities []common.Entity
		edges    []common.EntityRelationship
	}{
		{"empty graph with nodes", makeEntities(5), nil},
		{"chain", makeEntities(4), []common.EntityRelationship{
			edgeBetween(1, 2, 0.9), edgeBetween(2, 3, 0.5), edgeBetween(3, 4, 0.7),
		}},
		{"star with isolated node", makeEntities(5), []common.EntityRelationship{
			edgeBetween(1, 2, 1), edgeBetween(1, 3, 1), edgeBetween(1, 4, 1),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := BuildGraph(tt.entities, tt.edges)
			rank := PageRank(g)

			sum := 0.0
			for _, v := range rank {
				sum += v
			}
			if math.Abs(sum-1.0) > 1e-6 {
				t.Errorf("pagerank sum = %v, want 1.0", sum)
			}
		})
	}
}

func TestPageRankHubOutranksLeaves(t *testing.T) {
	g := BuildGraph(makeEntities(5), []common.EntityRelationship{
		edgeBetween(1, 2, 1), edgeBetween(1, 3, 1),
		edgeBetween(1, 4, 1), edgeBetween(1, 5, 1),
	})
	rank := PageRank(g)

	hub := rank[g.index[1]]
	for id := int64(2); id <= 5; id++ {
		if rank[g.index[id]] >= hub {
			t.Errorf("leaf %d rank %v >= hub rank %v", id, rank[g.index[id]], hub)
		}
	}
}

func TestPageRankEmptyGraph(t *testing.T) {
	g := BuildGraph(nil, nil)
	if rank := PageRank(g); rank != nil {
		t.Errorf("got %v, want nil", rank)
	}
}

func TestBetweennessNormalization(t *testing.T) {
	// A path graph: the middle node carries every shortest path.
	g := BuildGraph(makeEntities(5), []common.EntityRelationship{
		edgeBetween(1, 2, 1), edgeBetween(2, 3, 1),
		edgeBetween(3, 4, 1), edgeBetween(4, 5, 1),
	})
	scores := Betweenness(g, rand.New(rand.NewSource(1)))

	max := 0.0
	for _, v := range scores {
		if v < 0 || v > 1 {
			t.Errorf("score %v outside [0, 1]", v)
		}
		if v > max {
			max = v
		}
	}
	if max != 1.0 {
		t.Errorf("max score = %v, want exactly 1.0", max)
	}
	if scores[g.index[3]] != 1.0 {
		t.Errorf("middle node score = %v, want 1.0", scores[g.index[3]])
	}
	if scores[g.index[1]] != 0 || scores[g.index[5]] != 0 {
		t.Errorf("endpoint scores = %v, %v, want 0", scores[g.index[1]], scores[g.index[5]])
	}
}

func TestBetweennessEmptyGraph(t *testing.T) {
	g := BuildGraph(nil, nil)
	if scores := Betweenness(g, rand.New(rand.NewSource(1))); len(scores) != 0 {
		t.Errorf("got %v, want empty", scores)
	}
}

func TestCommunitiesConnectedComponents(t *testing.T) {
	// Two triangles and an isolated node: three communities.
	g := BuildGraph(makeEntities(7), []common.EntityRelationship{
		edgeBetween(1, 2, 1), edgeBetween(2, 3, 1), edgeBetween(1, 3, 1),
		edgeBetween(4, 5, 1), edgeBetween(5, 6, 1), edgeBetween(4, 6, 1),
	})
	labels := Communities(g, rand.New(rand.NewSource(1)))

	distinct := make(map[int]struct{})
	for _, l := range labels {
		distinct[l] = struct{}{}
	}
	if len(distinct) != 3 {
		t.Fatalf("got %d communities, want 3: %v", len(distinct), labels)
	}

	if labels[g.index[1]] != labels[g.index[2]] || labels[g.index[2]] != labels[g.index[3]] {
		t.Error("first triangle split across communities")
	}
	if labels[g.index[4]] != labels[g.index[5]] || labels[g.index[5]] != labels[g.index[6]] {
		t.Error("second triangle split across communities")
	}
	if labels[g.index[1]] == labels[g.index[4]] {
		t.Error("separate components share a community")
	}
}

func TestCommunitiesSequentialIDs(t *testing.T) {
	g := BuildGraph(makeEntities(4), []common.EntityRelationship{
		edgeBetween(1, 2, 1), edgeBetween(3, 4, 1),
	})
	labels := Communities(g, rand.New(rand.NewSource(1)))

	max := 0
	for _, l := range labels {
		if l < 0 {
			t.Fatalf("negative label %d", l)
		}
		if l > max {
			max = l
		}
	}
	seen := make(map[int]bool)
	for _, l := range labels {
		seen[l] = true
	}
	for i := 0; i <= max; i++ {
		if !seen[i] {
			t.Errorf("label %d missing from sequential range", i)
		}
	}
}

func TestCommunitiesSplitsLargeComponent(t *testing.T) {
	// Two 30-node cliques joined by a single weak bridge. Together they
	// cross the refinement threshold and label propagation should pull
	// them apart.
	var entities []common.Entity
	var edges []common.EntityRelationship
	for i := int64(1); i <= 60; i++ {
		entities = append(entities, common.Entity{ID: i})
	}
	for a := int64(1); a <= 30; a++ {
		for b := a + 1; b <= 30; b++ {
			edges = append(edges, edgeBetween(a, b, 1))
		}
	}
	for a := int64(31); a <= 60; a++ {
		for b := a + 1; b <= 60; b++ {
			edges = append(edges, edgeBetween(a, b, 1))
		}
	}
	edges = append(edges, edgeBetween(30, 31, 0.1))

	g := BuildGraph(entities, edges)
	labels := Communities(g, rand.New(rand.NewSource(7)))

	distinct := make(map[int]struct{})
	for _, l := range labels {
		distinct[l] = struct{}{}
	}
	if len(distinct) < 2 {
		t.Errorf("got %d communities, want the bridged cliques split", len(distinct))
	}
}
