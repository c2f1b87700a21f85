// Package relbuilder converts model-extracted relationships into graph
// edges and computes the evidence weights attached to mentions. Edges
// are undirected: the lower entity id always goes first so A-B and B-A
// collapse into one row when stored.
package relbuilder

import (
	"strings"

	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/resolver"
)

// Build turns extracted relationships from one chunk into edges ready
// for upsert. entityIDs maps normalized entity names to their canonical
// ids; relationships naming entities outside that map are dropped, as
// are self-edges and unknown relation types. Dropping is logged, never
// an error: one hallucinated name must not fail the chunk.
func Build(datasetID string, chunkID, documentID int64, extracted []ai.ExtractedRelationship, entityIDs map[string]int64) []common.EntityRelationship {
	edges := make([]common.EntityRelationship, 0, len(extracted))

	for _, ex := range extracted {
		relType := common.RelationType(strings.ToLower(strings.TrimSpace(ex.Type)))
		if !knownRelationType(relType) {
			logger.Debug("[RelBuilder] Dropping unknown relation type", "type", ex.Type)
			continue
		}

		sourceID, ok := entityIDs[resolver.NormalizeName(ex.SourceEntity)]
		if !ok {
			logger.Debug("[RelBuilder] Dropping relationship with unresolved source", "source", ex.SourceEntity)
			continue
		}
		targetID, ok := entityIDs[resolver.NormalizeName(ex.TargetEntity)]
		if !ok {
			logger.Debug("[RelBuilder] Dropping relationship with unresolved target", "target", ex.TargetEntity)
			continue
		}
		if sourceID == targetID {
			continue
		}

		a, b := sourceID, targetID
		if a > b {
			a, b = b, a
		}

		edges = append(edges, common.EntityRelationship{
			DatasetID:   datasetID,
			EntityA:     a,
			EntityB:     b,
			Type:        relType,
			Strength:    ex.Confidence,
			ChunkIDs:    []int64{chunkID},
			DocumentIDs: []int64{documentID},
			Description: strings.TrimSpace(ex.Description),
		})
	}

	return mergeDuplicateEdges(edges)
}

// mergeDuplicateEdges collapses edges sharing a (a, b, type) key within
// one chunk's batch. Strength takes the max, evidence arrays union, and
// the longer description wins, mirroring what the store does across
// batches.
func mergeDuplicateEdges(edges []common.EntityRelationship) []common.EntityRelationship {
	type key struct {
		a, b int64
		t    common.RelationType
	}

	index := make(map[key]int, len(edges))
	out := edges[:0]
	for _, e := range edges {
		k := key{e.EntityA, e.EntityB, e.Type}
		if i, ok := index[k]; ok {
			if e.Strength > out[i].Strength {
				out[i].Strength = e.Strength
			}
			out[i].ChunkIDs = unionInt64s(out[i].ChunkIDs, e.ChunkIDs)
			out[i].DocumentIDs = unionInt64s(out[i].DocumentIDs, e.DocumentIDs)
			if len(e.Description) > len(out[i].Description) {
				out[i].Description = e.Description
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

func unionInt64s(existing, incoming []int64) []int64 {
	seen := make(map[int64]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}

func knownRelationType(t common.RelationType) bool {
	for _, known := range common.KnownRelationTypes {
		if t == known {
			return true
		}
	}
	return false
}
