package store

import "github.com/caselight/backend/pkg/common"

// FoldEdgeEvidence merges one relationship row into its surviving
// counterpart: strength keeps the maximum, the evidence arrays union,
// and an empty description is backfilled. Used when an entity merge
// collapses two edges onto the same (entity_a, entity_b, type) key.
func FoldEdgeEvidence(into, from common.EntityRelationship) common.EntityRelationship {
	if from.Strength > into.Strength {
		into.Strength = from.Strength
	}
	into.ChunkIDs = DedupeInt64s(append(into.ChunkIDs, from.ChunkIDs...))
	into.DocumentIDs = DedupeInt64s(append(into.DocumentIDs, from.DocumentIDs...))
	if into.Description == "" {
		into.Description = from.Description
	}
	return into
}

// ChunkRange calls fn over [start, end) windows of at most chunkSize
// elements until total is covered or fn returns an error.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings returns in without empty strings or duplicates, keeping
// first-seen order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DedupeInt64s returns in without duplicates, keeping first-seen order.
func DedupeInt64s(in []int64) []int64 {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
