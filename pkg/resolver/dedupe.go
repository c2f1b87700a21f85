package resolver

import (
	"context"
	"errors"
	"sort"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

// DefaultDuplicateThreshold is the minimum name similarity for a pair to
// appear in a duplicate report.
const DefaultDuplicateThreshold = 0.55

// DuplicatePair is one candidate duplicate. Pairs are reported for
// review; nothing merges automatically.
type DuplicatePair struct {
	AID        int64   `json:"a_id"`
	BID        int64   `json:"b_id"`
	AName      string  `json:"a_name"`
	BName      string  `json:"b_name"`
	Type       string  `json:"type"`
	Similarity float64 `json:"similarity"`
}

// FindDuplicates reports same-type entity pairs whose normalized names
// are similar. The database's trigram index does the comparison when
// available; otherwise every pair is compared in process with the same
// trigram measure.
func (r *Resolver) FindDuplicates(ctx context.Context, datasetID string, threshold float64) ([]DuplicatePair, error) {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}

	pairs, err := r.storage.FindSimilarEntityPairs(ctx, datasetID, threshold)
	if err == nil {
		out := make([]DuplicatePair, len(pairs))
		for i, p := range pairs {
			out[i] = DuplicatePair{
				AID: p.AID, BID: p.BID,
				AName: p.AName, BName: p.BName,
				Type: p.Type, Similarity: p.Similarity,
			}
		}
		return out, nil
	}
	if !errors.Is(err, store.ErrUnsupported) {
		return nil, err
	}

	logger.Debug("[Resolver] Trigram index unavailable, comparing in process", "dataset", datasetID)
	entities, err := r.storage.GetEntitiesByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return findDuplicatesInProcess(entities, threshold), nil
}

func findDuplicatesInProcess(entities []common.Entity, threshold float64) []DuplicatePair {
	// Bucket by type first: cross-type pairs are never duplicates.
	byType := make(map[common.EntityType][]common.Entity)
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	var out []DuplicatePair
	for entityType, group := range byType {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				sim := TrigramSimilarity(group[i].NormalizedName, group[j].NormalizedName)
				if sim < threshold {
					continue
				}
				a, b := group[i], group[j]
				if a.ID > b.ID {
					a, b = b, a
				}
				out = append(out, DuplicatePair{
					AID: a.ID, BID: b.ID,
					AName: a.Name, BName: b.Name,
					Type: string(entityType), Similarity: sim,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].AID != out[j].AID {
			return out[i].AID < out[j].AID
		}
		return out[i].BID < out[j].BID
	})
	return out
}

// Merge folds duplicate into keep. It exists as a thin wrapper so callers
// go through the resolver rather than storage directly.
func (r *Resolver) Merge(ctx context.Context, keepID, dropID int64) error {
	return r.storage.MergeEntities(ctx, keepID, dropID)
}

// TrigramSimilarity computes the Jaccard similarity of the padded
// trigram sets of a and b, matching pg_trgm's measure: two leading and
// one trailing space pad each string before trigrams are taken.
func TrigramSimilarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}

	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramSet(s string) map[string]struct{} {
	if s == "" {
		return nil
	}
	padded := []rune("  " + s + " ")
	set := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		set[string(padded[i:i+3])] = struct{}{}
	}
	return set
}
