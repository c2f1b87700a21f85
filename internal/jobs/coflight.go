// Package jobs holds the dataset-wide batch passes the CLI schedules.
// Unlike per-document stages, each job reads across the whole dataset
// and exits when its single pass is done.
package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
)

const (
	coFlightBaseStrength = 0.3
	coFlightStepStrength = 0.1
	coFlightMaxStrength  = 0.95
)

// CoFlightStorage is the persistence surface of the co-flight pass.
type CoFlightStorage interface {
	GetDocumentsByType(ctx context.Context, datasetID, primaryType string) ([]common.Document, error)
	GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error)
	GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error)
	UpsertRelationships(ctx context.Context, datasetID string, relations []common.EntityRelationship) error
}

type coFlightPair struct {
	flights  int
	docIDs   []int64
	chunkIDs []int64
}

// CoFlightLinks builds travel relationships between people who appear on
// the same flight logs. Strength grows with the number of shared
// flights; repeat runs converge because the edge upsert keeps the
// maximum. Returns the number of edges written.
func CoFlightLinks(ctx context.Context, st CoFlightStorage, datasetID string, dryRun bool) (int, error) {
	docs, err := st.GetDocumentsByType(ctx, datasetID, "flight_log")
	if err != nil {
		return 0, fmt.Errorf("list flight logs: %w", err)
	}
	if len(docs) == 0 {
		logger.Info("[CoFlight] No flight logs in dataset", "dataset", datasetID)
		return 0, nil
	}

	entities, err := st.GetEntitiesByDataset(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	isPerson := make(map[int64]bool, len(entities))
	for _, e := range entities {
		if e.Type == common.EntityPerson {
			isPerson[e.ID] = true
		}
	}

	pairs := make(map[[2]int64]*coFlightPair)
	for _, doc := range docs {
		mentions, err := st.GetMentionsByDocument(ctx, doc.ID)
		if err != nil {
			return 0, fmt.Errorf("mentions for flight log %d: %w", doc.ID, err)
		}

		seen := make(map[int64]int64)
		var passengers []int64
		for _, m := range mentions {
			if !isPerson[m.EntityID] {
				continue
			}
			if _, ok := seen[m.EntityID]; !ok {
				seen[m.EntityID] = m.ChunkID
				passengers = append(passengers, m.EntityID)
			}
		}
		sort.Slice(passengers, func(i, j int) bool { return passengers[i] < passengers[j] })

		for i := 0; i < len(passengers); i++ {
			for j := i + 1; j < len(passengers); j++ {
				key := [2]int64{passengers[i], passengers[j]}
				p, ok := pairs[key]
				if !ok {
					p = &coFlightPair{}
					pairs[key] = p
				}
				p.flights++
				p.docIDs = append(p.docIDs, doc.ID)
				p.chunkIDs = append(p.chunkIDs, seen[passengers[i]], seen[passengers[j]])
			}
		}
	}

	edges := make([]common.EntityRelationship, 0, len(pairs))
	for key, p := range pairs {
		strength := coFlightBaseStrength + coFlightStepStrength*float64(p.flights-1)
		if strength > coFlightMaxStrength {
			strength = coFlightMaxStrength
		}
		edges = append(edges, common.EntityRelationship{
			DatasetID:   datasetID,
			EntityA:     key[0],
			EntityB:     key[1],
			Type:        common.RelationTravel,
			Strength:    strength,
			ChunkIDs:    p.chunkIDs,
			DocumentIDs: p.docIDs,
			Description: fmt.Sprintf("Appeared together on %d flight log(s)", p.flights),
		})
	}

	logger.Info("[CoFlight] Pass finished", "dataset", datasetID, "flightLogs", len(docs), "edges", len(edges), "dryRun", dryRun)
	if dryRun || len(edges) == 0 {
		return len(edges), nil
	}
	if err := st.UpsertRelationships(ctx, datasetID, edges); err != nil {
		return 0, err
	}
	return len(edges), nil
}
