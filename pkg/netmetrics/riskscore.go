package netmetrics

import (
	"context"
	"fmt"

	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

// Factor blend for risk scoring. Evidence dominates because it carries
// the probative tier of the underlying documents.
const (
	riskEvidenceWeight     = 0.4
	riskConnectivityWeight = 0.3
	riskCentralityWeight   = 0.3
)

// ScoreRisk computes a risk score per entity from three normalized
// factors: accumulated mention evidence weight, total incident
// relationship strength, and PageRank. Each factor is scaled by the
// dataset maximum so scores stay in [0, 1] and remain comparable within
// a dataset. Requires network metrics to have run first; entities with
// zero PageRank simply score lower on centrality.
func (e *Engine) ScoreRisk(ctx context.Context, datasetID string, dryRun bool) error {
	entities, err := e.storage.GetEntitiesByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	if len(entities) == 0 {
		return nil
	}

	relationships, err := e.storage.GetRelationshipsByDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	strengthByEntity := make(map[int64]float64, len(entities))
	for _, rel := range relationships {
		strengthByEntity[rel.EntityA] += rel.Strength
		strengthByEntity[rel.EntityB] += rel.Strength
	}

	evidenceByEntity := make(map[int64]float64, len(entities))
	for _, ent := range entities {
		mentions, err := e.storage.GetEntityMentions(ctx, ent.ID)
		if err != nil {
			return fmt.Errorf("load mentions for entity %d: %w", ent.ID, err)
		}
		total := 0.0
		for _, m := range mentions {
			total += m.EvidenceWeight
		}
		evidenceByEntity[ent.ID] = total
	}

	var maxEvidence, maxStrength, maxPageRank float64
	for _, ent := range entities {
		if evidenceByEntity[ent.ID] > maxEvidence {
			maxEvidence = evidenceByEntity[ent.ID]
		}
		if strengthByEntity[ent.ID] > maxStrength {
			maxStrength = strengthByEntity[ent.ID]
		}
		if ent.PageRank > maxPageRank {
			maxPageRank = ent.PageRank
		}
	}

	scores := make([]store.EntityRisk, 0, len(entities))
	for _, ent := range entities {
		evidence := normalize(evidenceByEntity[ent.ID], maxEvidence)
		connectivity := normalize(strengthByEntity[ent.ID], maxStrength)
		centrality := normalize(ent.PageRank, maxPageRank)

		scores = append(scores, store.EntityRisk{
			EntityID: ent.ID,
			RiskScore: riskEvidenceWeight*evidence +
				riskConnectivityWeight*connectivity +
				riskCentralityWeight*centrality,
			RiskFactors: map[string]float64{
				"evidence":     evidence,
				"connectivity": connectivity,
				"centrality":   centrality,
			},
		})
	}

	if dryRun {
		logger.Info("[NetMetrics] Dry run, risk scores not written", "dataset", datasetID, "entities", len(scores))
		return nil
	}

	if err := e.storage.UpdateRiskScores(ctx, scores); err != nil {
		return fmt.Errorf("update risk scores: %w", err)
	}
	logger.Info("[NetMetrics] Risk scores written", "dataset", datasetID, "entities", len(scores))
	return nil
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}
