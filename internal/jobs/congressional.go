package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
)

const (
	congressionalIndicatorWeight = 0.4
	congressionalRedactionWeight = 0.3
	congressionalRiskWeight      = 0.3
)

// CongressionalStorage is the persistence surface of the scoring pass.
type CongressionalStorage interface {
	GetDocumentsByDataset(ctx context.Context, datasetID string) ([]common.Document, error)
	GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error)
	GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error)
	GetUnsolvedRedactions(ctx context.Context, datasetID string) ([]common.Redaction, error)
	SetPayload(ctx context.Context, id int64, key string, payload any) error
}

// DocumentScore is one document's disclosure priority.
type DocumentScore struct {
	DocumentID int64              `json:"document_id"`
	Score      float64            `json:"score"`
	Factors    map[string]float64 `json:"factors"`
}

// CongressionalScore ranks documents by how much they warrant review
// before release: flagged criminal indicators, still-unsolved
// redactions, and the riskiest entity mentioned. Factors are normalized
// against the dataset maximum, so scores are comparable within one
// dataset only. Scores land in the document's payloads.
func CongressionalScore(ctx context.Context, st CongressionalStorage, datasetID string, dryRun bool) ([]DocumentScore, error) {
	docs, err := st.GetDocumentsByDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	entities, err := st.GetEntitiesByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	riskByEntity := make(map[int64]float64, len(entities))
	for _, e := range entities {
		riskByEntity[e.ID] = e.RiskScore
	}

	redactions, err := st.GetUnsolvedRedactions(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	unsolvedByDoc := make(map[int64]float64)
	for _, r := range redactions {
		unsolvedByDoc[r.DocumentID]++
	}

	indicators := make([]float64, len(docs))
	maxRisks := make([]float64, len(docs))
	var maxIndicators, maxUnsolved float64
	for i, doc := range docs {
		indicators[i] = float64(payloadLen(doc.Payloads[string(common.StageCriminalIndicators)]))
		if indicators[i] > maxIndicators {
			maxIndicators = indicators[i]
		}
		if unsolvedByDoc[doc.ID] > maxUnsolved {
			maxUnsolved = unsolvedByDoc[doc.ID]
		}

		mentions, err := st.GetMentionsByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("mentions for document %d: %w", doc.ID, err)
		}
		for _, m := range mentions {
			if risk := riskByEntity[m.EntityID]; risk > maxRisks[i] {
				maxRisks[i] = risk
			}
		}
	}

	scores := make([]DocumentScore, len(docs))
	for i, doc := range docs {
		factors := map[string]float64{
			"indicators": normalizeFactor(indicators[i], maxIndicators),
			"redactions": normalizeFactor(unsolvedByDoc[doc.ID], maxUnsolved),
			"risk":       maxRisks[i],
		}
		scores[i] = DocumentScore{
			DocumentID: doc.ID,
			Score: congressionalIndicatorWeight*factors["indicators"] +
				congressionalRedactionWeight*factors["redactions"] +
				congressionalRiskWeight*factors["risk"],
			Factors: factors,
		}
	}

	logger.Info("[Congressional] Pass finished", "dataset", datasetID, "documents", len(scores), "dryRun", dryRun)
	if dryRun {
		return scores, nil
	}

	for _, sc := range scores {
		payload := map[string]any{"score": sc.Score, "factors": sc.Factors}
		if err := st.SetPayload(ctx, sc.DocumentID, string(common.StageCongressionalScore), payload); err != nil {
			return nil, fmt.Errorf("store score for document %d: %w", sc.DocumentID, err)
		}
	}
	return scores, nil
}

// SortScores orders scores highest first, ties broken by document id.
func SortScores(scores []DocumentScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].DocumentID < scores[j].DocumentID
	})
}

func normalizeFactor(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}

// payloadLen counts the items of a list-shaped payload. Payloads come
// back from storage as decoded JSON, so the stored []ai.CriminalIndicator
// arrives as []any.
func payloadLen(v any) int {
	switch t := v.(type) {
	case []any:
		return len(t)
	case nil:
		return 0
	default:
		return 0
	}
}
