package netmetrics

import (
	"context"
	"math"
	"testing"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/store"
)

type fakeStorage struct {
	entities      []common.Entity
	relationships []common.EntityRelationship
	mentions      map[int64][]common.EntityMention

	writtenMetrics []store.EntityMetrics
	writtenRisks   []store.EntityRisk
}

func (f *fakeStorage) FindOrCreateEntity(ctx context.Context, entity common.Entity) (*common.Entity, error) {
	return nil, nil
}

func (f *fakeStorage) AddAliases(ctx context.Context, entityID int64, aliases []string) error {
	return nil
}

func (f *fakeStorage) SaveMentions(ctx context.Context, mentions []common.EntityMention) error {
	return nil
}

func (f *fakeStorage) GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error) {
	return f.entities, nil
}

func (f *fakeStorage) GetEntityMentions(ctx context.Context, entityID int64) ([]common.EntityMention, error) {
	return f.mentions[entityID], nil
}

func (f *fakeStorage) GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error) {
	return nil, nil
}

func (f *fakeStorage) UpdateNetworkMetrics(ctx context.Context, datasetID string, metrics []store.EntityMetrics) error {
	f.writtenMetrics = metrics
	return nil
}

func (f *fakeStorage) UpdateRiskScores(ctx context.Context, scores []store.EntityRisk) error {
	f.writtenRisks = scores
	return nil
}

func (f *fakeStorage) MergeEntities(ctx context.Context, keepID, dropID int64) error { return nil }

func (f *fakeStorage) FindSimilarEntityPairs(ctx context.Context, datasetID string, threshold float64) ([]store.SimilarEntityPair, error) {
	return nil, store.ErrUnsupported
}

func (f *fakeStorage) UpsertRelationships(ctx context.Context, datasetID string, relationships []common.EntityRelationship) error {
	return nil
}

func (f *fakeStorage) GetRelationshipsByDataset(ctx context.Context, datasetID string) ([]common.EntityRelationship, error) {
	return f.relationships, nil
}

func TestEngineRunWritesMetrics(t *testing.T) {
	storage := &fakeStorage{
		entities: []common.Entity{
			{ID: 1, Name: "Jane Roe"},
			{ID: 2, Name: "Acme Corp"},
			{ID: 3, Name: "John Stone"},
		},
		relationships: []common.EntityRelationship{
			{EntityA: 1, EntityB: 2, Type: common.RelationEmployment, Strength: 0.9},
			{EntityA: 1, EntityB: 3, Type: common.RelationAssociate, Strength: 0.5},
		},
	}
	engine := NewEngine(storage, WithSeed(1))

	if err := engine.Run(context.Background(), "ds", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(storage.writtenMetrics) != 3 {
		t.Fatalf("wrote %d metrics, want 3", len(storage.writtenMetrics))
	}

	sum := 0.0
	for _, m := range storage.writtenMetrics {
		sum += m.PageRank
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("pagerank sum = %v, want 1.0", sum)
	}
}

func TestEngineDryRunDoesNotWrite(t *testing.T) {
	storage := &fakeStorage{
		entities: []common.Entity{{ID: 1, Name: "Jane Roe"}},
	}
	engine := NewEngine(storage, WithSeed(1))

	if err := engine.Run(context.Background(), "ds", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.writtenMetrics != nil {
		t.Error("dry run wrote metrics")
	}
}

func TestScoreRiskNormalizesFactors(t *testing.T) {
	storage := &fakeStorage{
		entities: []common.Entity{
			{ID: 1, Name: "Jane Roe", PageRank: 0.6},
			{ID: 2, Name: "Acme Corp", PageRank: 0.3},
		},
		relationships: []common.EntityRelationship{
			{EntityA: 1, EntityB: 2, Type: common.RelationFinancial, Strength: 0.8},
		},
		mentions: map[int64][]common.EntityMention{
			1: {{EvidenceWeight: 0.9}, {EvidenceWeight: 0.5}},
			2: {{EvidenceWeight: 0.2}},
		},
	}
	engine := NewEngine(storage, WithSeed(1))

	if err := engine.ScoreRisk(context.Background(), "ds", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(storage.writtenRisks) != 2 {
		t.Fatalf("wrote %d risks, want 2", len(storage.writtenRisks))
	}

	byID := make(map[int64]store.EntityRisk)
	for _, r := range storage.writtenRisks {
		byID[r.EntityID] = r
	}

	// Entity 1 dominates every factor, so it must score a full 1.0.
	if math.Abs(byID[1].RiskScore-1.0) > 1e-9 {
		t.Errorf("top entity risk = %v, want 1.0", byID[1].RiskScore)
	}
	if byID[2].RiskScore >= byID[1].RiskScore {
		t.Errorf("risk ordering wrong: %v >= %v", byID[2].RiskScore, byID[1].RiskScore)
	}
	for id, r := range byID {
		for factor, v := range r.RiskFactors {
			if v < 0 || v > 1 {
				t.Errorf("entity %d factor %s = %v outside [0, 1]", id, factor, v)
			}
		}
	}
}
