package store

import (
	"context"
	"errors"

	"github.com/caselight/backend/pkg/common"
)

// ErrUnsupported is returned when a backend cannot serve an optional
// server-side fast path.
var ErrUnsupported = errors.New("operation not supported by storage backend")

// DocumentStore persists documents and their pipeline progress.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (*common.Document, error)
	GetDocumentsForProcessing(ctx context.Context, datasetID string, limit int) ([]common.Document, error)
	GetDocumentsByDataset(ctx context.Context, datasetID string) ([]common.Document, error)
	GetDocumentsByType(ctx context.Context, datasetID, primaryType string) ([]common.Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status common.Status, errorMessage string) error
	SetText(ctx context.Context, id int64, text string) error
	SetClassification(ctx context.Context, id int64, class common.Classification) error
	SetSummary(ctx context.Context, id int64, summary string) error
	SetPayload(ctx context.Context, id int64, key string, payload any) error

	// AppendCompletedStage adds a stage to the document's completed set.
	// The set is grow-only: concurrent appends union, they never overwrite.
	AppendCompletedStage(ctx context.Context, id int64, stage common.Stage) error
}

// ChunkStore persists document chunks and their embeddings.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID int64, chunks []common.Chunk) ([]int64, error)
	GetChunks(ctx context.Context, documentID int64) ([]common.Chunk, error)
	UpdateChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32, model string) error
	UpdateChunkContextHeader(ctx context.Context, chunkID int64, header string) error
}

// EntityStore persists entities, mentions, and graph metrics.
type EntityStore interface {
	FindOrCreateEntity(ctx context.Context, entity common.Entity) (*common.Entity, error)
	AddAliases(ctx context.Context, entityID int64, aliases []string) error
	SaveMentions(ctx context.Context, mentions []common.EntityMention) error
	GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error)
	GetEntityMentions(ctx context.Context, entityID int64) ([]common.EntityMention, error)
	GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error)
	UpdateNetworkMetrics(ctx context.Context, datasetID string, metrics []EntityMetrics) error
	UpdateRiskScores(ctx context.Context, scores []EntityRisk) error
	MergeEntities(ctx context.Context, keepID, dropID int64) error

	// FindSimilarEntityPairs returns same-type entity pairs whose names
	// exceed the similarity threshold, computed server-side. Backends
	// without a trigram index return store.ErrUnsupported and callers
	// fall back to in-process comparison.
	FindSimilarEntityPairs(ctx context.Context, datasetID string, threshold float64) ([]SimilarEntityPair, error)
}

// SimilarEntityPair is one candidate duplicate reported by the database.
type SimilarEntityPair struct {
	AID        int64
	BID        int64
	AName      string
	BName      string
	Type       string
	Similarity float64
}

// EntityMetrics is one entity's network metric write-back row.
type EntityMetrics struct {
	EntityID    int64
	PageRank    float64
	Betweenness float64
	CommunityID int
}

// EntityRisk is one entity's risk score write-back row.
type EntityRisk struct {
	EntityID    int64
	RiskScore   float64
	RiskFactors map[string]float64
}

// RelationshipStore persists undirected entity relationships.
type RelationshipStore interface {
	// UpsertRelationships merges edges on (entity_a, entity_b, type) with
	// entity_a < entity_b. Evidence arrays union, strength keeps the max.
	UpsertRelationships(ctx context.Context, datasetID string, relations []common.EntityRelationship) error
	GetRelationshipsByDataset(ctx context.Context, datasetID string) ([]common.EntityRelationship, error)
}

// RedactionStore persists redactions, proposals, and the cascade.
type RedactionStore interface {
	SaveRedactions(ctx context.Context, redactions []common.Redaction) ([]int64, error)
	GetRedaction(ctx context.Context, id int64) (*common.Redaction, error)
	GetUnsolvedRedactions(ctx context.Context, datasetID string) ([]common.Redaction, error)
	SaveProposals(ctx context.Context, proposals []common.RedactionProposal) error

	// ConfirmRedactionCascade marks a redaction solved and proposes the
	// same text for compatible unsolved redactions. The whole operation is
	// atomic: either the confirmation and every proposal land, or nothing.
	ConfirmRedactionCascade(ctx context.Context, params CascadeParams) (*CascadeResult, error)
}

// CascadeParams configures one cascade confirmation.
type CascadeParams struct {
	RedactionID         int64
	SolvedText          string
	SimilarityThreshold float64
	LengthTolerance     int
}

// CascadeResult reports the outcome of a cascade confirmation.
type CascadeResult struct {
	Confirmed    bool   `json:"confirmed"`
	CascadeCount int    `json:"cascade_count"`
	Reason       string `json:"reason,omitempty"`
}

// Capabilities reports what the connected database supports, so callers
// can pick between server-side fast paths and client-side fallbacks.
type Capabilities interface {
	HasProcedure(ctx context.Context, name string) bool
	HasExtension(ctx context.Context, name string) bool
}

// ArchiveStorage is the full persistence surface of the pipeline.
type ArchiveStorage interface {
	DocumentStore
	ChunkStore
	EntityStore
	RelationshipStore
	RedactionStore
	Capabilities
}
