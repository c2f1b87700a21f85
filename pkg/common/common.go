package common

// Document is one scanned record moving through the processing pipeline.
// It is created at ingestion and mutated by every stage handler; the core
// never deletes documents.
type Document struct {
	ID             int64          `json:"id"`
	PublicID       string         `json:"public_id"`
	DatasetID      string         `json:"dataset_id"`
	Filename       string         `json:"filename"`
	StorageKey     string         `json:"storage_key"`
	Text           string         `json:"text"`
	Classification Classification `json:"classification"`
	Summary        string         `json:"summary,omitempty"`

	// Payloads holds stage outputs that attach to the document as a whole,
	// keyed by stage name (timelines, email records, financial records).
	Payloads map[string]any `json:"payloads,omitempty"`

	// CompletedStages is a grow-only set: concurrent writers may only add
	// to it, never remove, so progress can never regress under races.
	CompletedStages  []Stage `json:"completed_stages"`
	ProcessingStatus Status  `json:"processing_status"`
	ErrorMessage     string  `json:"error_message"`
}

// Classification is the document-type judgement attached by the classify
// stage. The primary type selects the probative tier used for evidence
// weighting.
type Classification struct {
	PrimaryType   string   `json:"primary_type"`
	Confidence    float64  `json:"confidence"`
	SecondaryTags []string `json:"secondary_tags"`
}

// Status tracks a document's position in the pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Chunk is a bounded, structure-aware segment of a document's text.
// Index ordering is immutable once the set is created; re-chunking deletes
// and recreates the full set under a lease lock.
type Chunk struct {
	ID            int64    `json:"id"`
	PublicID      string   `json:"public_id"`
	DocumentID    int64    `json:"document_id"`
	Index         int      `json:"index"`
	Content       string   `json:"content"`
	PageNumber    int      `json:"page_number"`
	SectionTitle  string   `json:"section_title"`
	HierarchyPath []string `json:"hierarchy_path"`
	CharCount     int      `json:"char_count"`
	TokenCount    int      `json:"token_count"`

	ContextHeader  string    `json:"context_header,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
}

// EntityType is the closed vocabulary of entity kinds.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityAircraft     EntityType = "aircraft"
	EntityVessel       EntityType = "vessel"
	EntityAccount      EntityType = "account"
	EntityEvent        EntityType = "event"
)

// KnownEntityTypes lists every accepted entity type. Extraction results
// with a type outside this set are discarded.
var KnownEntityTypes = []EntityType{
	EntityPerson, EntityOrganization, EntityLocation,
	EntityAircraft, EntityVessel, EntityAccount, EntityEvent,
}

// Entity is a node in the evidence graph. (NormalizedName, Type) is the
// dedup key: the resolver must find-or-create against it.
type Entity struct {
	ID             int64              `json:"id"`
	PublicID       string             `json:"public_id"`
	DatasetID      string             `json:"dataset_id"`
	Name           string             `json:"name"`
	NormalizedName string             `json:"normalized_name"`
	Type           EntityType         `json:"type"`
	Aliases        []string           `json:"aliases"`
	MentionCount   int                `json:"mention_count"`
	DocumentCount  int                `json:"document_count"`
	Category       string             `json:"category,omitempty"`
	RiskScore      float64            `json:"risk_score"`
	RiskFactors    map[string]float64 `json:"risk_factors,omitempty"`

	PageRank    float64 `json:"pagerank"`
	Betweenness float64 `json:"betweenness"`
	CommunityID int     `json:"community_id"`
}

// MentionType grades how directly a mention ties an entity to a document.
type MentionType string

const (
	MentionDirect       MentionType = "direct"
	MentionIndirect     MentionType = "indirect"
	MentionImplied      MentionType = "implied"
	MentionCooccurrence MentionType = "co_occurrence"
)

// EntityMention links an entity to one occurrence in a chunk.
type EntityMention struct {
	ID             int64       `json:"id"`
	PublicID       string      `json:"public_id"`
	EntityID       int64       `json:"entity_id"`
	DocumentID     int64       `json:"document_id"`
	ChunkID        int64       `json:"chunk_id"`
	Text           string      `json:"text"`
	Context        string      `json:"context"`
	Confidence     float64     `json:"confidence"`
	MentionType    MentionType `json:"mention_type"`
	EvidenceWeight float64     `json:"evidence_weight"`
}

// RelationType is the closed vocabulary of relationship kinds.
type RelationType string

const (
	RelationAssociate   RelationType = "associate"
	RelationEmployment  RelationType = "employment"
	RelationFinancial   RelationType = "financial"
	RelationTravel      RelationType = "travel"
	RelationLegal       RelationType = "legal"
	RelationFamily      RelationType = "family"
	RelationOwnership   RelationType = "ownership"
	RelationCommunicate RelationType = "communication"
	RelationCooccur     RelationType = "co_occurrence"
)

// KnownRelationTypes lists every accepted relationship type.
var KnownRelationTypes = []RelationType{
	RelationAssociate, RelationEmployment, RelationFinancial,
	RelationTravel, RelationLegal, RelationFamily,
	RelationOwnership, RelationCommunicate, RelationCooccur,
}

// EntityRelationship is an undirected edge between two entities. EntityA
// is always the lower id so A-B and B-A collapse into one row; at most one
// row exists per (EntityA, EntityB, Type). Evidence arrays union on merge
// and strength only increases.
type EntityRelationship struct {
	ID          int64        `json:"id"`
	DatasetID   string       `json:"dataset_id"`
	EntityA     int64        `json:"entity_a"`
	EntityB     int64        `json:"entity_b"`
	Type        RelationType `json:"type"`
	Strength    float64      `json:"strength"`
	ChunkIDs    []int64      `json:"chunk_ids"`
	DocumentIDs []int64      `json:"document_ids"`
	Description string       `json:"description"`
}

// RedactionStatus tracks whether a redaction has been resolved.
type RedactionStatus string

const (
	RedactionUnsolved  RedactionStatus = "unsolved"
	RedactionSolved    RedactionStatus = "solved"
	RedactionConfirmed RedactionStatus = "confirmed"
)

// Redaction is one blacked-out span detected in a document.
type Redaction struct {
	ID               int64           `json:"id"`
	DocumentID       int64           `json:"document_id"`
	ChunkID          int64           `json:"chunk_id"`
	PageNumber       int             `json:"page_number"`
	Type             string          `json:"type"`
	EstimatedLength  int             `json:"estimated_length"`
	SurroundingText  string          `json:"surrounding_text"`
	ContextEmbedding []float32       `json:"context_embedding,omitempty"`
	Status           RedactionStatus `json:"status"`
	SolvedText       string          `json:"solved_text,omitempty"`

	SourceRedactionID int64 `json:"source_redaction_id,omitempty"`
	CascadeDepth      int   `json:"cascade_depth"`
	CascadeCount      int   `json:"cascade_count"`
}

// ProposalStatus tracks the review state of a redaction proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalConfirmed ProposalStatus = "confirmed"
	ProposalRejected  ProposalStatus = "rejected"
)

// RedactionProposal is a candidate resolution for a redaction.
type RedactionProposal struct {
	ID                  int64          `json:"id"`
	PublicID            string         `json:"public_id"`
	RedactionID         int64          `json:"redaction_id"`
	ProposedText        string         `json:"proposed_text"`
	ProposedEntityID    int64          `json:"proposed_entity_id,omitempty"`
	EvidenceType        string         `json:"evidence_type"`
	EvidenceDescription string         `json:"evidence_description"`
	UpVotes             int            `json:"up_votes"`
	DownVotes           int            `json:"down_votes"`
	Status              ProposalStatus `json:"status"`
}
