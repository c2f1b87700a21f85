package resolver

import (
	"context"
	"testing"

	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/store"
)

// fakeStorage keeps entities in memory keyed by (normalized name, type).
type fakeStorage struct {
	nextID   int64
	entities map[string]*common.Entity
	merges   [][2]int64
	trgm     bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{entities: make(map[string]*common.Entity)}
}

func (f *fakeStorage) key(e common.Entity) string {
	return e.DatasetID + "|" + e.NormalizedName + "|" + string(e.Type)
}

func (f *fakeStorage) FindOrCreateEntity(ctx context.Context, entity common.Entity) (*common.Entity, error) {
	if existing, ok := f.entities[f.key(entity)]; ok {
		existing.Aliases = append(existing.Aliases, entity.Aliases...)
		out := *existing
		return &out, nil
	}
	f.nextID++
	entity.ID = f.nextID
	f.entities[f.key(entity)] = &entity
	out := entity
	return &out, nil
}

func (f *fakeStorage) AddAliases(ctx context.Context, entityID int64, aliases []string) error {
	return nil
}

func (f *fakeStorage) SaveMentions(ctx context.Context, mentions []common.EntityMention) error {
	return nil
}

func (f *fakeStorage) GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error) {
	var out []common.Entity
	for _, e := range f.entities {
		if e.DatasetID == datasetID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetEntityMentions(ctx context.Context, entityID int64) ([]common.EntityMention, error) {
	return nil, nil
}

func (f *fakeStorage) GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error) {
	return nil, nil
}

func (f *fakeStorage) UpdateNetworkMetrics(ctx context.Context, datasetID string, metrics []store.EntityMetrics) error {
	return nil
}

func (f *fakeStorage) UpdateRiskScores(ctx context.Context, scores []store.EntityRisk) error {
	return nil
}

func (f *fakeStorage) MergeEntities(ctx context.Context, keepID, dropID int64) error {
	f.merges = append(f.merges, [2]int64{keepID, dropID})
	return nil
}

func (f *fakeStorage) FindSimilarEntityPairs(ctx context.Context, datasetID string, threshold float64) ([]store.SimilarEntityPair, error) {
	if !f.trgm {
		return nil, store.ErrUnsupported
	}
	return nil, nil
}

func (f *fakeStorage) HasProcedure(ctx context.Context, name string) bool { return false }
func (f *fakeStorage) HasExtension(ctx context.Context, name string) bool { return f.trgm }

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Jane ROE", "jane roe"},
		{"strips diacritics", "José Martínez", "jose martinez"},
		{"collapses whitespace", "  Jane   Roe  ", "jane roe"},
		{"drops punctuation", "Roe, Jane Q.", "roe jane q"},
		{"hyphens become spaces", "Smith-Jones", "smith jones"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeName(tt.input); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsJunkName(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"Jane Roe", false},
		{"X", true},
		{"123-456", true},
		{"unknown", true},
		{"REDACTED", true},
		{"N/A", true},
		{"Acme Corp", false},
		{" ", true},
	}

	for _, tt := range tests {
		if got := IsJunkName(tt.input); got != tt.want {
			t.Errorf("IsJunkName(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestResolveDeduplicatesOnNormalizedKey(t *testing.T) {
	storage := newFakeStorage()
	r := New(storage)

	extracted := []ai.ExtractedEntity{
		{Name: "Jane Roe", Type: "person", Confidence: 0.9},
		{Name: "JANE ROE", Type: "person", Confidence: 0.8},
		{Name: "Jané Roe", Type: "person", Confidence: 0.85},
	}
	resolved, err := r.Resolve(context.Background(), "ds", extracted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("got %d resolved, want 3", len(resolved))
	}

	first := resolved[0].Entity.ID
	for i, res := range resolved {
		if res.Entity.ID != first {
			t.Errorf("mention %d resolved to entity %d, want %d", i, res.Entity.ID, first)
		}
	}
	if len(storage.entities) != 1 {
		t.Errorf("storage holds %d entities, want 1", len(storage.entities))
	}
}

func TestResolveFilters(t *testing.T) {
	storage := newFakeStorage()
	r := New(storage)

	extracted := []ai.ExtractedEntity{
		{Name: "Jane Roe", Type: "person", Confidence: 0.9},
		{Name: "Low Conf", Type: "person", Confidence: 0.3},
		{Name: "Bad Type", Type: "spaceship", Confidence: 0.9},
		{Name: "unknown", Type: "person", Confidence: 0.9},
	}
	resolved, err := r.Resolve(context.Background(), "ds", extracted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("got %d resolved, want 1", len(resolved))
	}
	if resolved[0].Entity.Name != "Jane Roe" {
		t.Errorf("resolved name = %q", resolved[0].Entity.Name)
	}
}

func TestResolveSameNameDifferentType(t *testing.T) {
	storage := newFakeStorage()
	r := New(storage)

	extracted := []ai.ExtractedEntity{
		{Name: "Mercury", Type: "organization", Confidence: 0.9},
		{Name: "Mercury", Type: "vessel", Confidence: 0.9},
	}
	resolved, err := r.Resolve(context.Background(), "ds", extracted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("got %d resolved, want 2", len(resolved))
	}
	if resolved[0].Entity.ID == resolved[1].Entity.ID {
		t.Error("different types resolved to the same entity")
	}
}

func TestTrigramSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "jane roe", "jane roe", 1.0, 1.0},
		{"disjoint", "abc", "xyz", 0.0, 0.0},
		{"close variants", "jeffrey epstein", "jeffery epstein", 0.55, 0.99},
		{"unrelated names", "jane roe", "acme corporation", 0.0, 0.2},
		{"both empty", "", "", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrigramSimilarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("TrigramSimilarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestFindDuplicatesInProcess(t *testing.T) {
	storage := newFakeStorage()
	r := New(storage)

	seed := []common.Entity{
		{DatasetID: "ds", Name: "Jeffrey Epstein", NormalizedName: "jeffrey epstein", Type: common.EntityPerson},
		{DatasetID: "ds", Name: "Jeffery Epstein", NormalizedName: "jeffery epstein", Type: common.EntityPerson},
		{DatasetID: "ds", Name: "Jeffrey Epstein", NormalizedName: "jeffrey epstein", Type: common.EntityOrganization},
		{DatasetID: "ds", Name: "Acme Corp", NormalizedName: "acme corp", Type: common.EntityPerson},
	}
	for _, e := range seed {
		if _, err := storage.FindOrCreateEntity(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	pairs, err := r.FindDuplicates(context.Background(), "ds", 0.55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1: %+v", len(pairs), pairs)
	}
	if pairs[0].Type != "person" {
		t.Errorf("pair type = %q, want person", pairs[0].Type)
	}
	if pairs[0].AID >= pairs[0].BID {
		t.Errorf("pair ids not ordered: %d >= %d", pairs[0].AID, pairs[0].BID)
	}
}
