package stages

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/store"
)

// fakeModel serves canned JSON for structured calls, keyed by schema
// name, and a fixed embedding vector.
type fakeModel struct {
	responses map[string]string
	embedding []float32
}

func (f *fakeModel) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (f *fakeModel) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	raw, ok := f.responses[name]
	if !ok {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeModel) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return f.embedding, nil
}

func (f *fakeModel) GenerateImageEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	return f.embedding, nil
}

func (f *fakeModel) ResetMetrics()               {}
func (f *fakeModel) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// fakeStageStore stubs only what the handler under test touches; any
// other storage call panics through the embedded nil interface.
type fakeStageStore struct {
	store.ArchiveStorage
	chunks     []common.Chunk
	redactions []common.Redaction
}

func (f *fakeStageStore) GetChunks(ctx context.Context, documentID int64) ([]common.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeStageStore) SaveRedactions(ctx context.Context, redactions []common.Redaction) ([]int64, error) {
	f.redactions = append(f.redactions, redactions...)
	ids := make([]int64, len(redactions))
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}

func TestRedactionDetectEmbedsContext(t *testing.T) {
	model := &fakeModel{
		responses: map[string]string{
			"redaction_detection": `{"redactions":[
				{"type":"name","estimated_length":11,"surrounding_text":"the flight was arranged by","page_number":2},
				{"type":"location","estimated_length":8,"surrounding_text":""}
			]}`,
		},
		embedding: []float32{0.5, 0.25},
	}
	storage := &fakeStageStore{
		chunks: []common.Chunk{{ID: 3, DocumentID: 9, PageNumber: 1, Content: "redacted passage"}},
	}
	deps := Deps{Storage: storage, Caps: ai.NewCapabilities(model, nil)}

	if err := deps.runRedactionDetect(context.Background(), &common.Document{ID: 9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(storage.redactions) != 2 {
		t.Fatalf("got %d redactions, want 2", len(storage.redactions))
	}

	withContext := storage.redactions[0]
	if withContext.ChunkID != 3 || withContext.PageNumber != 2 {
		t.Errorf("redaction = chunk %d page %d, want chunk 3 page 2", withContext.ChunkID, withContext.PageNumber)
	}
	if !reflect.DeepEqual(withContext.ContextEmbedding, []float32{0.5, 0.25}) {
		t.Errorf("context embedding = %v, want the embedded surrounding text", withContext.ContextEmbedding)
	}

	// No surrounding text means nothing to embed, and therefore no
	// cascade eligibility.
	if storage.redactions[1].ContextEmbedding != nil {
		t.Errorf("embedding for empty context = %v, want none", storage.redactions[1].ContextEmbedding)
	}
	if storage.redactions[1].PageNumber != 1 {
		t.Errorf("page = %d, want chunk page 1", storage.redactions[1].PageNumber)
	}
}
