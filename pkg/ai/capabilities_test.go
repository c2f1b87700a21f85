package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fakeClient returns canned JSON for structured requests, keyed by the
// schema name.
type fakeClient struct {
	responses   map[string]string
	completion  string
	err         error
	lastPrompt  string
	formatCalls int
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	f.lastPrompt = prompt
	return f.completion, f.err
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	f.formatCalls++
	f.lastPrompt = prompt
	if f.err != nil {
		return f.err
	}
	raw, ok := f.responses[name]
	if !ok {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{0.1, 0.2}, f.err
}

func (f *fakeClient) GenerateImageEmbedding(ctx context.Context, image []byte) ([]float32, error) {
	return []float32{0.3, 0.4}, f.err
}

func (f *fakeClient) ResetMetrics()            {}
func (f *fakeClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestExtractEntitiesDropsInvalid(t *testing.T) {
	fake := &fakeClient{responses: map[string]string{
		"entity_extraction": `{"entities":[
			{"name":"Jane Roe","type":"person","confidence":0.9,"mention_type":"direct"},
			{"name":"","type":"person","confidence":0.8},
			{"name":"Acme Corp","type":"organization","confidence":1.5}
		]}`,
	}}
	caps := NewCapabilities(fake, nil)

	entities, err := caps.ExtractEntities(context.Background(), "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(entities))
	}
	if entities[0].Name != "Jane Roe" {
		t.Errorf("entity name = %q, want Jane Roe", entities[0].Name)
	}
}

func TestExtractRelationships(t *testing.T) {
	t.Run("skips self relationships", func(t *testing.T) {
		fake := &fakeClient{responses: map[string]string{
			"relationship_extraction": `{"relationships":[
				{"source_entity":"A","target_entity":"A","type":"associate","confidence":0.9},
				{"source_entity":"A","target_entity":"B","type":"travel","confidence":0.7,"description":"flew together"}
			]}`,
		}}
		caps := NewCapabilities(fake, nil)

		rels, err := caps.ExtractRelationships(context.Background(), "text", []string{"A", "B"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rels) != 1 {
			t.Fatalf("got %d relationships, want 1", len(rels))
		}
		if rels[0].Type != "travel" {
			t.Errorf("type = %q, want travel", rels[0].Type)
		}
	})

	t.Run("skips single entity without a model call", func(t *testing.T) {
		fake := &fakeClient{}
		caps := NewCapabilities(fake, nil)

		rels, err := caps.ExtractRelationships(context.Background(), "text", []string{"A"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rels != nil {
			t.Errorf("got %v, want nil", rels)
		}
		if fake.formatCalls != 0 {
			t.Errorf("formatCalls = %d, want 0", fake.formatCalls)
		}
	})
}

func TestStructuredCallsDegradeUnparseableResponses(t *testing.T) {
	fake := &fakeClient{err: fmt.Errorf("garbled reply: %w", ErrUnparseable)}
	caps := NewCapabilities(fake, nil)

	entities, err := caps.ExtractEntities(context.Background(), "text")
	if err != nil {
		t.Fatalf("unparseable response became an error: %v", err)
	}
	if entities != nil {
		t.Errorf("got %v, want empty result", entities)
	}

	class, err := caps.Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("unparseable response became an error: %v", err)
	}
	if class != nil {
		t.Errorf("got %+v, want no classification", class)
	}

	redactions, err := caps.DetectRedactions(context.Background(), "text")
	if err != nil {
		t.Fatalf("unparseable response became an error: %v", err)
	}
	if redactions != nil {
		t.Errorf("got %v, want empty result", redactions)
	}
}

func TestStructuredCallsPropagateTransportErrors(t *testing.T) {
	fake := &fakeClient{err: errors.New("connection refused")}
	caps := NewCapabilities(fake, nil)

	if _, err := caps.ExtractEntities(context.Background(), "text"); err == nil {
		t.Fatal("transport error was swallowed")
	}
}

func TestClassify(t *testing.T) {
	fake := &fakeClient{responses: map[string]string{
		"document_classification": `{"primary_type":"flight_log","confidence":0.95,"secondary_tags":["travel"]}`,
	}}
	caps := NewCapabilities(fake, nil)

	class, err := caps.Classify(context.Background(), "N908JE departed...")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if class == nil {
		t.Fatal("expected classification")
	}
	if class.PrimaryType != "flight_log" {
		t.Errorf("primary type = %q, want flight_log", class.PrimaryType)
	}
}

func TestSummarizeTrimsWhitespace(t *testing.T) {
	fake := &fakeClient{completion: "  A deposition transcript.\n"}
	caps := NewCapabilities(fake, nil)

	summary, err := caps.Summarize(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "A deposition transcript." {
		t.Errorf("summary = %q", summary)
	}
}
