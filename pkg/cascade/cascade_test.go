package cascade

import (
	"context"
	"testing"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/store"
)

// fakeRedactionStore mimics the server-side cascade: type must match,
// status must be unsolved, and estimated length must be within the
// tolerance of the solved text.
type fakeRedactionStore struct {
	redactions map[int64]*common.Redaction
	proposals  []common.RedactionProposal
	lastParams store.CascadeParams
}

func (f *fakeRedactionStore) SaveRedactions(ctx context.Context, redactions []common.Redaction) ([]int64, error) {
	return nil, nil
}

func (f *fakeRedactionStore) GetRedaction(ctx context.Context, id int64) (*common.Redaction, error) {
	return f.redactions[id], nil
}

func (f *fakeRedactionStore) GetUnsolvedRedactions(ctx context.Context, datasetID string) ([]common.Redaction, error) {
	return nil, nil
}

func (f *fakeRedactionStore) SaveProposals(ctx context.Context, proposals []common.RedactionProposal) error {
	f.proposals = append(f.proposals, proposals...)
	return nil
}

func (f *fakeRedactionStore) ConfirmRedactionCascade(ctx context.Context, params store.CascadeParams) (*store.CascadeResult, error) {
	f.lastParams = params

	src, ok := f.redactions[params.RedactionID]
	if !ok {
		return &store.CascadeResult{Confirmed: false, Reason: "redaction not found"}, nil
	}
	if src.Status != common.RedactionUnsolved {
		return &store.CascadeResult{Confirmed: false, Reason: "redaction is not unsolved"}, nil
	}
	src.Status = common.RedactionConfirmed
	src.SolvedText = params.SolvedText

	count := 0
	for id, r := range f.redactions {
		if id == params.RedactionID || r.Status != common.RedactionUnsolved || r.Type != src.Type {
			continue
		}
		diff := r.EstimatedLength - len(params.SolvedText)
		if diff < 0 {
			diff = -diff
		}
		if diff > params.LengthTolerance {
			continue
		}
		f.proposals = append(f.proposals, common.RedactionProposal{
			RedactionID:  id,
			ProposedText: params.SolvedText,
			EvidenceType: "cascade",
		})
		count++
	}
	return &store.CascadeResult{Confirmed: true, CascadeCount: count}, nil
}

func TestConfirmCascadesToMatchingRedactions(t *testing.T) {
	storage := &fakeRedactionStore{redactions: map[int64]*common.Redaction{
		1: {ID: 1, Type: "name", EstimatedLength: 8, Status: common.RedactionUnsolved},
		2: {ID: 2, Type: "name", EstimatedLength: 9, Status: common.RedactionUnsolved},
		3: {ID: 3, Type: "location", EstimatedLength: 8, Status: common.RedactionUnsolved},
	}}
	engine := NewEngine(storage)

	outcome, err := engine.Confirm(context.Background(), 1, "Jane Roe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Confirmed {
		t.Fatalf("not confirmed: %s", outcome.Reason)
	}
	if outcome.CascadeCount != 1 {
		t.Errorf("cascade count = %d, want 1", outcome.CascadeCount)
	}
	if len(storage.proposals) != 1 {
		t.Fatalf("got %d proposals, want 1", len(storage.proposals))
	}
	if storage.proposals[0].RedactionID != 2 {
		t.Errorf("proposal targets redaction %d, want 2", storage.proposals[0].RedactionID)
	}
	if storage.proposals[0].EvidenceType != "cascade" {
		t.Errorf("evidence type = %q, want cascade", storage.proposals[0].EvidenceType)
	}
}

func TestConfirmRejectedIsNotAnError(t *testing.T) {
	storage := &fakeRedactionStore{redactions: map[int64]*common.Redaction{
		1: {ID: 1, Type: "name", EstimatedLength: 8, Status: common.RedactionConfirmed},
	}}
	engine := NewEngine(storage)

	outcome, err := engine.Confirm(context.Background(), 1, "Jane Roe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Confirmed {
		t.Error("already-confirmed redaction confirmed again")
	}
	if outcome.Reason == "" {
		t.Error("rejection carries no reason")
	}
}

func TestConfirmEmptySolvedText(t *testing.T) {
	engine := NewEngine(&fakeRedactionStore{})
	if _, err := engine.Confirm(context.Background(), 1, "   "); err == nil {
		t.Error("expected error for empty solved text")
	}
}

func TestConfirmPassesDefaults(t *testing.T) {
	storage := &fakeRedactionStore{redactions: map[int64]*common.Redaction{
		1: {ID: 1, Type: "name", EstimatedLength: 8, Status: common.RedactionUnsolved},
	}}
	engine := NewEngine(storage)

	if _, err := engine.Confirm(context.Background(), 1, "Jane Roe"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.lastParams.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("similarity threshold = %v, want %v", storage.lastParams.SimilarityThreshold, DefaultSimilarityThreshold)
	}
	if storage.lastParams.LengthTolerance != DefaultLengthTolerance {
		t.Errorf("length tolerance = %v, want %v", storage.lastParams.LengthTolerance, DefaultLengthTolerance)
	}
}
