package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caselight/backend/pkg/common"
)

type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[int64]*common.Document
}

func newFakeDocumentStore(docs ...*common.Document) *fakeDocumentStore {
	f := &fakeDocumentStore{docs: make(map[int64]*common.Document)}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocumentStore) GetDocument(ctx context.Context, id int64) (*common.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	out := *doc
	return &out, nil
}

func (f *fakeDocumentStore) GetDocumentsForProcessing(ctx context.Context, datasetID string, limit int) ([]common.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []common.Document
	for _, d := range f.docs {
		if datasetID != "" && d.DatasetID != datasetID {
			continue
		}
		out = append(out, *d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocumentStore) GetDocumentsByDataset(ctx context.Context, datasetID string) ([]common.Document, error) {
	return f.GetDocumentsForProcessing(ctx, datasetID, 0)
}

func (f *fakeDocumentStore) GetDocumentsByType(ctx context.Context, datasetID, primaryType string) ([]common.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []common.Document
	for _, d := range f.docs {
		if d.DatasetID == datasetID && d.Classification.PrimaryType == primaryType {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDocumentStore) UpdateDocumentStatus(ctx context.Context, id int64, status common.Status, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].ProcessingStatus = status
	f.docs[id].ErrorMessage = errorMessage
	return nil
}

func (f *fakeDocumentStore) SetText(ctx context.Context, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].Text = text
	return nil
}

func (f *fakeDocumentStore) SetClassification(ctx context.Context, id int64, class common.Classification) error {
	return nil
}

func (f *fakeDocumentStore) SetSummary(ctx context.Context, id int64, summary string) error {
	return nil
}

func (f *fakeDocumentStore) SetPayload(ctx context.Context, id int64, key string, payload any) error {
	return nil
}

func (f *fakeDocumentStore) AppendCompletedStage(ctx context.Context, id int64, stage common.Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].CompletedStages = common.UnionStages(f.docs[id].CompletedStages, stage)
	return nil
}

func fastOrchestrator(storage *fakeDocumentStore) *Orchestrator {
	return NewOrchestrator(storage, WithMaxAttempts(2), WithBackoffBase(time.Millisecond))
}

func TestProcessDocumentRunsStagesInOrder(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1, ProcessingStatus: common.StatusPending})
	orch := fastOrchestrator(storage)

	var order []common.Stage
	for _, stage := range []common.Stage{common.StageClassify, common.StageChunk, common.StageSummarize} {
		stage := stage
		orch.Register(Handler{Stage: stage, Run: func(ctx context.Context, doc *common.Document) error {
			order = append(order, stage)
			return nil
		}})
	}

	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []common.Stage{common.StageClassify, common.StageChunk, common.StageSummarize}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
	if storage.docs[1].ProcessingStatus != common.StatusComplete {
		t.Errorf("status = %v, want complete", storage.docs[1].ProcessingStatus)
	}
}

func TestProcessDocumentIdempotent(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1})
	orch := fastOrchestrator(storage)

	invocations := 0
	orch.Register(Handler{Stage: common.StageClassify, Run: func(ctx context.Context, doc *common.Document) error {
		invocations++
		return nil
	}})
	orch.Register(Handler{Stage: common.StageChunk, Run: func(ctx context.Context, doc *common.Document) error {
		invocations++
		return nil
	}})

	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstRun := invocations

	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if invocations != firstRun {
		t.Errorf("second run invoked %d handlers, want 0", invocations-firstRun)
	}
}

func TestProcessDocumentStageSubset(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1, ProcessingStatus: common.StatusPending})
	orch := fastOrchestrator(storage)

	ranStages := make(map[common.Stage]int)
	for _, stage := range []common.Stage{common.StageClassify, common.StageChunk, common.StageSummarize} {
		stage := stage
		orch.Register(Handler{Stage: stage, Run: func(ctx context.Context, doc *common.Document) error {
			ranStages[stage]++
			return nil
		}})
	}

	if err := orch.ProcessDocument(context.Background(), 1, common.StageChunk); err != nil {
		t.Fatalf("subset run: %v", err)
	}
	if ranStages[common.StageChunk] != 1 {
		t.Errorf("chunk ran %d times, want 1", ranStages[common.StageChunk])
	}
	if ranStages[common.StageClassify] != 0 || ranStages[common.StageSummarize] != 0 {
		t.Errorf("stages outside the subset ran: %v", ranStages)
	}
	if !common.HasStage(storage.docs[1].CompletedStages, common.StageChunk) {
		t.Error("subset stage not recorded as completed")
	}
	if storage.docs[1].ProcessingStatus == common.StatusComplete {
		t.Error("partial run marked the document complete")
	}

	// A full run afterwards finishes the remaining stages exactly once.
	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("full run: %v", err)
	}
	for stage, n := range ranStages {
		if n != 1 {
			t.Errorf("stage %s ran %d times, want 1", stage, n)
		}
	}
	if storage.docs[1].ProcessingStatus != common.StatusComplete {
		t.Errorf("status = %v, want complete", storage.docs[1].ProcessingStatus)
	}
}

func TestProcessDocumentFailureHaltsPipeline(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1})
	orch := fastOrchestrator(storage)

	attempts := 0
	orch.Register(Handler{Stage: common.StageClassify, Run: func(ctx context.Context, doc *common.Document) error {
		attempts++
		return errors.New("model unavailable")
	}})
	laterRan := false
	orch.Register(Handler{Stage: common.StageChunk, Run: func(ctx context.Context, doc *common.Document) error {
		laterRan = true
		return nil
	}})

	err := orch.ProcessDocument(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (retry budget)", attempts)
	}
	if laterRan {
		t.Error("later stage ran after a failure")
	}
	if storage.docs[1].ProcessingStatus != common.StatusFailed {
		t.Errorf("status = %v, want failed", storage.docs[1].ProcessingStatus)
	}
	if !strings.Contains(storage.docs[1].ErrorMessage, "model unavailable") {
		t.Errorf("error message = %q, want cause recorded", storage.docs[1].ErrorMessage)
	}
}

func TestProcessDocumentSatisfiedSkipsRun(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1})
	orch := fastOrchestrator(storage)

	ran := false
	orch.Register(Handler{
		Stage: common.StageEntityExtract,
		Run: func(ctx context.Context, doc *common.Document) error {
			ran = true
			return nil
		},
		Satisfied: func(ctx context.Context, doc *common.Document) (bool, error) {
			return true, nil
		},
	})

	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("satisfied stage still ran")
	}
	if !common.HasStage(storage.docs[1].CompletedStages, common.StageEntityExtract) {
		t.Error("satisfied stage not recorded as completed")
	}
}

func TestProcessDocumentSkipsUnregisteredStages(t *testing.T) {
	storage := newFakeDocumentStore(&common.Document{ID: 1})
	orch := fastOrchestrator(storage)

	orch.Register(Handler{Stage: common.StageSummarize, Run: func(ctx context.Context, doc *common.Document) error {
		return nil
	}})

	if err := orch.ProcessDocument(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storage.docs[1].ProcessingStatus != common.StatusComplete {
		t.Errorf("status = %v, want complete", storage.docs[1].ProcessingStatus)
	}
}

func TestRunBatchCollectsFailures(t *testing.T) {
	docs := make([]*common.Document, 0, 10)
	for i := int64(1); i <= 10; i++ {
		docs = append(docs, &common.Document{ID: i, DatasetID: "ds"})
	}
	runner := NewBatchRunner(newFakeDocumentStore(docs...))

	result, err := runner.Run(context.Background(), BatchConfig{
		Stage:       common.StageEmbed,
		DatasetID:   "ds",
		Concurrency: 3,
		MaxAttempts: 1,
		BackoffBase: time.Millisecond,
	}, func(ctx context.Context, doc *common.Document) error {
		return fmt.Errorf("document %d always fails", doc.ID)
	})
	if err != nil {
		t.Fatalf("batch error escaped: %v", err)
	}
	if result.Failed != 10 || result.Processed != 0 {
		t.Errorf("failed = %d, processed = %d, want 10 and 0", result.Failed, result.Processed)
	}
	if len(result.Errors) != 10 {
		t.Errorf("got %d errors, want 10", len(result.Errors))
	}
}

func TestRunBatchEligibilityAndDryRun(t *testing.T) {
	docs := []*common.Document{
		{ID: 1, DatasetID: "ds", Classification: common.Classification{PrimaryType: "deposition"}},
		{ID: 2, DatasetID: "ds", Classification: common.Classification{PrimaryType: "news_article"}},
		{ID: 3, DatasetID: "ds", Classification: common.Classification{PrimaryType: "deposition"}},
	}
	runner := NewBatchRunner(newFakeDocumentStore(docs...))

	invoked := 0
	result, err := runner.Run(context.Background(), BatchConfig{
		Stage:  common.StageTimelineExtract,
		DryRun: true,
		Eligible: func(doc common.Document) bool {
			return doc.Classification.PrimaryType == "deposition"
		},
	}, func(ctx context.Context, doc *common.Document) error {
		invoked++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoked != 0 {
		t.Errorf("dry run invoked handler %d times", invoked)
	}
	if result.Processed != 2 || result.Skipped != 1 {
		t.Errorf("processed = %d, skipped = %d, want 2 and 1", result.Processed, result.Skipped)
	}
}

func TestRunBatchBoundedConcurrency(t *testing.T) {
	docs := make([]*common.Document, 0, 12)
	for i := int64(1); i <= 12; i++ {
		docs = append(docs, &common.Document{ID: i, DatasetID: "ds"})
	}
	runner := NewBatchRunner(newFakeDocumentStore(docs...))

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	result, err := runner.Run(context.Background(), BatchConfig{
		Stage:       common.StageEmbed,
		Concurrency: 3,
		MaxAttempts: 1,
	}, func(ctx context.Context, doc *common.Document) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 12 {
		t.Errorf("processed = %d, want 12", result.Processed)
	}
	if maxInFlight > 3 {
		t.Errorf("max in flight = %d, want <= 3", maxInFlight)
	}
}
