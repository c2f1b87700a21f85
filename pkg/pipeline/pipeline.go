// Package pipeline moves documents through their processing stages. The
// Orchestrator runs the full per-document stage sequence in order; the
// BatchRunner sweeps one handler over many documents with bounded
// concurrency. Both retry transient failures with exponential backoff
// and treat a document's permanent failure as data, not as a reason to
// stop the batch.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
)

// Handler runs one stage for one document. Satisfied is optional: when
// set, it lets a stage detect pre-existing output (mentions already in
// the database, chunks already present) and record completion without
// re-running.
type Handler struct {
	Stage     common.Stage
	Run       func(ctx context.Context, doc *common.Document) error
	Satisfied func(ctx context.Context, doc *common.Document) (bool, error)
}

// Orchestrator drives a single document through the stage sequence.
//
// Example:
//
//	orch := pipeline.NewOrchestrator(storage)
//	orch.Register(pipeline.Handler{Stage: common.StageChunk, Run: chunkHandler})
//	err := orch.ProcessDocument(ctx, documentID)
type Orchestrator struct {
	storage     store.DocumentStore
	handlers    map[common.Stage]Handler
	maxAttempts int
	backoffBase time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMaxAttempts sets the per-stage retry budget.
func WithMaxAttempts(attempts int) OrchestratorOption {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.maxAttempts = attempts
		}
	}
}

// WithBackoffBase sets the base delay of the per-stage retry backoff.
func WithBackoffBase(base time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if base > 0 {
			o.backoffBase = base
		}
	}
}

// NewOrchestrator creates an Orchestrator over the given storage.
func NewOrchestrator(storage store.DocumentStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		storage:     storage,
		handlers:    make(map[common.Stage]Handler),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a stage handler. Registering the same stage twice
// replaces the earlier handler.
func (o *Orchestrator) Register(h Handler) {
	if h.Stage == "" || h.Run == nil {
		return
	}
	o.handlers[h.Stage] = h
}

// Handler returns the registered handler for a stage, if any. Batch
// sweeps use this to run one stage without walking the whole sequence.
func (o *Orchestrator) Handler(stage common.Stage) (Handler, bool) {
	h, ok := o.handlers[stage]
	return h, ok
}

// ProcessDocument runs every pending stage of the document in order.
// Completed stages are skipped, stages without a registered handler are
// skipped with a log line, and the first stage that exhausts its retries
// marks the document failed and halts its pipeline. Running a fully
// completed document again invokes no handlers.
//
// Passing one or more stages restricts the run to that subset, in
// sequence order. A subset run that leaves registered stages pending
// puts the document back to pending instead of marking it complete.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID int64, only ...common.Stage) error {
	doc, err := o.storage.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %d: %w", documentID, err)
	}
	if doc == nil {
		return fmt.Errorf("document %d not found", documentID)
	}

	subset := make(map[common.Stage]bool, len(only))
	for _, stage := range only {
		subset[stage] = true
	}

	ran := 0
	for _, stage := range common.PerDocumentOrder {
		if len(subset) > 0 && !subset[stage] {
			continue
		}
		if common.HasStage(doc.CompletedStages, stage) {
			continue
		}

		handler, ok := o.handlers[stage]
		if !ok {
			logger.Debug("[Orchestrator] No handler registered, skipping stage", "document", documentID, "stage", stage)
			continue
		}

		if handler.Satisfied != nil {
			satisfied, err := handler.Satisfied(ctx, doc)
			if err != nil {
				return o.failDocument(ctx, doc, stage, fmt.Errorf("check stage %s: %w", stage, err))
			}
			if satisfied {
				if err := o.recordCompleted(ctx, doc, stage); err != nil {
					return err
				}
				continue
			}
		}

		if ran == 0 {
			if err := o.storage.UpdateDocumentStatus(ctx, documentID, common.StatusProcessing, ""); err != nil {
				return fmt.Errorf("mark document %d processing: %w", documentID, err)
			}
		}

		logger.Info("[Orchestrator] Running stage", "document", documentID, "stage", stage)
		err := util.RetryErrWithBackoff(ctx, o.maxAttempts, o.backoffBase, func(ctx context.Context) error {
			return handler.Run(ctx, doc)
		})
		if err != nil {
			return o.failDocument(ctx, doc, stage, err)
		}
		ran++

		if err := o.recordCompleted(ctx, doc, stage); err != nil {
			return err
		}
	}

	if len(subset) > 0 && !o.allRegisteredStagesDone(doc) {
		if ran > 0 {
			if err := o.storage.UpdateDocumentStatus(ctx, documentID, common.StatusPending, ""); err != nil {
				return fmt.Errorf("mark document %d pending: %w", documentID, err)
			}
			logger.Info("[Orchestrator] Stage subset complete, document still pending", "document", documentID, "stagesRun", ran)
		}
		return nil
	}

	if err := o.storage.UpdateDocumentStatus(ctx, documentID, common.StatusComplete, ""); err != nil {
		return fmt.Errorf("mark document %d complete: %w", documentID, err)
	}
	if ran > 0 {
		logger.Info("[Orchestrator] Document complete", "document", documentID, "stagesRun", ran)
	}
	return nil
}

func (o *Orchestrator) allRegisteredStagesDone(doc *common.Document) bool {
	for stage := range o.handlers {
		if !common.HasStage(doc.CompletedStages, stage) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) recordCompleted(ctx context.Context, doc *common.Document, stage common.Stage) error {
	if err := o.storage.AppendCompletedStage(ctx, doc.ID, stage); err != nil {
		return fmt.Errorf("record stage %s for document %d: %w", stage, doc.ID, err)
	}
	doc.CompletedStages = common.UnionStages(doc.CompletedStages, stage)
	return nil
}

// failDocument is the one place a stage error becomes terminal for a
// document. The status write error, if any, is secondary to the stage
// error and only logged.
func (o *Orchestrator) failDocument(ctx context.Context, doc *common.Document, stage common.Stage, stageErr error) error {
	message := fmt.Sprintf("stage %s: %v", stage, stageErr)
	logger.Error("[Orchestrator] Stage failed", "document", doc.ID, "stage", stage, "err", stageErr)
	if err := o.storage.UpdateDocumentStatus(ctx, doc.ID, common.StatusFailed, message); err != nil {
		logger.Error("[Orchestrator] Failed to record document failure", "document", doc.ID, "err", err)
	}
	return fmt.Errorf("document %d %s", doc.ID, message)
}
