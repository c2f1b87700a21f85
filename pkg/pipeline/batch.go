package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const progressLogInterval = 25

// BatchConfig configures one batch sweep.
type BatchConfig struct {
	// Stage names the sweep in logs.
	Stage common.Stage

	// DatasetID restricts the sweep to one dataset when set.
	DatasetID string

	// Limit caps how many documents are considered. Zero means no cap.
	Limit int

	// Eligible filters the fetched documents. Nil accepts everything.
	Eligible func(doc common.Document) bool

	// Concurrency bounds parallel handler invocations. Defaults to 1.
	Concurrency int

	// MaxAttempts and BackoffBase shape the per-document retry loop.
	MaxAttempts int
	BackoffBase time.Duration

	// DryRun counts eligible documents without invoking the handler.
	DryRun bool
}

// BatchError records one document's terminal failure.
type BatchError struct {
	DocumentID int64  `json:"document_id"`
	Message    string `json:"message"`
}

// BatchResult summarizes a finished sweep.
type BatchResult struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []BatchError  `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// BatchRunner sweeps a handler over eligible documents with bounded
// concurrency. It is the single-stage counterpart to the Orchestrator:
// where the Orchestrator walks one document through every stage, the
// runner walks one stage across many documents.
//
// Example:
//
//	runner := pipeline.NewBatchRunner(storage)
//	result, err := runner.Run(ctx, cfg, embedHandler)
type BatchRunner struct {
	storage store.DocumentStore
}

// NewBatchRunner creates a BatchRunner over the given storage.
func NewBatchRunner(storage store.DocumentStore) *BatchRunner {
	return &BatchRunner{storage: storage}
}

// Run executes the sweep. One document's failure never aborts the rest;
// failures are collected into the result. The returned error covers only
// infrastructure problems such as the initial document query failing.
func (b *BatchRunner) Run(ctx context.Context, cfg BatchConfig, handler func(ctx context.Context, doc *common.Document) error) (*BatchResult, error) {
	if handler == nil {
		return nil, fmt.Errorf("batch %s: nil handler", cfg.Stage)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}

	start := time.Now()
	docs, err := b.storage.GetDocumentsForProcessing(ctx, cfg.DatasetID, cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("batch %s: query documents: %w", cfg.Stage, err)
	}

	result := &BatchResult{}
	eligible := make([]common.Document, 0, len(docs))
	for _, doc := range docs {
		if cfg.Eligible != nil && !cfg.Eligible(doc) {
			result.Skipped++
			continue
		}
		eligible = append(eligible, doc)
	}

	logger.Info("[Batch] Sweep starting", "stage", cfg.Stage, "eligible", len(eligible), "skipped", result.Skipped, "concurrency", cfg.Concurrency, "dryRun", cfg.DryRun)

	if cfg.DryRun {
		result.Processed = len(eligible)
		result.Duration = time.Since(start)
		return result, nil
	}

	var mu sync.Mutex
	done := 0

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Concurrency)
	for i := range eligible {
		doc := eligible[i]
		group.Go(func() error {
			err := util.RetryErrWithBackoff(groupCtx, cfg.MaxAttempts, cfg.BackoffBase, func(ctx context.Context) error {
				return handler(ctx, &doc)
			})

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BatchError{DocumentID: doc.ID, Message: err.Error()})
				logger.Error("[Batch] Document failed", "stage", cfg.Stage, "document", doc.ID, "err", err)
			} else {
				result.Processed++
			}
			if done%progressLogInterval == 0 {
				logger.Info("[Batch] Progress", "stage", cfg.Stage, "done", done, "total", len(eligible))
			}
			return nil
		})
	}
	// Workers never return errors into the group, so Wait only reflects
	// context cancellation.
	_ = group.Wait()

	result.Duration = time.Since(start)
	logger.Info("[Batch] Sweep finished", "stage", cfg.Stage, "processed", result.Processed, "failed", result.Failed, "skipped", result.Skipped, "duration", result.Duration)
	return result, nil
}
