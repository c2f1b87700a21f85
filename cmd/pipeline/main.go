// The pipeline command runs the dataset-wide batch jobs: stage sweeps,
// network metrics, risk and disclosure scoring, duplicate review, and
// redaction cascade confirmation. Every job is a finite pass that exits
// when done; the worker binary handles the queue-driven steady state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caselight/backend/internal/aiclient"
	"github.com/caselight/backend/internal/config"
	"github.com/caselight/backend/internal/embedcache"
	"github.com/caselight/backend/internal/jobs"
	"github.com/caselight/backend/internal/queue"
	"github.com/caselight/backend/internal/stages"
	"github.com/caselight/backend/internal/storage"
	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/migrations"
	"github.com/caselight/backend/pkg/cascade"
	"github.com/caselight/backend/pkg/chunker"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/leaselock"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/logger/console"
	"github.com/caselight/backend/pkg/netmetrics"
	"github.com/caselight/backend/pkg/pipeline"
	"github.com/caselight/backend/pkg/resolver"
	pgxstore "github.com/caselight/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pipeline",
		Short:        "Batch jobs over the document archive",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.LoadEnv()
			logger.Init(console.New(console.Params{
				Debug: util.GetEnvBool("DEBUG", false),
			}))
		},
	}

	root.AddCommand(
		newRunCmd(),
		newEnqueueCmd(),
		newNetworkMetricsCmd(),
		newRiskScoreCmd(),
		newCoFlightCmd(),
		newCongressionalCmd(),
		newDedupCmd(),
		newCascadeCmd(),
	)
	return root
}

func openStorage(ctx context.Context, databaseURL string) (*pgxpool.Pool, *pgxstore.ArchiveDBStorage, error) {
	if err := migrations.Up(databaseURL); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, pgxstore.NewArchiveDBStorage(pool), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	var (
		datasetID   string
		stageName   string
		limit       int
		concurrency int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run pending pipeline stages over a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, true)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			_, caps, err := aiclient.NewLimited(cfg)
			if err != nil {
				return fmt.Errorf("create AI client: %w", err)
			}

			chk, err := chunker.New(chunker.Config{})
			if err != nil {
				return err
			}

			orch := pipeline.NewOrchestrator(db)
			stages.RegisterAll(orch, stages.Deps{
				Storage:    db,
				Caps:       caps,
				S3:         storage.NewS3Client(ctx),
				Locks:      leaselock.New(pool),
				Chunker:    chk,
				Cache:      embedcache.New(0),
				EmbedModel: cfg.EmbedModel,
				ChunkDelay: cfg.ChunkDelay,
			})

			runner := pipeline.NewBatchRunner(db)
			batch := pipeline.BatchConfig{
				DatasetID:   datasetID,
				Limit:       limit,
				Concurrency: concurrency,
				DryRun:      dryRun,
			}

			var handler func(ctx context.Context, doc *common.Document) error
			if stageName == "" {
				batch.Stage = "full_pipeline"
				// The orchestrator retries each stage itself.
				batch.MaxAttempts = 1
				handler = func(ctx context.Context, doc *common.Document) error {
					return orch.ProcessDocument(ctx, doc.ID)
				}
			} else {
				stage := common.Stage(stageName)
				if !common.KnownStage(stage) {
					return fmt.Errorf("unknown stage %q", stageName)
				}
				h, ok := orch.Handler(stage)
				if !ok {
					return fmt.Errorf("stage %q has no per-document handler", stageName)
				}
				batch.Stage = stage
				batch.Eligible = func(doc common.Document) bool {
					return !common.HasStage(doc.CompletedStages, stage)
				}
				handler = h.Run
			}

			result, err := runner.Run(ctx, batch, handler)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d document(s) failed", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to process")
	cmd.Flags().StringVar(&stageName, "stage", "", "run a single stage instead of the full sequence")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of documents (0 = no cap)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel documents in flight")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count eligible documents without processing")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newEnqueueCmd() *cobra.Command {
	var (
		datasetID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish unfinished documents onto the process queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			docs, err := db.GetDocumentsForProcessing(ctx, datasetID, limit)
			if err != nil {
				return err
			}

			conn := queue.Init()
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()
			if err := queue.SetupQueues(ch, []string{queue.ProcessQueue}); err != nil {
				return err
			}

			for _, doc := range docs {
				if err := queue.PublishDocument(ch, doc.ID, doc.DatasetID); err != nil {
					return fmt.Errorf("publish document %d: %w", doc.ID, err)
				}
			}
			logger.Info("[Enqueue] Documents published", "dataset", datasetID, "count", len(docs))
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to enqueue")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of documents (0 = no cap)")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newNetworkMetricsCmd() *cobra.Command {
	var (
		datasetID string
		dryRun    bool
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "network-metrics",
		Short: "Recompute PageRank, betweenness, and communities for a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			var opts []netmetrics.Option
			if seed != 0 {
				opts = append(opts, netmetrics.WithSeed(seed))
			}
			engine := netmetrics.NewEngine(db, opts...)

			// The lease keeps two concurrent recomputations of the same
			// dataset from interleaving their write-backs.
			locks := leaselock.New(pool)
			return locks.WithLease(ctx, leaselock.DatasetMetricsKey(datasetID), leaselock.Options{Wait: true}, func(ctx context.Context) error {
				return engine.Run(ctx, datasetID, dryRun)
			})
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to recompute")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print rankings without writing")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for sampled betweenness and label propagation")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newRiskScoreCmd() *cobra.Command {
	var (
		datasetID string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "risk-score",
		Short: "Recompute per-entity risk scores for a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			return netmetrics.NewEngine(db).ScoreRisk(ctx, datasetID, dryRun)
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to score")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without writing")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newCoFlightCmd() *cobra.Command {
	var (
		datasetID string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "co-flight-links",
		Short: "Link people who appear on the same flight logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := jobs.CoFlightLinks(ctx, db, datasetID, dryRun)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"edges": count, "dry_run": dryRun})
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to link")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count edges without writing")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newCongressionalCmd() *cobra.Command {
	var (
		datasetID string
		dryRun    bool
		top       int
	)

	cmd := &cobra.Command{
		Use:   "congressional-score",
		Short: "Score documents by disclosure review priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			scores, err := jobs.CongressionalScore(ctx, db, datasetID, dryRun)
			if err != nil {
				return err
			}

			jobs.SortScores(scores)
			if top > 0 && len(scores) > top {
				scores = scores[:top]
			}
			return printJSON(scores)
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to score")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without writing")
	cmd.Flags().IntVar(&top, "top", 20, "print only the N highest-scoring documents (0 = all)")
	_ = cmd.MarkFlagRequired("dataset-id")
	return cmd
}

func newDedupCmd() *cobra.Command {
	var (
		datasetID string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Report likely duplicate entities for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			pairs, err := resolver.New(db).FindDuplicates(ctx, datasetID, threshold)
			if err != nil {
				return err
			}
			logger.Info("[Dedup] Report ready", "dataset", datasetID, "pairs", len(pairs))
			return printJSON(pairs)
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset to scan")
	cmd.Flags().Float64Var(&threshold, "threshold", resolver.DefaultDuplicateThreshold, "minimum name similarity")
	_ = cmd.MarkFlagRequired("dataset-id")

	cmd.AddCommand(newDedupMergeCmd())
	return cmd
}

func newDedupMergeCmd() *cobra.Command {
	var keepID, dropID int64

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge one reviewed duplicate entity into another",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := resolver.New(db).Merge(ctx, keepID, dropID); err != nil {
				return err
			}
			logger.Info("[Dedup] Entities merged", "keep", keepID, "drop", dropID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&keepID, "keep", 0, "entity id that survives")
	cmd.Flags().Int64Var(&dropID, "drop", 0, "entity id folded into the survivor")
	_ = cmd.MarkFlagRequired("keep")
	_ = cmd.MarkFlagRequired("drop")
	return cmd
}

func newCascadeCmd() *cobra.Command {
	var (
		redactionID int64
		solvedText  string
	)

	cmd := &cobra.Command{
		Use:   "cascade-confirm",
		Short: "Confirm a solved redaction and cascade the text to matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(true, false)
			ctx := cmd.Context()

			pool, db, err := openStorage(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			outcome, err := cascade.NewEngine(db).Confirm(ctx, redactionID, solvedText)
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}

	cmd.Flags().Int64Var(&redactionID, "redaction-id", 0, "redaction being confirmed")
	cmd.Flags().StringVar(&solvedText, "text", "", "the solved text behind the redaction")
	_ = cmd.MarkFlagRequired("redaction-id")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
