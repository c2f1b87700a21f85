package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/caselight/backend/internal/aiclient"
	"github.com/caselight/backend/internal/config"
	"github.com/caselight/backend/internal/embedcache"
	"github.com/caselight/backend/internal/queue"
	"github.com/caselight/backend/internal/stages"
	"github.com/caselight/backend/internal/storage"
	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/migrations"
	"github.com/caselight/backend/pkg/chunker"
	"github.com/caselight/backend/pkg/leaselock"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/logger/console"
	"github.com/caselight/backend/pkg/pipeline"
	pgxstore "github.com/caselight/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	// Logging comes up before configuration so a missing required value
	// is reported, not swallowed.
	util.LoadEnv()
	logger.Init(console.New(console.Params{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	cfg := config.Load(true, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s3Client := storage.NewS3Client(ctx)

	modelClient, caps, err := aiclient.NewLimited(cfg)
	if err != nil {
		logger.Fatal("Could not create AI client", "adapter", cfg.AIAdapter, "err", err)
	}

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to apply migrations", "err", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Invalid database URL", "err", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	db := pgxstore.NewArchiveDBStorage(pool)
	locks := leaselock.New(pool)

	chk, err := chunker.New(chunker.Config{})
	if err != nil {
		logger.Fatal("Could not create chunker", "err", err)
	}

	orch := pipeline.NewOrchestrator(db)
	stages.RegisterAll(orch, stages.Deps{
		Storage:    db,
		Caps:       caps,
		S3:         s3Client,
		Locks:      locks,
		Chunker:    chk,
		Cache:      embedcache.New(0),
		EmbedModel: cfg.EmbedModel,
		ChunkDelay: cfg.ChunkDelay,
	})

	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.ProcessQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for messages")

	// One consumer channel with prefetch=1 so a worker processes a single
	// document at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.ProcessQueue,
		queue.ProcessQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ProcessQueue, "err", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.ProcessQueue)
					return
				}

				startTime := time.Now()
				logger.Info("Received message", "queue", queue.ProcessQueue)

				processingErr := queue.ProcessDocumentMessage(ctx, orch, msg.Body)
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.ProcessQueue, "err", processingErr)
					handleProcessingError(consumerCh, msg, queue.ProcessQueue)
				} else {
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", queue.ProcessQueue)
				}

				metrics := modelClient.GetMetrics()
				logger.Info(
					"AI metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				logger.Info("Waiting for next message")
				modelClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// handleProcessingError requeues a failed message through the retry
// queue, or parks it in the DLQ once it has been retried 10 times.
func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
