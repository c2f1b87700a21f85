// Package stages implements the per-document pipeline stage handlers and
// wires them into an orchestrator. Each handler is idempotent: stages
// check for pre-existing output before doing work, so a re-run of an
// already processed document is cheap and safe.
package stages

import (
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/caselight/backend/internal/embedcache"
	"github.com/caselight/backend/pkg/ai"
	"github.com/caselight/backend/pkg/chunker"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/leaselock"
	"github.com/caselight/backend/pkg/pipeline"
	"github.com/caselight/backend/pkg/store"
)

// Deps carries everything the stage handlers share.
type Deps struct {
	Storage store.ArchiveStorage
	Caps    *ai.Capabilities
	S3      *awss3.Client
	Locks   *leaselock.Client
	Chunker *chunker.Chunker
	Cache   *embedcache.Cache

	// EmbedModel is recorded alongside every embedding so mixed-model
	// datasets stay distinguishable.
	EmbedModel string

	// ChunkDelay is a fixed pause between per-chunk AI calls, purely for
	// rate limiting on the provider side.
	ChunkDelay time.Duration
}

// RegisterAll registers every per-document stage handler.
func RegisterAll(orch *pipeline.Orchestrator, deps Deps) {
	orch.Register(pipeline.Handler{Stage: common.StageOCR, Run: deps.runOCR, Satisfied: deps.ocrSatisfied})
	orch.Register(pipeline.Handler{Stage: common.StageClassify, Run: deps.runClassify, Satisfied: deps.classifySatisfied})
	orch.Register(pipeline.Handler{Stage: common.StageChunk, Run: deps.runChunk, Satisfied: deps.chunkSatisfied})
	orch.Register(pipeline.Handler{Stage: common.StageContextualHeaders, Run: deps.runContextHeaders})
	orch.Register(pipeline.Handler{Stage: common.StageEmbed, Run: deps.runEmbed})
	orch.Register(pipeline.Handler{Stage: common.StageVisualEmbed, Run: deps.runVisualEmbed})
	orch.Register(pipeline.Handler{Stage: common.StageEntityExtract, Run: deps.runEntityExtract, Satisfied: deps.entityExtractSatisfied})
	orch.Register(pipeline.Handler{Stage: common.StageRelationshipMap, Run: deps.runRelationshipMap})
	orch.Register(pipeline.Handler{Stage: common.StageRedactionDetect, Run: deps.runRedactionDetect})
	orch.Register(pipeline.Handler{Stage: common.StageTimelineExtract, Run: deps.runTimelineExtract})
	orch.Register(pipeline.Handler{Stage: common.StageSummarize, Run: deps.runSummarize, Satisfied: deps.summarizeSatisfied})
	orch.Register(pipeline.Handler{Stage: common.StageEmailExtract, Run: deps.runEmailExtract})
	orch.Register(pipeline.Handler{Stage: common.StageFinancialExtract, Run: deps.runFinancialExtract})
	orch.Register(pipeline.Handler{Stage: common.StageCriminalIndicators, Run: deps.runCriminalIndicators})
}
