package stages

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/relbuilder"
	"github.com/caselight/backend/pkg/resolver"
)

func (d Deps) entityExtractSatisfied(ctx context.Context, doc *common.Document) (bool, error) {
	mentions, err := d.Storage.GetMentionsByDocument(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	return len(mentions) > 0, nil
}

// runEntityExtract extracts entities chunk by chunk, resolves them to
// canonical rows, and saves mentions with their evidence weight. One
// chunk's failure is logged and skipped; losing a chunk of mentions is
// better than losing the document.
func (d Deps) runEntityExtract(ctx context.Context, doc *common.Document) error {
	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document %d has no chunks to extract from", doc.ID)
	}

	res := resolver.New(d.Storage)
	tier := relbuilder.TierForClassification(doc.Classification.PrimaryType)

	failed := 0
	for _, chunk := range chunks {
		extracted, err := d.Caps.ExtractEntities(ctx, chunkPrompt(chunk))
		if err != nil {
			logger.Error("[Stages] Entity extraction failed for chunk", "document", doc.ID, "chunk", chunk.ID, "err", err)
			failed++
			continue
		}
		if len(extracted) == 0 {
			continue
		}

		resolved, err := res.Resolve(ctx, doc.DatasetID, extracted)
		if err != nil {
			return fmt.Errorf("resolve entities for chunk %d: %w", chunk.ID, err)
		}

		mentions := make([]common.EntityMention, 0, len(resolved))
		for _, r := range resolved {
			publicID, err := gonanoid.New()
			if err != nil {
				return err
			}
			mentionType := common.MentionType(r.Extracted.MentionType)
			mentions = append(mentions, common.EntityMention{
				PublicID:       publicID,
				EntityID:       r.Entity.ID,
				DocumentID:     doc.ID,
				ChunkID:        chunk.ID,
				Text:           r.Extracted.MentionText,
				Context:        r.Extracted.Context,
				Confidence:     r.Extracted.Confidence,
				MentionType:    mentionType,
				EvidenceWeight: relbuilder.EvidenceWeight(tier, mentionType, r.Extracted.Confidence),
			})
		}
		if err := d.Storage.SaveMentions(ctx, mentions); err != nil {
			logger.Error("[Stages] Failed to save mentions for chunk", "document", doc.ID, "chunk", chunk.ID, "err", err)
			failed++
			continue
		}

		if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
			return err
		}
	}

	if failed == len(chunks) {
		return fmt.Errorf("entity extraction failed for all %d chunks of document %d", failed, doc.ID)
	}
	return nil
}

// runRelationshipMap extracts relationships per chunk between the
// entities already mentioned there, then upserts the merged edge set in
// one call.
func (d Deps) runRelationshipMap(ctx context.Context, doc *common.Document) error {
	mentions, err := d.Storage.GetMentionsByDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(mentions) == 0 {
		return nil
	}

	entities, err := d.Storage.GetEntitiesByDataset(ctx, doc.DatasetID)
	if err != nil {
		return err
	}
	entityByID := make(map[int64]common.Entity, len(entities))
	idByNormalized := make(map[string]int64, len(entities))
	for _, e := range entities {
		entityByID[e.ID] = e
		idByNormalized[e.NormalizedName] = e.ID
	}

	byChunk := make(map[int64][]int64)
	for _, m := range mentions {
		byChunk[m.ChunkID] = append(byChunk[m.ChunkID], m.EntityID)
	}

	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	var edges []common.EntityRelationship
	for _, chunk := range chunks {
		names := distinctEntityNames(byChunk[chunk.ID], entityByID)
		if len(names) < 2 {
			continue
		}

		extracted, err := d.Caps.ExtractRelationships(ctx, chunkPrompt(chunk), names)
		if err != nil {
			logger.Error("[Stages] Relationship extraction failed for chunk", "document", doc.ID, "chunk", chunk.ID, "err", err)
			continue
		}
		edges = append(edges, relbuilder.Build(doc.DatasetID, chunk.ID, doc.ID, extracted, idByNormalized)...)

		if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
			return err
		}
	}

	if len(edges) == 0 {
		return nil
	}
	return d.Storage.UpsertRelationships(ctx, doc.DatasetID, edges)
}

func (d Deps) runRedactionDetect(ctx context.Context, doc *common.Document) error {
	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	var redactions []common.Redaction
	for _, chunk := range chunks {
		detected, err := d.Caps.DetectRedactions(ctx, chunk.Content)
		if err != nil {
			logger.Error("[Stages] Redaction detection failed for chunk", "document", doc.ID, "chunk", chunk.ID, "err", err)
			continue
		}
		for _, r := range detected {
			page := r.PageNumber
			if page == 0 {
				page = chunk.PageNumber
			}

			// The context embedding is what cascade confirmation matches
			// on; a redaction without one can never receive a cascade.
			var embedding []float32
			if r.SurroundingText != "" {
				embedding, err = d.Caps.Embed(ctx, r.SurroundingText)
				if err != nil {
					logger.Warn("[Stages] Failed to embed redaction context", "document", doc.ID, "chunk", chunk.ID, "err", err)
					embedding = nil
				}
			}

			redactions = append(redactions, common.Redaction{
				DocumentID:       doc.ID,
				ChunkID:          chunk.ID,
				PageNumber:       page,
				Type:             r.Type,
				EstimatedLength:  r.EstimatedLength,
				SurroundingText:  r.SurroundingText,
				ContextEmbedding: embedding,
			})
		}
		if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
			return err
		}
	}

	if len(redactions) == 0 {
		return nil
	}
	if _, err := d.Storage.SaveRedactions(ctx, redactions); err != nil {
		return err
	}
	logger.Info("[Stages] Redactions recorded", "document", doc.ID, "count", len(redactions))
	return nil
}

func chunkPrompt(chunk common.Chunk) string {
	if chunk.ContextHeader == "" {
		return chunk.Content
	}
	return chunk.ContextHeader + "\n\n" + chunk.Content
}

func distinctEntityNames(entityIDs []int64, entityByID map[int64]common.Entity) []string {
	seen := make(map[int64]struct{}, len(entityIDs))
	names := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := entityByID[id]; ok {
			names = append(names, e.Name)
		}
	}
	return names
}
