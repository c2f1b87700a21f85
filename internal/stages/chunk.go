package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caselight/backend/internal/storage"
	"github.com/caselight/backend/internal/util"
	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/leaselock"
	"github.com/caselight/backend/pkg/logger"
)

func (d Deps) chunkSatisfied(ctx context.Context, doc *common.Document) (bool, error) {
	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	return len(chunks) > 0, nil
}

// runChunk replaces the document's chunk set under a per-document lease.
// Replace is delete-then-insert, the one non-additive mutation in the
// pipeline, so it must not interleave with a concurrent chunker run on
// the same document.
func (d Deps) runChunk(ctx context.Context, doc *common.Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("document %d has no text to chunk", doc.ID)
	}

	return d.Locks.WithLease(ctx, leaselock.DocumentChunkKey(doc.ID), leaselock.Options{
		TTL:  2 * time.Minute,
		Wait: true,
	}, func(ctx context.Context) error {
		// Another worker may have chunked while this one waited.
		existing, err := d.Storage.GetChunks(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			logger.Debug("[Stages] Chunks already present, skipping", "document", doc.ID)
			return nil
		}

		chunks, err := d.Chunker.Split(doc.ID, doc.Text)
		if err != nil {
			return fmt.Errorf("chunk document %d: %w", doc.ID, err)
		}
		if _, err := d.Storage.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
			return err
		}
		logger.Info("[Stages] Document chunked", "document", doc.ID, "chunks", len(chunks))
		return nil
	})
}

func (d Deps) runContextHeaders(ctx context.Context, doc *common.Document) error {
	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	// The summarize stage runs later, so a truncated slice of the raw
	// text stands in as document context here.
	docContext := doc.Summary
	if docContext == "" {
		docContext = util.Truncate(doc.Text, 2000)
	}

	for _, chunk := range chunks {
		if chunk.ContextHeader != "" {
			continue
		}

		header, err := d.Caps.ContextHeader(ctx, docContext, chunk.Content)
		if err != nil {
			return fmt.Errorf("context header for chunk %d: %w", chunk.ID, err)
		}
		if err := d.Storage.UpdateChunkContextHeader(ctx, chunk.ID, header); err != nil {
			return err
		}
		if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) runEmbed(ctx context.Context, doc *common.Document) error {
	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 {
			continue
		}

		text := chunk.Content
		if chunk.ContextHeader != "" {
			text = chunk.ContextHeader + "\n\n" + chunk.Content
		}

		embedding, cached := d.Cache.Get(text)
		if !cached {
			embedding, err = d.Caps.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunk.ID, err)
			}
			d.Cache.Put(text, embedding)
			if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
				return err
			}
		}

		if err := d.Storage.UpdateChunkEmbedding(ctx, chunk.ID, embedding, d.EmbedModel); err != nil {
			return err
		}
	}
	return nil
}

// runVisualEmbed embeds page images for chunks that never got a text
// embedding, which happens with photo-heavy pages whose OCR text is
// sparse. Image embeddings land in the same vector space, tagged with a
// -visual model suffix.
func (d Deps) runVisualEmbed(ctx context.Context, doc *common.Document) error {
	if d.S3 == nil || doc.StorageKey == "" {
		return nil
	}

	pageKeys, err := storage.ListPageImages(ctx, d.S3, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("list page images for document %d: %w", doc.ID, err)
	}
	if len(pageKeys) == 0 {
		return nil
	}

	chunks, err := d.Storage.GetChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	pending := make(map[int][]int64)
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			pending[chunk.PageNumber] = append(pending[chunk.PageNumber], chunk.ID)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	for page, chunkIDs := range pending {
		if page < 1 || page > len(pageKeys) {
			continue
		}

		image, err := storage.GetFile(ctx, d.S3, pageKeys[page-1])
		if err != nil {
			logger.Warn("[Stages] Failed to fetch page image", "document", doc.ID, "page", page, "err", err)
			continue
		}
		embedding, err := d.Caps.EmbedImage(ctx, image)
		if err != nil {
			return fmt.Errorf("embed page image %d of document %d: %w", page, doc.ID, err)
		}

		for _, chunkID := range chunkIDs {
			if err := d.Storage.UpdateChunkEmbedding(ctx, chunkID, embedding, d.EmbedModel+"-visual"); err != nil {
				return err
			}
		}
		if err := util.SleepContext(ctx, d.ChunkDelay); err != nil {
			return err
		}
	}
	return nil
}
