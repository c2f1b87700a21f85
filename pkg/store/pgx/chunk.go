package pgx

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

// ReplaceChunks deletes a document's chunks and inserts the new set in
// one transaction, so readers never observe a mixed chunking. Callers
// hold the document's chunk lease while this runs.
func (s *ArchiveDBStorage) ReplaceChunks(ctx context.Context, documentID int64, chunks []common.Chunk) ([]int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(chunks))
	insertChunk := 250
	err = store.ChunkRange(len(chunks), insertChunk, func(start, end int) error {
		part := chunks[start:end]
		logger.Debug("[Store] Inserting chunk batch", "document", documentID, "chunks", len(part))

		publicIDs := make([]string, 0, len(part))
		indices := make([]int, 0, len(part))
		contents := make([]string, 0, len(part))
		pages := make([]int, 0, len(part))
		titles := make([]string, 0, len(part))
		paths := make([]string, 0, len(part))
		charCounts := make([]int, 0, len(part))
		tokenCounts := make([]int, 0, len(part))
		for _, ch := range part {
			publicIDs = append(publicIDs, ch.PublicID)
			indices = append(indices, ch.Index)
			contents = append(contents, ch.Content)
			pages = append(pages, ch.PageNumber)
			titles = append(titles, ch.SectionTitle)
			paths = append(paths, joinPath(ch.HierarchyPath))
			charCounts = append(charCounts, ch.CharCount)
			tokenCounts = append(tokenCounts, ch.TokenCount)
		}

		rows, err := tx.Query(ctx,
			`INSERT INTO chunks
			     (public_id, document_id, index, content, page_number,
			      section_title, hierarchy_path, char_count, token_count)
			 SELECT p, $1, i, c, pg, t, string_to_array(NULLIF(h, ''), '/'), cc, tc
			 FROM unnest(
			     $2::text[], $3::int[], $4::text[], $5::int[],
			     $6::text[], $7::text[], $8::int[], $9::int[]
			 ) AS u(p, i, c, pg, t, h, cc, tc)
			 RETURNING id`,
			documentID, publicIDs, indices, contents, pages, titles, paths,
			charCounts, tokenCounts)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, tx.Commit(ctx)
}

// GetChunks returns a document's chunks in index order.
func (s *ArchiveDBStorage) GetChunks(ctx context.Context, documentID int64) ([]common.Chunk, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, public_id, document_id, index, content, page_number,
		        COALESCE(section_title, ''),
		        COALESCE(array_to_string(hierarchy_path, '/'), ''),
		        char_count, token_count, COALESCE(context_header, ''),
		        COALESCE(embedding_model, '')
		 FROM chunks WHERE document_id = $1 ORDER BY index`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []common.Chunk
	for rows.Next() {
		var (
			ch   common.Chunk
			path string
		)
		err := rows.Scan(&ch.ID, &ch.PublicID, &ch.DocumentID, &ch.Index,
			&ch.Content, &ch.PageNumber, &ch.SectionTitle, &path,
			&ch.CharCount, &ch.TokenCount, &ch.ContextHeader,
			&ch.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		ch.HierarchyPath = splitPath(path)
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// UpdateChunkEmbedding stores one chunk's embedding and the model that
// produced it.
func (s *ArchiveDBStorage) UpdateChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32, model string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE chunks SET embedding = $2, embedding_model = $3 WHERE id = $1`,
		chunkID, pgvector.NewVector(embedding), model)
	return err
}

// UpdateChunkContextHeader stores the generated context header.
func (s *ArchiveDBStorage) UpdateChunkContextHeader(ctx context.Context, chunkID int64, header string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE chunks SET context_header = $2 WHERE id = $1`,
		chunkID, header)
	return err
}
