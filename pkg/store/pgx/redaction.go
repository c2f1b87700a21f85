package pgx

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const redactionColumns = `id, document_id, chunk_id, page_number, type,
	estimated_length, COALESCE(surrounding_text, ''), status,
	COALESCE(solved_text, ''), COALESCE(source_redaction_id, 0),
	cascade_depth, cascade_count`

func scanRedaction(row interface{ Scan(dest ...any) error }) (*common.Redaction, error) {
	var (
		r      common.Redaction
		status string
	)
	err := row.Scan(&r.ID, &r.DocumentID, &r.ChunkID, &r.PageNumber,
		&r.Type, &r.EstimatedLength, &r.SurroundingText, &status,
		&r.SolvedText, &r.SourceRedactionID, &r.CascadeDepth,
		&r.CascadeCount)
	if err != nil {
		return nil, err
	}
	r.Status = common.RedactionStatus(status)
	return &r, nil
}

// SaveRedactions bulk-inserts detected redactions as unsolved.
func (s *ArchiveDBStorage) SaveRedactions(ctx context.Context, redactions []common.Redaction) ([]int64, error) {
	if len(redactions) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(redactions))
	redactionChunk := 500
	err := store.ChunkRange(len(redactions), redactionChunk, func(start, end int) error {
		part := redactions[start:end]
		logger.Debug("[Store] Inserting redaction batch", "redactions", len(part))

		documentIDs := make([]int64, 0, len(part))
		chunkIDs := make([]int64, 0, len(part))
		pages := make([]int, 0, len(part))
		types := make([]string, 0, len(part))
		lengths := make([]int, 0, len(part))
		surroundings := make([]string, 0, len(part))
		embeddings := make([]string, 0, len(part))
		for _, r := range part {
			documentIDs = append(documentIDs, r.DocumentID)
			chunkIDs = append(chunkIDs, r.ChunkID)
			pages = append(pages, r.PageNumber)
			types = append(types, r.Type)
			lengths = append(lengths, r.EstimatedLength)
			surroundings = append(surroundings, r.SurroundingText)
			emb := ""
			if len(r.ContextEmbedding) > 0 {
				emb = pgvector.NewVector(r.ContextEmbedding).String()
			}
			embeddings = append(embeddings, emb)
		}

		rows, err := s.conn.Query(ctx,
			`INSERT INTO redactions
			     (document_id, chunk_id, page_number, type, estimated_length,
			      surrounding_text, context_embedding, status)
			 SELECT d, c, p, t, l, st, NULLIF(e, '')::vector, 'unsolved'
			 FROM unnest(
			     $1::bigint[], $2::bigint[], $3::int[], $4::text[],
			     $5::int[], $6::text[], $7::text[]
			 ) AS u(d, c, p, t, l, st, e)
			 RETURNING id`,
			documentIDs, chunkIDs, pages, types, lengths, surroundings,
			embeddings)
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
	return ids, nil
}

// GetRedaction loads one redaction by id.
func (s *ArchiveDBStorage) GetRedaction(ctx context.Context, id int64) (*common.Redaction, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+redactionColumns+` FROM redactions WHERE id = $1`, id)
	return scanRedaction(row)
}

// GetUnsolvedRedactions returns unsolved redactions across a dataset.
func (s *ArchiveDBStorage) GetUnsolvedRedactions(ctx context.Context, datasetID string) ([]common.Redaction, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT r.id, r.document_id, r.chunk_id, r.page_number, r.type,
		        r.estimated_length, COALESCE(r.surrounding_text, ''), r.status,
		        COALESCE(r.solved_text, ''), COALESCE(r.source_redaction_id, 0),
		        r.cascade_depth, r.cascade_count
		 FROM redactions r
		 JOIN documents d ON d.id = r.document_id
		 WHERE d.dataset_id = $1 AND r.status = 'unsolved'
		 ORDER BY r.id`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redactions []common.Redaction
	for rows.Next() {
		r, err := scanRedaction(rows)
		if err != nil {
			return nil, err
		}
		redactions = append(redactions, *r)
	}
	return redactions, rows.Err()
}

// SaveProposals bulk-inserts redaction proposals as pending.
func (s *ArchiveDBStorage) SaveProposals(ctx context.Context, proposals []common.RedactionProposal) error {
	if len(proposals) == 0 {
		return nil
	}

	proposalChunk := 500
	return store.ChunkRange(len(proposals), proposalChunk, func(start, end int) error {
		part := proposals[start:end]

		publicIDs := make([]string, 0, len(part))
		redactionIDs := make([]int64, 0, len(part))
		texts := make([]string, 0, len(part))
		entityIDs := make([]int64, 0, len(part))
		evidenceTypes := make([]string, 0, len(part))
		evidenceDescs := make([]string, 0, len(part))
		for _, p := range part {
			publicID := p.PublicID
			if publicID == "" {
				var err error
				publicID, err = gonanoid.New()
				if err != nil {
					return err
				}
			}
			publicIDs = append(publicIDs, publicID)
			redactionIDs = append(redactionIDs, p.RedactionID)
			texts = append(texts, p.ProposedText)
			entityIDs = append(entityIDs, p.ProposedEntityID)
			evidenceTypes = append(evidenceTypes, p.EvidenceType)
			evidenceDescs = append(evidenceDescs, p.EvidenceDescription)
		}

		_, err := s.conn.Exec(ctx,
			`INSERT INTO redaction_proposals
			     (public_id, redaction_id, proposed_text, proposed_entity_id,
			      evidence_type, evidence_description, status)
			 SELECT p, r, t, NULLIF(e, 0), et, ed, 'pending'
			 FROM unnest(
			     $1::text[], $2::bigint[], $3::text[], $4::bigint[],
			     $5::text[], $6::text[]
			 ) AS u(p, r, t, e, et, ed)`,
			publicIDs, redactionIDs, texts, entityIDs, evidenceTypes,
			evidenceDescs)
		return err
	})
}

// ConfirmRedactionCascade marks a redaction solved and proposes the same
// text for compatible unsolved redactions elsewhere. The server-side
// procedure does the whole thing in one statement; without it, a client
// transaction with SELECT FOR UPDATE gives the same atomicity.
func (s *ArchiveDBStorage) ConfirmRedactionCascade(ctx context.Context, params store.CascadeParams) (*store.CascadeResult, error) {
	if params.SimilarityThreshold <= 0 {
		params.SimilarityThreshold = 0.80
	}
	if params.LengthTolerance <= 0 {
		params.LengthTolerance = 3
	}

	if s.HasProcedure(ctx, "confirm_redaction_cascade") {
		var result store.CascadeResult
		err := s.conn.QueryRow(ctx,
			`SELECT confirmed, cascade_count, reason
			 FROM confirm_redaction_cascade($1, $2, $3, $4)`,
			params.RedactionID, params.SolvedText,
			params.SimilarityThreshold, params.LengthTolerance).
			Scan(&result.Confirmed, &result.CascadeCount, &result.Reason)
		if err != nil {
			return nil, err
		}
		return &result, nil
	}

	return s.confirmCascadeFallback(ctx, params)
}

func (s *ArchiveDBStorage) confirmCascadeFallback(ctx context.Context, params store.CascadeParams) (*store.CascadeResult, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		redactionType string
		status        string
	)
	err = tx.QueryRow(ctx,
		`SELECT type, status FROM redactions WHERE id = $1 FOR UPDATE`,
		params.RedactionID).Scan(&redactionType, &status)
	if err != nil {
		return nil, fmt.Errorf("load redaction %d: %w", params.RedactionID, err)
	}

	if status != string(common.RedactionUnsolved) {
		return &store.CascadeResult{
			Confirmed: false,
			Reason:    "redaction is not unsolved",
		}, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE redactions
		 SET status = 'confirmed', solved_text = $2
		 WHERE id = $1`,
		params.RedactionID, params.SolvedText); err != nil {
		return nil, err
	}

	// Cascade: same type, unsolved, estimated length within tolerance of
	// the solved text, and context embeddings within the cosine
	// similarity threshold. Redactions without an embedding never match.
	rows, err := tx.Query(ctx,
		`SELECT r.id, 1 - (r.context_embedding <=> src.context_embedding) AS sim
		 FROM redactions r, redactions src
		 WHERE src.id = $1
		   AND r.id != src.id
		   AND r.status = 'unsolved'
		   AND r.type = src.type
		   AND r.context_embedding IS NOT NULL
		   AND src.context_embedding IS NOT NULL
		   AND abs(r.estimated_length - length($2::text)) <= $3
		   AND 1 - (r.context_embedding <=> src.context_embedding) >= $4`,
		params.RedactionID, params.SolvedText, params.LengthTolerance,
		params.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id  int64
		sim float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.sim); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range candidates {
		publicID, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO redaction_proposals
			     (public_id, redaction_id, proposed_text, evidence_type,
			      evidence_description, status)
			 VALUES ($1, $2, $3, 'cascade',
			         'Cascaded from redaction ' || $4 || ' (similarity ' || round($5::numeric, 2) || ')',
			         'pending')`,
			publicID, c.id, params.SolvedText, params.RedactionID, c.sim); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE redactions
			 SET source_redaction_id = $2,
			     cascade_depth = (SELECT cascade_depth + 1 FROM redactions WHERE id = $2)
			 WHERE id = $1`,
			c.id, params.RedactionID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE redactions SET cascade_count = $2 WHERE id = $1`,
		params.RedactionID, len(candidates)); err != nil {
		return nil, err
	}

	result := &store.CascadeResult{
		Confirmed:    true,
		CascadeCount: len(candidates),
	}
	return result, tx.Commit(ctx)
}
