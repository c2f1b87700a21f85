package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caselight/backend/pkg/common"
)

const documentColumns = `id, public_id, dataset_id, filename, storage_key, text,
	COALESCE(classification, '{}'::jsonb), COALESCE(summary, ''),
	COALESCE(payloads, '{}'::jsonb), completed_stages, processing_status,
	COALESCE(error_message, '')`

func scanDocument(row interface{ Scan(dest ...any) error }) (*common.Document, error) {
	var (
		doc        common.Document
		classJSON  []byte
		payloadRaw []byte
		stages     []string
		status     string
	)
	err := row.Scan(
		&doc.ID, &doc.PublicID, &doc.DatasetID, &doc.Filename, &doc.StorageKey,
		&doc.Text, &classJSON, &doc.Summary, &payloadRaw, &stages, &status,
		&doc.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if len(classJSON) > 0 {
		if err := json.Unmarshal(classJSON, &doc.Classification); err != nil {
			return nil, fmt.Errorf("decode classification for document %d: %w", doc.ID, err)
		}
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &doc.Payloads); err != nil {
			return nil, fmt.Errorf("decode payloads for document %d: %w", doc.ID, err)
		}
	}
	doc.CompletedStages = make([]common.Stage, 0, len(stages))
	for _, st := range stages {
		doc.CompletedStages = append(doc.CompletedStages, common.Stage(st))
	}
	doc.ProcessingStatus = common.Status(status)
	return &doc, nil
}

// GetDocument loads one document by id.
func (s *ArchiveDBStorage) GetDocument(ctx context.Context, id int64) (*common.Document, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetDocumentsForProcessing returns documents in a dataset that have not
// finished the pipeline, oldest first. A limit <= 0 means no limit.
func (s *ArchiveDBStorage) GetDocumentsForProcessing(ctx context.Context, datasetID string, limit int) ([]common.Document, error) {
	sql := `SELECT ` + documentColumns + ` FROM documents
		WHERE dataset_id = $1 AND processing_status != 'complete'
		ORDER BY id`
	args := []any{datasetID}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []common.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// GetDocumentsByDataset returns every document in a dataset.
func (s *ArchiveDBStorage) GetDocumentsByDataset(ctx context.Context, datasetID string) ([]common.Document, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE dataset_id = $1 ORDER BY id`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []common.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// GetDocumentsByType returns documents in a dataset classified with the
// given primary type.
func (s *ArchiveDBStorage) GetDocumentsByType(ctx context.Context, datasetID, primaryType string) ([]common.Document, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE dataset_id = $1 AND classification->>'primary_type' = $2
		 ORDER BY id`,
		datasetID, primaryType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []common.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the processing status and error message.
func (s *ArchiveDBStorage) UpdateDocumentStatus(ctx context.Context, id int64, status common.Status, errorMessage string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE documents
		 SET processing_status = $2, error_message = $3, updated_at = now()
		 WHERE id = $1`,
		id, string(status), errorMessage)
	return err
}

// SetText stores the document's OCR text.
func (s *ArchiveDBStorage) SetText(ctx context.Context, id int64, text string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE documents SET text = $2, updated_at = now() WHERE id = $1`,
		id, text)
	return err
}

// SetClassification stores the classify stage result.
func (s *ArchiveDBStorage) SetClassification(ctx context.Context, id int64, class common.Classification) error {
	payload, err := json.Marshal(class)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		`UPDATE documents SET classification = $2, updated_at = now() WHERE id = $1`,
		id, payload)
	return err
}

// SetSummary stores the document summary.
func (s *ArchiveDBStorage) SetSummary(ctx context.Context, id int64, summary string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE documents SET summary = $2, updated_at = now() WHERE id = $1`,
		id, summary)
	return err
}

// SetPayload stores a stage output under the given key in the document's
// payload object, preserving other keys.
func (s *ArchiveDBStorage) SetPayload(ctx context.Context, id int64, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx,
		`UPDATE documents
		 SET payloads = COALESCE(payloads, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb),
		     updated_at = now()
		 WHERE id = $1`,
		id, key, raw)
	return err
}

// AppendCompletedStage adds a stage to the grow-only completed set. When
// the append_completed_stage procedure exists it performs the union
// server-side in one statement; otherwise an array-union UPDATE does the
// same without a read-modify-write race.
func (s *ArchiveDBStorage) AppendCompletedStage(ctx context.Context, id int64, stage common.Stage) error {
	if s.HasProcedure(ctx, "append_completed_stage") {
		_, err := s.conn.Exec(ctx,
			`SELECT append_completed_stage($1, $2)`, id, string(stage))
		return err
	}

	_, err := s.conn.Exec(ctx,
		`UPDATE documents
		 SET completed_stages = (
		     SELECT array_agg(DISTINCT st)
		     FROM unnest(completed_stages || $2::text) AS st
		 ),
		 updated_at = now()
		 WHERE id = $1`,
		id, string(stage))
	return err
}
