package pgx

import (
	"context"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

// UpsertRelationships merges undirected edges on (entity_a, entity_b,
// type). Pair ordering is normalized before insert; on conflict the
// evidence arrays union, strength keeps the maximum, and a longer
// description wins.
func (s *ArchiveDBStorage) UpsertRelationships(ctx context.Context, datasetID string, relations []common.EntityRelationship) error {
	if len(relations) == 0 {
		return nil
	}

	relationChunk := 250
	return store.ChunkRange(len(relations), relationChunk, func(start, end int) error {
		part := relations[start:end]
		logger.Debug("[Store] Upserting relationship batch", "dataset", datasetID, "relationships", len(part))

		entityAs := make([]int64, 0, len(part))
		entityBs := make([]int64, 0, len(part))
		types := make([]string, 0, len(part))
		strengths := make([]float64, 0, len(part))
		chunkIDs := make([]string, 0, len(part))
		documentIDs := make([]string, 0, len(part))
		descriptions := make([]string, 0, len(part))
		for _, r := range part {
			a, b := r.EntityA, r.EntityB
			if a > b {
				a, b = b, a
			}
			entityAs = append(entityAs, a)
			entityBs = append(entityBs, b)
			types = append(types, string(r.Type))
			strengths = append(strengths, r.Strength)
			chunkIDs = append(chunkIDs, joinInt64s(store.DedupeInt64s(r.ChunkIDs)))
			documentIDs = append(documentIDs, joinInt64s(store.DedupeInt64s(r.DocumentIDs)))
			descriptions = append(descriptions, r.Description)
		}

		_, err := s.conn.Exec(ctx,
			`INSERT INTO entity_relationships
			     (dataset_id, entity_a, entity_b, type, strength, chunk_ids,
			      document_ids, description)
			 SELECT $1, a, b, t, st,
			        string_to_array(NULLIF(ch, ''), ',')::bigint[],
			        string_to_array(NULLIF(dc, ''), ',')::bigint[],
			        d
			 FROM unnest(
			     $2::bigint[], $3::bigint[], $4::text[], $5::float8[],
			     $6::text[], $7::text[], $8::text[]
			 ) AS u(a, b, t, st, ch, dc, d)
			 ON CONFLICT (dataset_id, entity_a, entity_b, type)
			 DO UPDATE SET
			     strength = GREATEST(entity_relationships.strength, EXCLUDED.strength),
			     chunk_ids = (
			         SELECT array_agg(DISTINCT c)
			         FROM unnest(COALESCE(entity_relationships.chunk_ids, '{}') ||
			                     COALESCE(EXCLUDED.chunk_ids, '{}')) AS c
			     ),
			     document_ids = (
			         SELECT array_agg(DISTINCT c)
			         FROM unnest(COALESCE(entity_relationships.document_ids, '{}') ||
			                     COALESCE(EXCLUDED.document_ids, '{}')) AS c
			     ),
			     description = CASE
			         WHEN length(EXCLUDED.description) > length(entity_relationships.description)
			         THEN EXCLUDED.description
			         ELSE entity_relationships.description
			     END`,
			datasetID, entityAs, entityBs, types, strengths, chunkIDs,
			documentIDs, descriptions)
		return err
	})
}

// GetRelationshipsByDataset returns every relationship in a dataset.
func (s *ArchiveDBStorage) GetRelationshipsByDataset(ctx context.Context, datasetID string) ([]common.EntityRelationship, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, dataset_id, entity_a, entity_b, type, strength,
		        COALESCE(chunk_ids, '{}'), COALESCE(document_ids, '{}'),
		        COALESCE(description, '')
		 FROM entity_relationships WHERE dataset_id = $1 ORDER BY id`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []common.EntityRelationship
	for rows.Next() {
		var (
			r            common.EntityRelationship
			relationType string
		)
		err := rows.Scan(&r.ID, &r.DatasetID, &r.EntityA, &r.EntityB,
			&relationType, &r.Strength, &r.ChunkIDs, &r.DocumentIDs,
			&r.Description)
		if err != nil {
			return nil, err
		}
		r.Type = common.RelationType(relationType)
		relations = append(relations, r)
	}
	return relations, rows.Err()
}
