package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/caselight/backend/pkg/common"
	"github.com/caselight/backend/pkg/logger"
	"github.com/caselight/backend/pkg/store"
)

const entityColumns = `id, public_id, dataset_id, name, normalized_name, type,
	COALESCE(aliases, '{}'), mention_count, document_count,
	COALESCE(category, ''), risk_score, COALESCE(risk_factors, '{}'::jsonb),
	pagerank, betweenness, community_id`

func scanEntity(row interface{ Scan(dest ...any) error }) (*common.Entity, error) {
	var (
		e           common.Entity
		entityType  string
		factorsJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.PublicID, &e.DatasetID, &e.Name, &e.NormalizedName,
		&entityType, &e.Aliases, &e.MentionCount, &e.DocumentCount,
		&e.Category, &e.RiskScore, &factorsJSON, &e.PageRank,
		&e.Betweenness, &e.CommunityID,
	)
	if err != nil {
		return nil, err
	}
	e.Type = common.EntityType(entityType)
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &e.RiskFactors); err != nil {
			return nil, fmt.Errorf("decode risk factors for entity %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

// FindOrCreateEntity returns the entity with the same dedup key
// (dataset, normalized name, type), creating it when absent. The insert
// races safely: ON CONFLICT falls through to the existing row.
func (s *ArchiveDBStorage) FindOrCreateEntity(ctx context.Context, entity common.Entity) (*common.Entity, error) {
	if entity.NormalizedName == "" {
		return nil, fmt.Errorf("entity normalized name is empty")
	}

	publicID := entity.PublicID
	if publicID == "" {
		var err error
		publicID, err = gonanoid.New()
		if err != nil {
			return nil, err
		}
	}

	row := s.conn.QueryRow(ctx,
		`INSERT INTO entities
		     (public_id, dataset_id, name, normalized_name, type, aliases, category)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 ON CONFLICT (dataset_id, normalized_name, type)
		 DO UPDATE SET aliases = (
		     SELECT array_agg(DISTINCT a)
		     FROM unnest(entities.aliases || EXCLUDED.aliases) AS a
		 )
		 RETURNING `+entityColumns,
		publicID, entity.DatasetID, entity.Name, entity.NormalizedName,
		string(entity.Type), entity.Aliases, entity.Category)
	return scanEntity(row)
}

// AddAliases unions new aliases into an entity's alias set.
func (s *ArchiveDBStorage) AddAliases(ctx context.Context, entityID int64, aliases []string) error {
	aliases = store.DedupeStrings(aliases)
	if len(aliases) == 0 {
		return nil
	}
	_, err := s.conn.Exec(ctx,
		`UPDATE entities
		 SET aliases = (
		     SELECT array_agg(DISTINCT a)
		     FROM unnest(COALESCE(aliases, '{}') || $2::text[]) AS a
		 )
		 WHERE id = $1`,
		entityID, aliases)
	return err
}

// SaveMentions bulk-inserts entity mentions and refreshes the affected
// entities' mention and document counts from the mention table.
func (s *ArchiveDBStorage) SaveMentions(ctx context.Context, mentions []common.EntityMention) error {
	if len(mentions) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	mentionChunk := 500
	err = store.ChunkRange(len(mentions), mentionChunk, func(start, end int) error {
		part := mentions[start:end]
		logger.Debug("[Store] Inserting mention batch", "mentions", len(part))

		publicIDs := make([]string, 0, len(part))
		entityIDs := make([]int64, 0, len(part))
		documentIDs := make([]int64, 0, len(part))
		chunkIDs := make([]int64, 0, len(part))
		texts := make([]string, 0, len(part))
		contexts := make([]string, 0, len(part))
		confidences := make([]float64, 0, len(part))
		types := make([]string, 0, len(part))
		weights := make([]float64, 0, len(part))
		for _, m := range part {
			publicID := m.PublicID
			if publicID == "" {
				var err error
				publicID, err = gonanoid.New()
				if err != nil {
					return err
				}
			}
			publicIDs = append(publicIDs, publicID)
			entityIDs = append(entityIDs, m.EntityID)
			documentIDs = append(documentIDs, m.DocumentID)
			chunkIDs = append(chunkIDs, m.ChunkID)
			texts = append(texts, m.Text)
			contexts = append(contexts, m.Context)
			confidences = append(confidences, m.Confidence)
			types = append(types, string(m.MentionType))
			weights = append(weights, m.EvidenceWeight)
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO entity_mentions
			     (public_id, entity_id, document_id, chunk_id, text, context,
			      confidence, mention_type, evidence_weight)
			 SELECT p, e, d, c, t, cx, cf, mt, w
			 FROM unnest(
			     $1::text[], $2::bigint[], $3::bigint[], $4::bigint[],
			     $5::text[], $6::text[], $7::float8[], $8::text[], $9::float8[]
			 ) AS u(p, e, d, c, t, cx, cf, mt, w)`,
			publicIDs, entityIDs, documentIDs, chunkIDs, texts, contexts,
			confidences, types, weights)
		return err
	})
	if err != nil {
		return err
	}

	entityIDs := make([]int64, 0, len(mentions))
	for _, m := range mentions {
		entityIDs = append(entityIDs, m.EntityID)
	}
	entityIDs = store.DedupeInt64s(entityIDs)

	// Counts derive from the mention table so concurrent writers converge.
	_, err = tx.Exec(ctx,
		`UPDATE entities e
		 SET mention_count = m.mentions, document_count = m.documents
		 FROM (
		     SELECT entity_id,
		            count(*) AS mentions,
		            count(DISTINCT document_id) AS documents
		     FROM entity_mentions
		     WHERE entity_id = ANY($1)
		     GROUP BY entity_id
		 ) m
		 WHERE e.id = m.entity_id`,
		entityIDs)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetEntitiesByDataset returns every entity in a dataset.
func (s *ArchiveDBStorage) GetEntitiesByDataset(ctx context.Context, datasetID string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE dataset_id = $1 ORDER BY id`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

// GetEntityMentions returns an entity's mentions.
func (s *ArchiveDBStorage) GetEntityMentions(ctx context.Context, entityID int64) ([]common.EntityMention, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, public_id, entity_id, document_id, chunk_id, text,
		        context, confidence, mention_type, evidence_weight
		 FROM entity_mentions WHERE entity_id = $1 ORDER BY id`,
		entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []common.EntityMention
	for rows.Next() {
		var (
			m           common.EntityMention
			mentionType string
		)
		err := rows.Scan(&m.ID, &m.PublicID, &m.EntityID, &m.DocumentID,
			&m.ChunkID, &m.Text, &m.Context, &m.Confidence, &mentionType,
			&m.EvidenceWeight)
		if err != nil {
			return nil, err
		}
		m.MentionType = common.MentionType(mentionType)
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// GetMentionsByDocument returns every mention recorded for a document.
// The entity extraction stage uses a non-empty result as its idempotency
// signal.
func (s *ArchiveDBStorage) GetMentionsByDocument(ctx context.Context, documentID int64) ([]common.EntityMention, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, public_id, entity_id, document_id, chunk_id, text,
		        context, confidence, mention_type, evidence_weight
		 FROM entity_mentions WHERE document_id = $1 ORDER BY id`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mentions []common.EntityMention
	for rows.Next() {
		var (
			m           common.EntityMention
			mentionType string
		)
		err := rows.Scan(&m.ID, &m.PublicID, &m.EntityID, &m.DocumentID,
			&m.ChunkID, &m.Text, &m.Context, &m.Confidence, &mentionType,
			&m.EvidenceWeight)
		if err != nil {
			return nil, err
		}
		m.MentionType = common.MentionType(mentionType)
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// UpdateNetworkMetrics writes pagerank, betweenness, and community ids
// back in batches.
func (s *ArchiveDBStorage) UpdateNetworkMetrics(ctx context.Context, datasetID string, metrics []store.EntityMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	metricChunk := 1000
	return store.ChunkRange(len(metrics), metricChunk, func(start, end int) error {
		part := metrics[start:end]
		logger.Debug("[Store] Writing network metrics batch", "dataset", datasetID, "entities", len(part))

		ids := make([]int64, 0, len(part))
		pageranks := make([]float64, 0, len(part))
		betweenness := make([]float64, 0, len(part))
		communities := make([]int, 0, len(part))
		for _, m := range part {
			ids = append(ids, m.EntityID)
			pageranks = append(pageranks, m.PageRank)
			betweenness = append(betweenness, m.Betweenness)
			communities = append(communities, m.CommunityID)
		}

		_, err := s.conn.Exec(ctx,
			`UPDATE entities e
			 SET pagerank = u.pr, betweenness = u.bc, community_id = u.cm
			 FROM unnest($1::bigint[], $2::float8[], $3::float8[], $4::int[])
			     AS u(id, pr, bc, cm)
			 WHERE e.id = u.id`,
			ids, pageranks, betweenness, communities)
		return err
	})
}

// UpdateRiskScores writes risk scores and their factor breakdowns back
// in batches.
func (s *ArchiveDBStorage) UpdateRiskScores(ctx context.Context, scores []store.EntityRisk) error {
	if len(scores) == 0 {
		return nil
	}

	scoreChunk := 1000
	return store.ChunkRange(len(scores), scoreChunk, func(start, end int) error {
		part := scores[start:end]

		ids := make([]int64, 0, len(part))
		values := make([]float64, 0, len(part))
		factors := make([][]byte, 0, len(part))
		for _, sc := range part {
			raw, err := json.Marshal(sc.RiskFactors)
			if err != nil {
				return err
			}
			ids = append(ids, sc.EntityID)
			values = append(values, sc.RiskScore)
			factors = append(factors, raw)
		}

		_, err := s.conn.Exec(ctx,
			`UPDATE entities e
			 SET risk_score = u.score, risk_factors = u.factors::jsonb
			 FROM unnest($1::bigint[], $2::float8[], $3::text[])
			     AS u(id, score, factors)
			 WHERE e.id = u.id`,
			ids, values, jsonStrings(factors))
		return err
	})
}

func jsonStrings(raw [][]byte) []string {
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = string(r)
	}
	return out
}

// MergeEntities folds dropID into keepID: mentions and relationships move
// over, aliases union, and the dropped row is deleted. Merging is only
// ever triggered explicitly from a reviewed duplicate report.
func (s *ArchiveDBStorage) MergeEntities(ctx context.Context, keepID, dropID int64) error {
	if keepID == dropID {
		return fmt.Errorf("cannot merge entity %d into itself", keepID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE entity_mentions SET entity_id = $1 WHERE entity_id = $2`,
		keepID, dropID); err != nil {
		return err
	}

	// Edges whose re-pointed key collides with an existing row fold
	// their strength and evidence into it first, so nothing is lost
	// when the colliding rows are deleted below.
	if err := s.foldCollidingEdges(ctx, tx, keepID, dropID); err != nil {
		return err
	}

	// Re-point edges at the surviving entity, keeping the a < b ordering.
	// Edges that would collapse into an existing (a, b, type) row were
	// folded above and stay behind for the delete.
	if _, err := tx.Exec(ctx,
		`UPDATE entity_relationships r
		 SET entity_a = LEAST(
		         CASE WHEN entity_a = $2 THEN $1::bigint ELSE entity_a END,
		         CASE WHEN entity_b = $2 THEN $1::bigint ELSE entity_b END),
		     entity_b = GREATEST(
		         CASE WHEN entity_a = $2 THEN $1::bigint ELSE entity_a END,
		         CASE WHEN entity_b = $2 THEN $1::bigint ELSE entity_b END)
		 WHERE (entity_a = $2 OR entity_b = $2)
		   AND NOT EXISTS (
		       SELECT 1 FROM entity_relationships o
		       WHERE o.id != r.id
		         AND o.type = r.type
		         AND o.entity_a = LEAST(
		             CASE WHEN r.entity_a = $2 THEN $1::bigint ELSE r.entity_a END,
		             CASE WHEN r.entity_b = $2 THEN $1::bigint ELSE r.entity_b END)
		         AND o.entity_b = GREATEST(
		             CASE WHEN r.entity_a = $2 THEN $1::bigint ELSE r.entity_a END,
		             CASE WHEN r.entity_b = $2 THEN $1::bigint ELSE r.entity_b END)
		   )`,
		keepID, dropID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM entity_relationships
		 WHERE entity_a = $1 OR entity_b = $1 OR entity_a = entity_b`,
		dropID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE entities keep
		 SET aliases = (
		         SELECT array_agg(DISTINCT a)
		         FROM unnest(keep.aliases || drop_e.aliases || ARRAY[drop_e.name]) AS a
		     )
		 FROM entities drop_e
		 WHERE keep.id = $1 AND drop_e.id = $2`,
		keepID, dropID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM entities WHERE id = $1`, dropID); err != nil {
		return err
	}

	// Recount from mentions after the move.
	if _, err := tx.Exec(ctx,
		`UPDATE entities e
		 SET mention_count = COALESCE(m.mentions, 0),
		     document_count = COALESCE(m.documents, 0)
		 FROM (
		     SELECT entity_id,
		            count(*) AS mentions,
		            count(DISTINCT document_id) AS documents
		     FROM entity_mentions
		     WHERE entity_id = $1
		     GROUP BY entity_id
		 ) m
		 WHERE e.id = $1`,
		keepID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// foldCollidingEdges merges every edge touching dropID whose re-pointed
// (entity_a, entity_b, type) key already exists into that surviving row.
func (s *ArchiveDBStorage) foldCollidingEdges(ctx context.Context, tx pgx.Tx, keepID, dropID int64) error {
	rows, err := tx.Query(ctx,
		`SELECT surv.id,
		        surv.strength, COALESCE(surv.chunk_ids, '{}'),
		        COALESCE(surv.document_ids, '{}'), COALESCE(surv.description, ''),
		        r.strength, COALESCE(r.chunk_ids, '{}'),
		        COALESCE(r.document_ids, '{}'), COALESCE(r.description, '')
		 FROM entity_relationships r
		 JOIN entity_relationships surv
		   ON surv.id != r.id
		  AND surv.type = r.type
		  AND surv.entity_a = LEAST(
		      CASE WHEN r.entity_a = $2 THEN $1::bigint ELSE r.entity_a END,
		      CASE WHEN r.entity_b = $2 THEN $1::bigint ELSE r.entity_b END)
		  AND surv.entity_b = GREATEST(
		      CASE WHEN r.entity_a = $2 THEN $1::bigint ELSE r.entity_a END,
		      CASE WHEN r.entity_b = $2 THEN $1::bigint ELSE r.entity_b END)
		 WHERE r.entity_a = $2 OR r.entity_b = $2`,
		keepID, dropID)
	if err != nil {
		return err
	}

	type foldPair struct {
		id         int64
		into, from common.EntityRelationship
	}
	var folds []foldPair
	for rows.Next() {
		var f foldPair
		if err := rows.Scan(&f.id,
			&f.into.Strength, &f.into.ChunkIDs, &f.into.DocumentIDs, &f.into.Description,
			&f.from.Strength, &f.from.ChunkIDs, &f.from.DocumentIDs, &f.from.Description); err != nil {
			rows.Close()
			return err
		}
		folds = append(folds, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range folds {
		merged := store.FoldEdgeEvidence(f.into, f.from)
		if _, err := tx.Exec(ctx,
			`UPDATE entity_relationships
			 SET strength = $2, chunk_ids = $3, document_ids = $4,
			     description = $5
			 WHERE id = $1`,
			f.id, merged.Strength, merged.ChunkIDs, merged.DocumentIDs,
			merged.Description); err != nil {
			return err
		}
	}
	return nil
}
