package pgx

import (
	"context"

	"github.com/caselight/backend/pkg/store"
)

// FindSimilarEntityPairs finds same-type entities with similar normalized
// names using pg_trgm's similarity operator. When the extension is not
// installed it returns store.ErrUnsupported so the resolver can fall back
// to its in-process comparison.
func (s *ArchiveDBStorage) FindSimilarEntityPairs(ctx context.Context, datasetID string, threshold float64) ([]store.SimilarEntityPair, error) {
	if !s.HasExtension(ctx, "pg_trgm") {
		return nil, store.ErrUnsupported
	}

	rows, err := s.conn.Query(ctx,
		`SELECT a.id, b.id, a.name, b.name, a.type,
		        similarity(a.normalized_name, b.normalized_name)
		 FROM entities a
		 JOIN entities b
		   ON a.dataset_id = b.dataset_id
		  AND a.type = b.type
		  AND a.id < b.id
		 WHERE a.dataset_id = $1
		   AND similarity(a.normalized_name, b.normalized_name) >= $2
		 ORDER BY similarity(a.normalized_name, b.normalized_name) DESC`,
		datasetID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []store.SimilarEntityPair
	for rows.Next() {
		var p store.SimilarEntityPair
		if err := rows.Scan(&p.AID, &p.BID, &p.AName, &p.BName, &p.Type, &p.Similarity); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
