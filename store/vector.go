package store

import (
	"context"
	"fmt"
)

// EntityMatch is an entity returned by a similarity search.
type EntityMatch struct {
	Entity
	Distance float64 `json:"distance"`
}

// UpsertEntityEmbedding stores the embedding for an entity.
func (s *Store) UpsertEntityEmbedding(ctx context.Context, entityID string, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.embeddingDim)
	}

	var rowid int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT rowid FROM entities WHERE id = ?", entityID).Scan(&rowid); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_entities (entity_rowid, embedding) VALUES (?, ?)",
		rowid, serializeFloat32(embedding))
	return err
}

// SimilarEntities performs a KNN search over entity embeddings and returns
// up to k matches from the given project, nearest first.
func (s *Store) SimilarEntities(ctx context.Context, projectID string, query []float32, k int) ([]EntityMatch, error) {
	if len(query) != s.embeddingDim {
		return nil, fmt.Errorf("query has %d dimensions, store expects %d", len(query), s.embeddingDim)
	}
	if k <= 0 {
		k = 10
	}

	// KNN runs over all projects; over-fetch before filtering to one.
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.project_id, e.document_id, e.name, e.type, e.subtype, e.description,
			e.metadata, e.confidence, e.review_status, e.territory_id, e.created_at, v.distance
		FROM vec_entities v
		JOIN entities e ON e.rowid = v.entity_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var m EntityMatch
		e, err := scanEntity(scanWithDistance{rows, &m.Distance})
		if err != nil {
			return nil, err
		}
		if e.ProjectID != projectID {
			continue
		}
		m.Entity = *e
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out, rows.Err()
}

// scanWithDistance appends the trailing distance column to an entity scan.
type scanWithDistance struct {
	r        rowScanner
	distance *float64
}

func (s scanWithDistance) Scan(dest ...any) error {
	return s.r.Scan(append(dest, s.distance)...)
}
