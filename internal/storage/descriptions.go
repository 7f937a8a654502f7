package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/galleryai/internal/search"
)

func (s *PostgresStore) SetDescriptionEmbedding(ctx context.Context, photoID uuid.UUID, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses SET description_embedding = $2 WHERE photo_id = $1`,
		photoID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set description embedding: %w", err)
	}
	return nil
}

// SearchDescriptions ranks a gallery's completed photos by cosine similarity
// between their description embedding and the query vector.
func (s *PostgresStore) SearchDescriptions(ctx context.Context, galleryID uuid.UUID, embedding []float32, minScore float64, limit int) ([]search.ScoredPhoto, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT photo_id, 1 - (description_embedding <=> $2) AS score
		 FROM photo_analyses
		 WHERE gallery_id = $1 AND status = 'COMPLETED' AND description_embedding IS NOT NULL
		   AND 1 - (description_embedding <=> $2) >= $3
		 ORDER BY description_embedding <=> $2
		 LIMIT $4`,
		galleryID, pgvector.NewVector(embedding), minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("search descriptions: %w", err)
	}
	defer rows.Close()

	var results []search.ScoredPhoto
	for rows.Next() {
		var r search.ScoredPhoto
		if err := rows.Scan(&r.PhotoID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan description match: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
