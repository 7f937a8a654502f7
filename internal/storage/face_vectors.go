package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/galleryai/internal/faceindex"
)

func (s *PostgresStore) CreateFaceCollection(ctx context.Context, collectionID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_collections (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, collectionID)
	if err != nil {
		return fmt.Errorf("create face collection: %w", err)
	}
	return nil
}

// DeleteFaceCollection removes a collection and its vectors. Missing collections are ignored.
func (s *PostgresStore) DeleteFaceCollection(ctx context.Context, collectionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM face_collections WHERE id = $1`, collectionID); err != nil {
		return fmt.Errorf("delete face collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFaceVector(ctx context.Context, v faceindex.FaceVector) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_vectors (id, collection_id, external_ref, embedding, confidence)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.CollectionID, v.ExternalRef, pgvector.NewVector(v.Embedding), v.Confidence)
	if err != nil {
		return fmt.Errorf("insert face vector: %w", err)
	}
	return nil
}

// SearchFaceVectors finds faces similar to faceID within its collection,
// excluding faceID itself. Scores are cosine similarity in 0-1.
func (s *PostgresStore) SearchFaceVectors(ctx context.Context, collectionID string, faceID uuid.UUID, minScore float64, limit int) ([]faceindex.FaceMatch, error) {
	rows, err := s.pool.Query(ctx,
		`WITH q AS (
		     SELECT embedding FROM face_vectors WHERE collection_id = $1 AND id = $2
		 )
		 SELECT v.id, v.external_ref, 1 - (v.embedding <=> q.embedding) AS score
		 FROM face_vectors v, q
		 WHERE v.collection_id = $1 AND v.id <> $2
		   AND 1 - (v.embedding <=> q.embedding) >= $3
		 ORDER BY v.embedding <=> q.embedding
		 LIMIT $4`,
		collectionID, faceID, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("search face vectors: %w", err)
	}
	defer rows.Close()

	var matches []faceindex.FaceMatch
	for rows.Next() {
		var id uuid.UUID
		var m faceindex.FaceMatch
		if err := rows.Scan(&id, &m.ExternalRef, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan face match: %w", err)
		}
		m.FaceID = id.String()
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) DeleteFaceVectors(ctx context.Context, collectionID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM face_vectors WHERE collection_id = $1 AND id = ANY($2::uuid[])`,
		collectionID, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("delete face vectors: %w", err)
	}
	return nil
}
