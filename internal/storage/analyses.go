package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/galleryai/internal/models"
)

const analysisColumns = `photo_id, gallery_id, status, description, search_tags, analysis_data::text,
	face_count, error_message, retry_count, analyzed_at, created_at, updated_at`

func scanAnalysis(row pgx.Row) (*models.PhotoAnalysis, error) {
	var a models.PhotoAnalysis
	var data string
	err := row.Scan(&a.PhotoID, &a.GalleryID, &a.Status, &a.Description, &a.SearchTags, &data,
		&a.FaceCount, &a.ErrorMessage, &a.RetryCount, &a.AnalyzedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.AnalysisData = json.RawMessage(data)
	return &a, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, photoID uuid.UUID) (*models.PhotoAnalysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM photo_analyses WHERE photo_id = $1`, photoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}

	faces, err := loadFaces(ctx, s.pool, []uuid.UUID{photoID})
	if err != nil {
		return nil, err
	}
	a.Faces = faces[photoID]
	return a, nil
}

// ListAnalysesByStatus returns a gallery's analyses in the given status with their faces.
func (s *PostgresStore) ListAnalysesByStatus(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM photo_analyses
		 WHERE gallery_id = $1 AND status = $2
		 ORDER BY created_at, photo_id`, galleryID, status)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []models.PhotoAnalysis
	var ids []uuid.UUID
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
		ids = append(ids, a.PhotoID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	if len(ids) == 0 {
		return analyses, nil
	}
	faces, err := loadFaces(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range analyses {
		analyses[i].Faces = faces[analyses[i].PhotoID]
	}
	return analyses, nil
}

func (s *PostgresStore) ListPendingPhotoIDs(ctx context.Context, galleryID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT photo_id FROM photo_analyses WHERE gallery_id = $1 AND status = 'PENDING' ORDER BY created_at, photo_id`,
		galleryID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	return ids, nil
}

// SeedPending creates PENDING rows for photos that have none and returns
// how many were created.
func (s *PostgresStore) SeedPending(ctx context.Context, galleryID uuid.UUID, photoIDs []uuid.UUID) (int, error) {
	if len(photoIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO photo_analyses (photo_id, gallery_id, status)
		 SELECT id, $1, 'PENDING' FROM unnest($2::uuid[]) AS id
		 ON CONFLICT (photo_id) DO NOTHING`,
		galleryID, uuidStrings(photoIDs))
	if err != nil {
		return 0, fmt.Errorf("seed pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TransitionStatus moves a record from one status to another only if it is
// currently in from. It reports whether the transition happened.
func (s *PostgresStore) TransitionStatus(ctx context.Context, photoID uuid.UUID, from, to models.AnalysisStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses SET status = $3, updated_at = NOW()
		 WHERE photo_id = $1 AND status = $2`,
		photoID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteAnalysis stores a successful result and replaces the photo's faces,
// provided the record is still PROCESSING. It reports false, leaving the row
// untouched, when the claim was lost. Clusters that referenced replaced faces
// get their photo ids recomputed.
func (s *PostgresStore) CompleteAnalysis(ctx context.Context, photoID uuid.UUID, result models.AnalysisResult) (bool, error) {
	data := result.AnalysisData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	tags := result.SearchTags
	if tags == nil {
		tags = []string{}
	}

	claimed := true
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var galleryID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE photo_analyses
			 SET status = 'COMPLETED', description = $2, search_tags = $3, analysis_data = $4::jsonb,
			     face_count = $5, error_message = '', analyzed_at = $6, updated_at = NOW()
			 WHERE photo_id = $1 AND status = 'PROCESSING'
			 RETURNING gallery_id`,
			photoID, result.Description, tags, string(data), len(result.Faces), result.AnalyzedAt,
		).Scan(&galleryID)
		if errors.Is(err, pgx.ErrNoRows) {
			claimed = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete analysis: %w", err)
		}

		rows, err := tx.Query(ctx,
			`DELETE FROM analysis_faces WHERE photo_id = $1 AND person_cluster_id IS NOT NULL
			 RETURNING person_cluster_id`, photoID)
		if err != nil {
			return fmt.Errorf("delete clustered faces: %w", err)
		}
		affected, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("delete clustered faces: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM analysis_faces WHERE photo_id = $1`, photoID); err != nil {
			return fmt.Errorf("delete faces: %w", err)
		}

		for i, f := range result.Faces {
			_, err := tx.Exec(ctx,
				`INSERT INTO analysis_faces (photo_id, face_id, gallery_id, position, external_face_id,
				     bbox_x, bbox_y, bbox_width, bbox_height, appearance, role, expression, age_range, person_cluster_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				photoID, f.FaceID, galleryID, i, f.ExternalFaceID,
				f.BoundingBox.X, f.BoundingBox.Y, f.BoundingBox.Width, f.BoundingBox.Height,
				f.Appearance, f.Role, f.Expression, f.AgeRange, f.PersonClusterID)
			if err != nil {
				return fmt.Errorf("insert face %s: %w", f.FaceID, err)
			}
		}

		for _, clusterID := range affected {
			if err := recomputePhotoIDs(ctx, tx, clusterID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// FailAnalysis marks a PROCESSING record FAILED with message and bumps its
// retry count. It reports false when the record is no longer PROCESSING.
func (s *PostgresStore) FailAnalysis(ctx context.Context, photoID uuid.UUID, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses
		 SET status = 'FAILED', error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		 WHERE photo_id = $1 AND status = 'PROCESSING'`,
		photoID, message)
	if err != nil {
		return false, fmt.Errorf("fail analysis: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchAnalysis refreshes updated_at of a PROCESSING record so stall
// recovery leaves it alone. It reports false when the record is no longer
// PROCESSING.
func (s *PostgresStore) TouchAnalysis(ctx context.Context, photoID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses SET updated_at = NOW() WHERE photo_id = $1 AND status = 'PROCESSING'`,
		photoID)
	if err != nil {
		return false, fmt.Errorf("touch analysis: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetStalled returns PROCESSING rows last updated before the cutoff to PENDING.
func (s *PostgresStore) ResetStalled(ctx context.Context, galleryID uuid.UUID, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses SET status = 'PENDING', updated_at = NOW()
		 WHERE gallery_id = $1 AND status = 'PROCESSING' AND updated_at < $2`,
		galleryID, before)
	if err != nil {
		return 0, fmt.Errorf("reset stalled: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailed returns FAILED rows whose message starts with one of prefixes
// to PENDING, clearing the message and retry count.
func (s *PostgresStore) ResetFailed(ctx context.Context, galleryID uuid.UUID, prefixes []string) (int64, error) {
	if len(prefixes) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE photo_analyses
		 SET status = 'PENDING', error_message = '', retry_count = 0, updated_at = NOW()
		 WHERE gallery_id = $1 AND status = 'FAILED'
		   AND EXISTS (SELECT 1 FROM unnest($2::text[]) AS p WHERE starts_with(error_message, p))`,
		galleryID, prefixes)
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, galleryID uuid.UUID) (map[models.AnalysisStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM photo_analyses WHERE gallery_id = $1 GROUP BY status`, galleryID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AnalysisStatus]int)
	for rows.Next() {
		var status models.AnalysisStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// LastUpdated returns the latest updated_at among a gallery's rows in status,
// or among all rows when status is empty. Nil when there are none.
func (s *PostgresStore) LastUpdated(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(updated_at) FROM photo_analyses
		 WHERE gallery_id = $1 AND ($2 = '' OR status = $2)`,
		galleryID, string(status)).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("last updated: %w", err)
	}
	return t, nil
}

// ListStalledGalleries returns galleries with PROCESSING rows last updated before the cutoff.
func (s *PostgresStore) ListStalledGalleries(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT gallery_id FROM photo_analyses WHERE status = 'PROCESSING' AND updated_at < $1`,
		before)
	if err != nil {
		return nil, fmt.Errorf("list stalled galleries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan stalled gallery: %w", err)
	}
	return ids, nil
}

// loadFaces returns faces keyed by photo id, each slice in stored order.
func loadFaces(ctx context.Context, q queryer, photoIDs []uuid.UUID) (map[uuid.UUID][]models.PersonFace, error) {
	rows, err := q.Query(ctx,
		`SELECT photo_id, face_id, external_face_id, bbox_x, bbox_y, bbox_width, bbox_height,
		        appearance, role, expression, age_range, person_cluster_id
		 FROM analysis_faces WHERE photo_id = ANY($1::uuid[])
		 ORDER BY photo_id, position`, uuidStrings(photoIDs))
	if err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.PersonFace, len(photoIDs))
	for rows.Next() {
		var photoID uuid.UUID
		var f models.PersonFace
		if err := rows.Scan(&photoID, &f.FaceID, &f.ExternalFaceID,
			&f.BoundingBox.X, &f.BoundingBox.Y, &f.BoundingBox.Width, &f.BoundingBox.Height,
			&f.Appearance, &f.Role, &f.Expression, &f.AgeRange, &f.PersonClusterID); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out[photoID] = append(out[photoID], f)
	}
	return out, rows.Err()
}
