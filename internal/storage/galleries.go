package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/galleryai/internal/models"
)

// CreateGallery inserts a gallery row. Galleries are normally created by the
// CRM; this exists for provisioning and tests.
func (s *PostgresStore) CreateGallery(ctx context.Context, g *models.Gallery) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO galleries (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
		g.ID, g.Name,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create gallery: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddPhoto(ctx context.Context, p *models.Photo) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, gallery_id, storage_key, filename) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.GalleryID, p.StorageKey, p.Filename,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("add photo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGallery(ctx context.Context, id uuid.UUID) (*models.Gallery, error) {
	var g models.Gallery
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, analysis_progress, ai_search_enabled, face_collection_id,
		        last_analysis_triggered_at, created_at, updated_at
		 FROM galleries WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.AnalysisProgress, &g.AISearchEnabled, &g.FaceCollectionID,
		&g.LastAnalysisTriggeredAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	return &g, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	var p models.Photo
	err := s.pool.QueryRow(ctx,
		`SELECT id, gallery_id, storage_key, filename, created_at FROM photos WHERE id = $1`, id,
	).Scan(&p.ID, &p.GalleryID, &p.StorageKey, &p.Filename, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPhotoIDs(ctx context.Context, galleryID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM photos WHERE gallery_id = $1 ORDER BY created_at, id`, galleryID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan photo id: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CountPhotos(ctx context.Context, galleryID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM photos WHERE gallery_id = $1`, galleryID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SetFaceCollection(ctx context.Context, galleryID uuid.UUID, collectionID string) error {
	return s.updateGallery(ctx, "set face collection",
		`UPDATE galleries SET face_collection_id = $2, updated_at = NOW() WHERE id = $1`, galleryID, collectionID)
}

func (s *PostgresStore) SetAnalysisProgress(ctx context.Context, galleryID uuid.UUID, progress int) error {
	return s.updateGallery(ctx, "set analysis progress",
		`UPDATE galleries SET analysis_progress = $2, updated_at = NOW() WHERE id = $1`, galleryID, progress)
}

func (s *PostgresStore) SetAISearchEnabled(ctx context.Context, galleryID uuid.UUID, enabled bool) error {
	return s.updateGallery(ctx, "set ai search",
		`UPDATE galleries SET ai_search_enabled = $2, updated_at = NOW() WHERE id = $1`, galleryID, enabled)
}

func (s *PostgresStore) MarkAnalysisTriggered(ctx context.Context, galleryID uuid.UUID, at time.Time) error {
	return s.updateGallery(ctx, "mark analysis triggered",
		`UPDATE galleries SET last_analysis_triggered_at = $2, updated_at = NOW() WHERE id = $1`, galleryID, at)
}

// ResetGalleryAnalysis deletes all analyses, faces and clusters of a gallery
// and resets its analysis state.
func (s *PostgresStore) ResetGalleryAnalysis(ctx context.Context, galleryID uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM photo_analyses WHERE gallery_id = $1`, galleryID); err != nil {
			return fmt.Errorf("delete analyses: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM person_clusters WHERE gallery_id = $1`, galleryID); err != nil {
			return fmt.Errorf("delete clusters: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE galleries
			 SET analysis_progress = 0, ai_search_enabled = FALSE, face_collection_id = '', updated_at = NOW()
			 WHERE id = $1`, galleryID); err != nil {
			return fmt.Errorf("reset gallery: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) updateGallery(ctx context.Context, op, sql string, args ...any) error {
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
