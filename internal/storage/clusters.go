package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/galleryai/internal/models"
)

const clusterColumns = `id, gallery_id, name, role, description, face_description, photo_ids::text[], created_at, updated_at`

func scanCluster(row pgx.Row) (*models.PersonCluster, error) {
	var c models.PersonCluster
	var photoIDs []string
	if err := row.Scan(&c.ID, &c.GalleryID, &c.Name, &c.Role, &c.Description, &c.FaceDescription,
		&photoIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	ids, err := parseUUIDs(photoIDs)
	if err != nil {
		return nil, err
	}
	c.PhotoIDs = ids
	return &c, nil
}

func (s *PostgresStore) GetCluster(ctx context.Context, id uuid.UUID) (*models.PersonCluster, error) {
	c, err := scanCluster(s.pool.QueryRow(ctx,
		`SELECT `+clusterColumns+` FROM person_clusters WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetClusters(ctx context.Context, ids []uuid.UUID) ([]models.PersonCluster, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryClusters(ctx,
		`SELECT `+clusterColumns+` FROM person_clusters WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`,
		uuidStrings(ids))
}

func (s *PostgresStore) ListClusters(ctx context.Context, galleryID uuid.UUID) ([]models.PersonCluster, error) {
	return s.queryClusters(ctx,
		`SELECT `+clusterColumns+` FROM person_clusters WHERE gallery_id = $1 ORDER BY created_at, id`,
		galleryID)
}

func (s *PostgresStore) queryClusters(ctx context.Context, sql string, args ...any) ([]models.PersonCluster, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []models.PersonCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}

// FacesByExternalIDs resolves external face ids to faces within a gallery.
func (s *PostgresStore) FacesByExternalIDs(ctx context.Context, galleryID uuid.UUID, externalIDs []string) ([]models.FaceRef, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT photo_id, face_id, gallery_id, external_face_id, role, appearance, person_cluster_id
		 FROM analysis_faces
		 WHERE gallery_id = $1 AND external_face_id = ANY($2::text[])`,
		galleryID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("faces by external id: %w", err)
	}
	defer rows.Close()

	var refs []models.FaceRef
	for rows.Next() {
		var r models.FaceRef
		if err := rows.Scan(&r.PhotoID, &r.FaceID, &r.GalleryID, &r.ExternalFaceID, &r.Role,
			&r.Appearance, &r.PersonClusterID); err != nil {
			return nil, fmt.Errorf("scan face ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// CreateCluster inserts a cluster and assigns the given faces to it. The
// faces are locked first; if any of them is gone or already clustered nothing
// is written and models.ErrFacesClustered is returned. PhotoIDs is derived
// from the assigned faces.
func (s *PostgresStore) CreateCluster(ctx context.Context, c *models.PersonCluster, faces []models.FaceKey) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockUnclustered(ctx, tx, faces); err != nil {
			return err
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO person_clusters (id, gallery_id, name, role, description, face_description)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at, updated_at`,
			c.ID, c.GalleryID, c.Name, c.Role, c.Description, c.FaceDescription,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}

		if err := assignUnclustered(ctx, tx, c.ID, faces); err != nil {
			return err
		}
		if err := recomputePhotoIDs(ctx, tx, c.ID); err != nil {
			return err
		}
		var photoIDs []string
		if err := tx.QueryRow(ctx,
			`SELECT photo_ids::text[] FROM person_clusters WHERE id = $1`, c.ID,
		).Scan(&photoIDs); err != nil {
			return fmt.Errorf("read cluster photos: %w", err)
		}
		c.PhotoIDs, err = parseUUIDs(photoIDs)
		return err
	})
}

// AssignFaces adds unclustered faces to an existing cluster under a row lock.
func (s *PostgresStore) AssignFaces(ctx context.Context, clusterID uuid.UUID, faces []models.FaceKey) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM person_clusters WHERE id = $1 FOR UPDATE`, clusterID).Scan(&id)
		if err != nil {
			return fmt.Errorf("lock cluster %s: %w", clusterID, err)
		}
		if err := assignUnclustered(ctx, tx, clusterID, faces); err != nil {
			return err
		}
		return recomputePhotoIDs(ctx, tx, clusterID)
	})
}

// RenameCluster sets the user-facing name. Returns nil when the cluster does not exist.
func (s *PostgresStore) RenameCluster(ctx context.Context, id uuid.UUID, name string) (*models.PersonCluster, error) {
	c, err := scanCluster(s.pool.QueryRow(ctx,
		`UPDATE person_clusters SET name = $2, updated_at = NOW() WHERE id = $1 RETURNING `+clusterColumns,
		id, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("rename cluster: %w", err)
	}
	return c, nil
}

// lockUnclustered row-locks faces and checks they all exist without a cluster.
func lockUnclustered(ctx context.Context, tx pgx.Tx, faces []models.FaceKey) error {
	photoIDs := make([]string, len(faces))
	faceIDs := make([]string, len(faces))
	for i, f := range faces {
		photoIDs[i] = f.PhotoID.String()
		faceIDs[i] = f.FaceID
	}
	var free int
	err := tx.QueryRow(ctx,
		`WITH locked AS (
		     SELECT person_cluster_id FROM analysis_faces
		     WHERE (photo_id, face_id) IN (SELECT * FROM unnest($1::uuid[], $2::text[]))
		     ORDER BY photo_id, face_id
		     FOR UPDATE
		 )
		 SELECT COUNT(*) FROM locked WHERE person_cluster_id IS NULL`,
		photoIDs, faceIDs,
	).Scan(&free)
	if err != nil {
		return fmt.Errorf("lock cluster faces: %w", err)
	}
	if free != len(faces) {
		return models.ErrFacesClustered
	}
	return nil
}

func assignUnclustered(ctx context.Context, tx pgx.Tx, clusterID uuid.UUID, faces []models.FaceKey) error {
	for _, f := range faces {
		_, err := tx.Exec(ctx,
			`UPDATE analysis_faces SET person_cluster_id = $3
			 WHERE photo_id = $1 AND face_id = $2 AND person_cluster_id IS NULL`,
			f.PhotoID, f.FaceID, clusterID)
		if err != nil {
			return fmt.Errorf("assign face %s/%s: %w", f.PhotoID, f.FaceID, err)
		}
	}
	return nil
}

// recomputePhotoIDs rebuilds a cluster's photo ids from the faces referencing it.
func recomputePhotoIDs(ctx context.Context, tx pgx.Tx, clusterID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE person_clusters
		 SET photo_ids = COALESCE(
		         (SELECT array_agg(DISTINCT photo_id) FROM analysis_faces WHERE person_cluster_id = $1),
		         '{}'),
		     updated_at = NOW()
		 WHERE id = $1`, clusterID)
	if err != nil {
		return fmt.Errorf("recompute cluster photos: %w", err)
	}
	return nil
}
