// Package cluster groups indexed faces of a gallery into persistent person
// clusters.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
)

var ErrClusterNotFound = errors.New("person cluster not found")

// createAttempts bounds how often a face is re-matched after losing a race
// to create its cluster.
const createAttempts = 3

type Store interface {
	FacesByExternalIDs(ctx context.Context, galleryID uuid.UUID, externalIDs []string) ([]models.FaceRef, error)
	GetCluster(ctx context.Context, id uuid.UUID) (*models.PersonCluster, error)
	GetClusters(ctx context.Context, ids []uuid.UUID) ([]models.PersonCluster, error)
	ListClusters(ctx context.Context, galleryID uuid.UUID) ([]models.PersonCluster, error)
	// CreateCluster writes nothing and returns models.ErrFacesClustered when
	// any face is gone or already clustered.
	CreateCluster(ctx context.Context, c *models.PersonCluster, faces []models.FaceKey) error
	AssignFaces(ctx context.Context, clusterID uuid.UUID, faces []models.FaceKey) error
	RenameCluster(ctx context.Context, id uuid.UUID, name string) (*models.PersonCluster, error)
}

// FaceSearcher is the part of the face index clustering needs.
type FaceSearcher interface {
	SearchFacesByID(ctx context.Context, collectionID, faceID string, threshold float64, maxResults int) ([]faceindex.FaceMatch, error)
}

type Engine struct {
	store      Store
	index      FaceSearcher
	threshold  float64
	maxResults int
}

func NewEngine(store Store, index FaceSearcher, threshold float64, maxResults int) *Engine {
	return &Engine{store: store, index: index, threshold: threshold, maxResults: maxResults}
}

// Incorporate assigns each indexed, unclustered face of a photo to a matching
// cluster or seeds a new one. Faces are handled independently; the returned
// error joins the per-face failures.
func (e *Engine) Incorporate(ctx context.Context, galleryID uuid.UUID, collectionID string, photoID uuid.UUID, faces []models.PersonFace) error {
	if collectionID == "" {
		return nil
	}
	var errs []error
	for _, f := range faces {
		if f.ExternalFaceID == "" || f.PersonClusterID != nil {
			continue
		}
		key := models.FaceKey{PhotoID: photoID, FaceID: f.FaceID}
		if err := e.incorporateFace(ctx, galleryID, collectionID, key, f); err != nil {
			errs = append(errs, fmt.Errorf("cluster face %s: %w", f.FaceID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) incorporateFace(ctx context.Context, galleryID uuid.UUID, collectionID string, key models.FaceKey, face models.PersonFace) error {
	matches, err := e.index.SearchFacesByID(ctx, collectionID, face.ExternalFaceID, e.threshold, e.maxResults)
	if err != nil {
		return fmt.Errorf("search similar faces: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err := e.placeFace(ctx, galleryID, key, face, matches)
		if !errors.Is(err, models.ErrFacesClustered) || attempt == createAttempts {
			return err
		}
		slog.Debug("cluster creation raced, re-matching face", "photo_id", key.PhotoID, "face_id", key.FaceID, "attempt", attempt)
	}
}

// placeFace assigns a face to the best cluster among its matches, or creates
// a cluster holding the face and its unclustered matches.
func (e *Engine) placeFace(ctx context.Context, galleryID uuid.UUID, key models.FaceKey, face models.PersonFace, matches []faceindex.FaceMatch) error {
	externalIDs := make([]string, 0, len(matches)+1)
	externalIDs = append(externalIDs, face.ExternalFaceID)
	for _, m := range matches {
		externalIDs = append(externalIDs, m.FaceID)
	}
	refs, err := e.store.FacesByExternalIDs(ctx, galleryID, externalIDs)
	if err != nil {
		return err
	}
	byExternal := make(map[string]models.FaceRef, len(refs))
	for _, r := range refs {
		byExternal[r.ExternalFaceID] = r
	}

	// Another photo's retroactive merge may already have claimed this face,
	// or a reanalysis replaced it.
	self, ok := byExternal[face.ExternalFaceID]
	if !ok || self.PersonClusterID != nil {
		return nil
	}

	clusterID, err := e.bestCluster(ctx, matches, byExternal)
	if err != nil {
		return err
	}
	if clusterID != uuid.Nil {
		slog.Debug("face joins cluster", "photo_id", key.PhotoID, "face_id", key.FaceID, "cluster_id", clusterID)
		return e.store.AssignFaces(ctx, clusterID, []models.FaceKey{key})
	}

	members := []models.FaceKey{key}
	for _, m := range matches {
		if r, ok := byExternal[m.FaceID]; ok && !slices.Contains(members, r.FaceKey) {
			members = append(members, r.FaceKey)
		}
	}
	c := &models.PersonCluster{
		GalleryID:       galleryID,
		Role:            strings.TrimSpace(face.Role),
		FaceDescription: face.Appearance,
	}
	if err := e.store.CreateCluster(ctx, c, members); err != nil {
		return err
	}
	observability.ClustersCreated.Inc()
	slog.Debug("person cluster created", "cluster_id", c.ID, "gallery_id", galleryID, "faces", len(members))
	return nil
}

// bestCluster returns the cluster of the most similar clustered match, or
// uuid.Nil. Equal similarities resolve to the earliest created cluster.
func (e *Engine) bestCluster(ctx context.Context, matches []faceindex.FaceMatch, byExternal map[string]models.FaceRef) (uuid.UUID, error) {
	var best float64
	var tied []uuid.UUID
	for _, m := range matches {
		r, ok := byExternal[m.FaceID]
		if !ok || r.PersonClusterID == nil {
			continue
		}
		switch {
		case len(tied) == 0 || m.Similarity > best:
			best = m.Similarity
			tied = []uuid.UUID{*r.PersonClusterID}
		case m.Similarity == best && !slices.Contains(tied, *r.PersonClusterID):
			tied = append(tied, *r.PersonClusterID)
		}
	}

	switch len(tied) {
	case 0:
		return uuid.Nil, nil
	case 1:
		return tied[0], nil
	}
	clusters, err := e.store.GetClusters(ctx, tied)
	if err != nil {
		return uuid.Nil, err
	}
	if len(clusters) == 0 {
		return uuid.Nil, nil
	}
	return clusters[0].ID, nil
}

func (e *Engine) ListClusters(ctx context.Context, galleryID uuid.UUID) ([]models.PersonCluster, error) {
	return e.store.ListClusters(ctx, galleryID)
}

func (e *Engine) GetCluster(ctx context.Context, id uuid.UUID) (*models.PersonCluster, error) {
	c, err := e.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClusterNotFound
	}
	return c, nil
}

// Rename sets the user-facing name of a cluster. Clustering never writes
// names, so a name set here is kept across later analyses.
func (e *Engine) Rename(ctx context.Context, id uuid.UUID, name string) (*models.PersonCluster, error) {
	c, err := e.store.RenameCluster(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClusterNotFound
	}
	return c, nil
}
