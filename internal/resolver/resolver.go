// Package resolver finds every photo of the person behind a face.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
)

type Method string

const (
	MethodCluster      Method = "cluster"
	MethodLiveSearch   Method = "rekognition"
	MethodRoleFallback Method = "role_fallback"
)

var (
	ErrAnalysisNotFound = errors.New("photo analysis not found")
	ErrFaceNotFound     = errors.New("face not found")
)

type Store interface {
	GetAnalysis(ctx context.Context, photoID uuid.UUID) (*models.PhotoAnalysis, error)
	GetGallery(ctx context.Context, id uuid.UUID) (*models.Gallery, error)
	GetCluster(ctx context.Context, id uuid.UUID) (*models.PersonCluster, error)
	FacesByExternalIDs(ctx context.Context, galleryID uuid.UUID, externalIDs []string) ([]models.FaceRef, error)
	ListAnalysesByStatus(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error)
}

type FaceSearcher interface {
	SearchFacesByID(ctx context.Context, collectionID, faceID string, threshold float64, maxResults int) ([]faceindex.FaceMatch, error)
}

type Result struct {
	Method      Method      `json:"method"`
	PhotoIDs    []uuid.UUID `json:"photo_ids"`
	ClusterID   *uuid.UUID  `json:"cluster_id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Role        string      `json:"role,omitempty"`
	Description string      `json:"description,omitempty"`
}

type Resolver struct {
	store      Store
	index      FaceSearcher
	threshold  float64
	maxResults int
}

func NewResolver(store Store, index FaceSearcher, threshold float64, maxResults int) *Resolver {
	return &Resolver{store: store, index: index, threshold: threshold, maxResults: maxResults}
}

// FindPerson tries the face's cluster, then a live similarity search, then
// faces sharing its role. The query photo is always part of the result.
func (r *Resolver) FindPerson(ctx context.Context, photoID uuid.UUID, faceID string) (*Result, error) {
	analysis, err := r.store.GetAnalysis(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	if analysis == nil {
		return nil, ErrAnalysisNotFound
	}
	face := analysis.Face(faceID)
	if face == nil {
		return nil, ErrFaceNotFound
	}

	res, err := r.byCluster(ctx, photoID, face)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = r.byLiveSearch(ctx, analysis, face)
	}
	if res == nil {
		res, err = r.byRole(ctx, analysis, face)
		if err != nil {
			return nil, err
		}
	}

	observability.PersonLookups.WithLabelValues(string(res.Method)).Inc()
	return res, nil
}

func (r *Resolver) byCluster(ctx context.Context, photoID uuid.UUID, face *models.PersonFace) (*Result, error) {
	if face.PersonClusterID == nil {
		return nil, nil
	}
	c, err := r.store.GetCluster(ctx, *face.PersonClusterID)
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	if c == nil || len(c.PhotoIDs) == 0 {
		return nil, nil
	}
	id := c.ID
	return &Result{
		Method:      MethodCluster,
		PhotoIDs:    withPhoto(c.PhotoIDs, photoID),
		ClusterID:   &id,
		Name:        c.Name,
		Role:        c.Role,
		Description: c.Description,
	}, nil
}

// byLiveSearch returns nil when the face cannot be searched or the search
// fails, so the caller can fall back.
func (r *Resolver) byLiveSearch(ctx context.Context, analysis *models.PhotoAnalysis, face *models.PersonFace) *Result {
	if face.ExternalFaceID == "" || r.index == nil {
		return nil
	}
	g, err := r.store.GetGallery(ctx, analysis.GalleryID)
	if err != nil || g == nil || g.FaceCollectionID == "" {
		return nil
	}

	matches, err := r.index.SearchFacesByID(ctx, g.FaceCollectionID, face.ExternalFaceID, r.threshold, r.maxResults)
	if err != nil {
		slog.Warn("live face search failed", "photo_id", analysis.PhotoID, "face_id", face.FaceID, "error", err)
		return nil
	}
	externalIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		externalIDs = append(externalIDs, m.FaceID)
	}
	refs, err := r.store.FacesByExternalIDs(ctx, analysis.GalleryID, externalIDs)
	if err != nil {
		slog.Warn("resolve matched faces failed", "photo_id", analysis.PhotoID, "error", err)
		return nil
	}

	photoIDs := []uuid.UUID{analysis.PhotoID}
	for _, ref := range refs {
		photoIDs = withPhoto(photoIDs, ref.PhotoID)
	}
	return &Result{Method: MethodLiveSearch, PhotoIDs: photoIDs, Role: face.Role}
}

func (r *Resolver) byRole(ctx context.Context, analysis *models.PhotoAnalysis, face *models.PersonFace) (*Result, error) {
	res := &Result{Method: MethodRoleFallback, PhotoIDs: []uuid.UUID{analysis.PhotoID}, Role: face.Role}
	role := strings.TrimSpace(face.Role)
	if role == "" {
		return res, nil
	}

	completed, err := r.store.ListAnalysesByStatus(ctx, analysis.GalleryID, models.AnalysisCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed analyses: %w", err)
	}
	for _, a := range completed {
		if a.FaceCount == 0 {
			continue
		}
		for _, f := range a.Faces {
			if strings.EqualFold(strings.TrimSpace(f.Role), role) {
				res.PhotoIDs = withPhoto(res.PhotoIDs, a.PhotoID)
				break
			}
		}
	}
	return res, nil
}

// withPhoto appends id unless ids already holds it.
func withPhoto(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}
