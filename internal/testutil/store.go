// Package testutil holds in-memory fakes of the service's collaborators.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/search"
)

var errNoCluster = errors.New("cluster does not exist")

// MemoryStore mirrors storage.PostgresStore in memory.
type MemoryStore struct {
	mu sync.Mutex

	// Err, when set, is returned by every method.
	Err error
	// Now stamps updated_at; defaults to time.Now.
	Now func() time.Time

	galleries    map[uuid.UUID]*models.Gallery
	photos       map[uuid.UUID]*models.Photo
	photoOrder   []uuid.UUID
	analyses     map[uuid.UUID]*models.PhotoAnalysis
	clusters     map[uuid.UUID]*models.PersonCluster
	clusterOrder []uuid.UUID
	embeddings   map[uuid.UUID][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		galleries:  make(map[uuid.UUID]*models.Gallery),
		photos:     make(map[uuid.UUID]*models.Photo),
		analyses:   make(map[uuid.UUID]*models.PhotoAnalysis),
		clusters:   make(map[uuid.UUID]*models.PersonCluster),
		embeddings: make(map[uuid.UUID][]float32),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AddGallery creates a gallery with n photos and returns it with the photo ids.
func (s *MemoryStore) AddGallery(n int) (*models.Gallery, []uuid.UUID) {
	g := &models.Gallery{ID: uuid.New(), Name: "test"}
	_ = s.CreateGallery(context.Background(), g)
	ids := make([]uuid.UUID, 0, n)
	for range n {
		p := &models.Photo{GalleryID: g.ID}
		_ = s.AddPhoto(context.Background(), p)
		ids = append(ids, p.ID)
	}
	return g, ids
}

// PutAnalysis stores a copy of a, replacing any existing row.
func (s *MemoryStore) PutAnalysis(a models.PhotoAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = s.now()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = a.UpdatedAt
	}
	a.FaceCount = len(a.Faces)
	s.analyses[a.PhotoID] = cloneAnalysis(&a)
}

// Touch overrides a row's updated_at.
func (s *MemoryStore) Touch(photoID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.analyses[photoID]; ok {
		a.UpdatedAt = at
	}
}

// Embedding returns the stored description embedding of a photo.
func (s *MemoryStore) Embedding(photoID uuid.UUID) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddings[photoID]
}

func (s *MemoryStore) CreateGallery(_ context.Context, g *models.Gallery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.CreatedAt, g.UpdatedAt = s.now(), s.now()
	c := *g
	s.galleries[g.ID] = &c
	return nil
}

func (s *MemoryStore) AddPhoto(_ context.Context, p *models.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.StorageKey == "" {
		p.StorageKey = "photos/" + p.GalleryID.String() + "/" + p.ID.String() + ".jpg"
	}
	p.CreatedAt = s.now()
	c := *p
	s.photos[p.ID] = &c
	s.photoOrder = append(s.photoOrder, p.ID)
	return nil
}

func (s *MemoryStore) GetGallery(_ context.Context, id uuid.UUID) (*models.Gallery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	g, ok := s.galleries[id]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (s *MemoryStore) GetPhoto(_ context.Context, id uuid.UUID) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.photos[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ListPhotoIDs(_ context.Context, galleryID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []uuid.UUID
	for _, id := range s.photoOrder {
		if s.photos[id].GalleryID == galleryID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) CountPhotos(ctx context.Context, galleryID uuid.UUID) (int, error) {
	ids, err := s.ListPhotoIDs(ctx, galleryID)
	return len(ids), err
}

func (s *MemoryStore) updateGallery(id uuid.UUID, fn func(g *models.Gallery)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if g, ok := s.galleries[id]; ok {
		fn(g)
		g.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) SetFaceCollection(_ context.Context, galleryID uuid.UUID, collectionID string) error {
	return s.updateGallery(galleryID, func(g *models.Gallery) { g.FaceCollectionID = collectionID })
}

func (s *MemoryStore) SetAnalysisProgress(_ context.Context, galleryID uuid.UUID, progress int) error {
	return s.updateGallery(galleryID, func(g *models.Gallery) { g.AnalysisProgress = progress })
}

func (s *MemoryStore) SetAISearchEnabled(_ context.Context, galleryID uuid.UUID, enabled bool) error {
	return s.updateGallery(galleryID, func(g *models.Gallery) { g.AISearchEnabled = enabled })
}

func (s *MemoryStore) MarkAnalysisTriggered(_ context.Context, galleryID uuid.UUID, at time.Time) error {
	return s.updateGallery(galleryID, func(g *models.Gallery) { g.LastAnalysisTriggeredAt = &at })
}

func (s *MemoryStore) ResetGalleryAnalysis(_ context.Context, galleryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for id, a := range s.analyses {
		if a.GalleryID == galleryID {
			delete(s.analyses, id)
			delete(s.embeddings, id)
		}
	}
	s.clusterOrder = slices.DeleteFunc(s.clusterOrder, func(id uuid.UUID) bool {
		if s.clusters[id].GalleryID == galleryID {
			delete(s.clusters, id)
			return true
		}
		return false
	})
	if g, ok := s.galleries[galleryID]; ok {
		g.AnalysisProgress = 0
		g.AISearchEnabled = false
		g.FaceCollectionID = ""
	}
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, photoID uuid.UUID) (*models.PhotoAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	a, ok := s.analyses[photoID]
	if !ok {
		return nil, nil
	}
	return cloneAnalysis(a), nil
}

// sortedAnalyses returns the gallery's rows ordered like the SQL queries.
func (s *MemoryStore) sortedAnalyses(galleryID uuid.UUID) []*models.PhotoAnalysis {
	var out []*models.PhotoAnalysis
	for _, a := range s.analyses {
		if a.GalleryID == galleryID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *models.PhotoAnalysis) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PhotoID.String(), b.PhotoID.String())
	})
	return out
}

func (s *MemoryStore) ListAnalysesByStatus(_ context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.PhotoAnalysis
	for _, a := range s.sortedAnalyses(galleryID) {
		if a.Status == status {
			out = append(out, *cloneAnalysis(a))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPendingPhotoIDs(_ context.Context, galleryID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []uuid.UUID
	for _, a := range s.sortedAnalyses(galleryID) {
		if a.Status == models.AnalysisPending {
			ids = append(ids, a.PhotoID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) SeedPending(_ context.Context, galleryID uuid.UUID, photoIDs []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, id := range photoIDs {
		if _, ok := s.analyses[id]; ok {
			continue
		}
		now := s.now()
		s.analyses[id] = &models.PhotoAnalysis{
			PhotoID:    id,
			GalleryID:  galleryID,
			Status:     models.AnalysisPending,
			SearchTags: []string{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, photoID uuid.UUID, from, to models.AnalysisStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	a, ok := s.analyses[photoID]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CompleteAnalysis(_ context.Context, photoID uuid.UUID, result models.AnalysisResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	a, ok := s.analyses[photoID]
	if !ok || a.Status != models.AnalysisProcessing {
		return false, nil
	}
	var affected []uuid.UUID
	for _, f := range a.Faces {
		if f.PersonClusterID != nil {
			affected = append(affected, *f.PersonClusterID)
		}
	}

	at := result.AnalyzedAt
	a.Status = models.AnalysisCompleted
	a.Description = result.Description
	a.SearchTags = slices.Clone(result.SearchTags)
	a.AnalysisData = slices.Clone(result.AnalysisData)
	a.Faces = slices.Clone(result.Faces)
	a.FaceCount = len(result.Faces)
	a.ErrorMessage = ""
	a.AnalyzedAt = &at
	a.UpdatedAt = s.now()

	for _, id := range affected {
		s.recompute(id)
	}
	return true, nil
}

func (s *MemoryStore) FailAnalysis(_ context.Context, photoID uuid.UUID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	a, ok := s.analyses[photoID]
	if !ok || a.Status != models.AnalysisProcessing {
		return false, nil
	}
	a.Status = models.AnalysisFailed
	a.ErrorMessage = message
	a.RetryCount++
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) TouchAnalysis(_ context.Context, photoID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	a, ok := s.analyses[photoID]
	if !ok || a.Status != models.AnalysisProcessing {
		return false, nil
	}
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ResetStalled(_ context.Context, galleryID uuid.UUID, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, a := range s.analyses {
		if a.GalleryID == galleryID && a.Status == models.AnalysisProcessing && a.UpdatedAt.Before(before) {
			a.Status = models.AnalysisPending
			a.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ResetFailed(_ context.Context, galleryID uuid.UUID, prefixes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, a := range s.analyses {
		if a.GalleryID != galleryID || a.Status != models.AnalysisFailed {
			continue
		}
		if !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(a.ErrorMessage, p) }) {
			continue
		}
		a.Status = models.AnalysisPending
		a.ErrorMessage = ""
		a.RetryCount = 0
		a.UpdatedAt = s.now()
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, galleryID uuid.UUID) (map[models.AnalysisStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	counts := make(map[models.AnalysisStatus]int)
	for _, a := range s.analyses {
		if a.GalleryID == galleryID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) LastUpdated(_ context.Context, galleryID uuid.UUID, status models.AnalysisStatus) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var last *time.Time
	for _, a := range s.analyses {
		if a.GalleryID != galleryID || (status != "" && a.Status != status) {
			continue
		}
		if last == nil || a.UpdatedAt.After(*last) {
			t := a.UpdatedAt
			last = &t
		}
	}
	return last, nil
}

func (s *MemoryStore) ListStalledGalleries(_ context.Context, before time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []uuid.UUID
	for _, a := range s.analyses {
		if a.Status == models.AnalysisProcessing && a.UpdatedAt.Before(before) && !slices.Contains(ids, a.GalleryID) {
			ids = append(ids, a.GalleryID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) GetCluster(_ context.Context, id uuid.UUID) (*models.PersonCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.clusters[id]
	if !ok {
		return nil, nil
	}
	return cloneCluster(c), nil
}

func (s *MemoryStore) GetClusters(_ context.Context, ids []uuid.UUID) ([]models.PersonCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.PersonCluster
	for _, id := range s.clusterOrder {
		if slices.Contains(ids, id) {
			out = append(out, *cloneCluster(s.clusters[id]))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListClusters(_ context.Context, galleryID uuid.UUID) ([]models.PersonCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.PersonCluster
	for _, id := range s.clusterOrder {
		if c := s.clusters[id]; c.GalleryID == galleryID {
			out = append(out, *cloneCluster(c))
		}
	}
	return out, nil
}

func (s *MemoryStore) FacesByExternalIDs(_ context.Context, galleryID uuid.UUID, externalIDs []string) ([]models.FaceRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var refs []models.FaceRef
	for _, a := range s.sortedAnalyses(galleryID) {
		for _, f := range a.Faces {
			if f.ExternalFaceID == "" || !slices.Contains(externalIDs, f.ExternalFaceID) {
				continue
			}
			refs = append(refs, models.FaceRef{
				FaceKey:         models.FaceKey{PhotoID: a.PhotoID, FaceID: f.FaceID},
				GalleryID:       a.GalleryID,
				ExternalFaceID:  f.ExternalFaceID,
				Role:            f.Role,
				Appearance:      f.Appearance,
				PersonClusterID: f.PersonClusterID,
			})
		}
	}
	return refs, nil
}

func (s *MemoryStore) CreateCluster(_ context.Context, c *models.PersonCluster, faces []models.FaceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, key := range faces {
		f := s.face(key)
		if f == nil || f.PersonClusterID != nil {
			return models.ErrFacesClustered
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	// Strictly increasing creation times keep tie-breaks deterministic.
	c.CreatedAt = s.now().Add(time.Duration(len(s.clusterOrder)) * time.Nanosecond)
	c.UpdatedAt = c.CreatedAt
	s.clusters[c.ID] = cloneCluster(c)
	s.clusterOrder = append(s.clusterOrder, c.ID)
	s.assign(c.ID, faces)
	s.recompute(c.ID)
	c.PhotoIDs = slices.Clone(s.clusters[c.ID].PhotoIDs)
	return nil
}

func (s *MemoryStore) AssignFaces(_ context.Context, clusterID uuid.UUID, faces []models.FaceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.clusters[clusterID]; !ok {
		return errNoCluster
	}
	s.assign(clusterID, faces)
	s.recompute(clusterID)
	return nil
}

func (s *MemoryStore) RenameCluster(_ context.Context, id uuid.UUID, name string) (*models.PersonCluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.clusters[id]
	if !ok {
		return nil, nil
	}
	c.Name = name
	c.UpdatedAt = s.now()
	return cloneCluster(c), nil
}

func (s *MemoryStore) SetDescriptionEmbedding(_ context.Context, photoID uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.embeddings[photoID] = slices.Clone(embedding)
	return nil
}

// SearchDescriptions scores by dot product, which equals cosine similarity
// for the unit vectors tests use.
func (s *MemoryStore) SearchDescriptions(_ context.Context, galleryID uuid.UUID, embedding []float32, minScore float64, limit int) ([]search.ScoredPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []search.ScoredPhoto
	for _, a := range s.sortedAnalyses(galleryID) {
		vec, ok := s.embeddings[a.PhotoID]
		if !ok || a.Status != models.AnalysisCompleted {
			continue
		}
		var score float64
		for i := range min(len(vec), len(embedding)) {
			score += float64(vec[i] * embedding[i])
		}
		if score >= minScore {
			out = append(out, search.ScoredPhoto{PhotoID: a.PhotoID, Score: score})
		}
	}
	slices.SortStableFunc(out, func(a, b search.ScoredPhoto) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// face returns the stored face for key, or nil.
func (s *MemoryStore) face(key models.FaceKey) *models.PersonFace {
	a, ok := s.analyses[key.PhotoID]
	if !ok {
		return nil
	}
	for i := range a.Faces {
		if a.Faces[i].FaceID == key.FaceID {
			return &a.Faces[i]
		}
	}
	return nil
}

func (s *MemoryStore) assign(clusterID uuid.UUID, faces []models.FaceKey) {
	for _, key := range faces {
		a, ok := s.analyses[key.PhotoID]
		if !ok {
			continue
		}
		for i := range a.Faces {
			if a.Faces[i].FaceID == key.FaceID && a.Faces[i].PersonClusterID == nil {
				id := clusterID
				a.Faces[i].PersonClusterID = &id
			}
		}
	}
}

func (s *MemoryStore) recompute(clusterID uuid.UUID) {
	c, ok := s.clusters[clusterID]
	if !ok {
		return
	}
	photoIDs := []uuid.UUID{}
	for _, a := range s.sortedAnalyses(c.GalleryID) {
		for _, f := range a.Faces {
			if f.PersonClusterID != nil && *f.PersonClusterID == clusterID {
				photoIDs = append(photoIDs, a.PhotoID)
				break
			}
		}
	}
	c.PhotoIDs = photoIDs
	c.UpdatedAt = s.now()
}

func cloneAnalysis(a *models.PhotoAnalysis) *models.PhotoAnalysis {
	c := *a
	c.SearchTags = slices.Clone(a.SearchTags)
	c.AnalysisData = json.RawMessage(slices.Clone([]byte(a.AnalysisData)))
	c.Faces = slices.Clone(a.Faces)
	return &c
}

func cloneCluster(c *models.PersonCluster) *models.PersonCluster {
	out := *c
	out.PhotoIDs = slices.Clone(c.PhotoIDs)
	return &out
}
