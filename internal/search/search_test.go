package search

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/galleryai/internal/models"
)

type fakeStore struct {
	analyses []models.PhotoAnalysis
	err      error
}

func (f *fakeStore) ListAnalysesByStatus(_ context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PhotoAnalysis
	for _, a := range f.analyses {
		if a.GalleryID == galleryID && a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeSemantic struct {
	calls   []string
	results []ScoredPhoto
	err     error
}

func (f *fakeSemantic) SemanticSearch(_ context.Context, _ uuid.UUID, query string) ([]ScoredPhoto, error) {
	f.calls = append(f.calls, query)
	return f.results, f.err
}

func beachForestGallery() (uuid.UUID, uuid.UUID, uuid.UUID, *fakeStore) {
	g := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	return g, p1, p2, &fakeStore{analyses: []models.PhotoAnalysis{
		{PhotoID: p1, GalleryID: g, Status: models.AnalysisCompleted, SearchTags: []string{"beach", "sunset"}},
		{PhotoID: p2, GalleryID: g, Status: models.AnalysisCompleted, SearchTags: []string{"forest"}},
	}}
}

func TestSearchInstantMatch(t *testing.T) {
	g, p1, _, store := beachForestGallery()
	semantic := &fakeSemantic{}
	s := NewSearcher(store, semantic)

	res, err := s.Search(context.Background(), g, "beach")
	require.NoError(t, err)
	assert.Equal(t, ModeInstant, res.Mode)
	assert.Equal(t, []uuid.UUID{p1}, res.PhotoIDs)
	assert.Empty(t, semantic.calls)
}

func TestSearchFallsBackToSemantic(t *testing.T) {
	g, _, p2, store := beachForestGallery()
	semantic := &fakeSemantic{results: []ScoredPhoto{{PhotoID: p2, Score: 0.61}}}
	s := NewSearcher(store, semantic)

	res, err := s.Search(context.Background(), g, "bride hugging kids")
	require.NoError(t, err)
	assert.Equal(t, ModeAI, res.Mode)
	assert.Equal(t, []uuid.UUID{p2}, res.PhotoIDs)
	assert.Equal(t, []string{"bride hugging kids"}, semantic.calls)
}

func TestSearchShortQueryWithoutTagMatch(t *testing.T) {
	g, _, _, store := beachForestGallery()
	semantic := &fakeSemantic{}
	s := NewSearcher(store, semantic)

	res, err := s.Search(context.Background(), g, "wedding cake")
	require.NoError(t, err)
	assert.Equal(t, ModeAI, res.Mode)
	assert.Empty(t, res.PhotoIDs)
	assert.Len(t, semantic.calls, 1)
}

func TestSearchSubstringAndCase(t *testing.T) {
	g, p1, p2, store := beachForestGallery()
	s := NewSearcher(store, &fakeSemantic{})

	res, err := s.Search(context.Background(), g, "  SUN  for ")
	require.NoError(t, err)
	assert.Equal(t, ModeInstant, res.Mode)
	assert.Equal(t, []uuid.UUID{p1, p2}, res.PhotoIDs)
}

func TestSearchIgnoresIncompleteAnalyses(t *testing.T) {
	g := uuid.New()
	store := &fakeStore{analyses: []models.PhotoAnalysis{
		{PhotoID: uuid.New(), GalleryID: g, Status: models.AnalysisFailed, SearchTags: []string{"beach"}},
	}}
	semantic := &fakeSemantic{}
	s := NewSearcher(store, semantic)

	res, err := s.Search(context.Background(), g, "beach")
	require.NoError(t, err)
	assert.Equal(t, ModeAI, res.Mode)
	assert.Len(t, semantic.calls, 1)
}

func TestSearchEmptyQuery(t *testing.T) {
	s := NewSearcher(&fakeStore{}, &fakeSemantic{})
	_, err := s.Search(context.Background(), uuid.New(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchSemanticError(t *testing.T) {
	g, _, _, store := beachForestGallery()
	boom := errors.New("connection refused")
	s := NewSearcher(store, &fakeSemantic{err: boom})

	_, err := s.Search(context.Background(), g, "kids running on grass")
	assert.ErrorIs(t, err, boom)
}

func TestSearchStoreError(t *testing.T) {
	boom := errors.New("db down")
	s := NewSearcher(&fakeStore{err: boom}, &fakeSemantic{})
	_, err := s.Search(context.Background(), uuid.New(), "beach")
	assert.ErrorIs(t, err, boom)
}

type fakeEmbedder struct {
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return []float32{1, 0, 0}, nil
}

type fakeDescriptions struct {
	stored   map[uuid.UUID][]float32
	minScore float64
	limit    int
	results  []ScoredPhoto
}

func (f *fakeDescriptions) SetDescriptionEmbedding(_ context.Context, photoID uuid.UUID, embedding []float32) error {
	if f.stored == nil {
		f.stored = make(map[uuid.UUID][]float32)
	}
	f.stored[photoID] = embedding
	return nil
}

func (f *fakeDescriptions) SearchDescriptions(_ context.Context, _ uuid.UUID, _ []float32, minScore float64, limit int) ([]ScoredPhoto, error) {
	f.minScore, f.limit = minScore, limit
	return f.results, nil
}

func TestVectorSearcher(t *testing.T) {
	p := uuid.New()
	emb := &fakeEmbedder{}
	store := &fakeDescriptions{results: []ScoredPhoto{{PhotoID: p, Score: 0.8}}}
	v := NewVectorSearcher(emb, store, 0.25, 50)

	got, err := v.SemanticSearch(context.Background(), uuid.New(), "first dance")
	require.NoError(t, err)
	assert.Equal(t, store.results, got)
	assert.Equal(t, []string{"first dance"}, emb.texts)
	assert.Equal(t, 0.25, store.minScore)
	assert.Equal(t, 50, store.limit)
}

func TestDescriptionIndexer(t *testing.T) {
	p := uuid.New()
	emb := &fakeEmbedder{}
	store := &fakeDescriptions{}
	idx := NewDescriptionIndexer(emb, store)

	require.NoError(t, idx.IndexDescription(context.Background(), p, "A couple on the beach", []string{"beach", "couple"}))
	assert.Equal(t, []string{"A couple on the beach\nTags: beach, couple"}, emb.texts)
	assert.Contains(t, store.stored, p)

	require.NoError(t, idx.IndexDescription(context.Background(), uuid.New(), " ", nil))
	assert.Len(t, emb.texts, 1)
}

func TestDescriptionText(t *testing.T) {
	assert.Equal(t, "Tags: a, b", DescriptionText("", []string{"a", "b"}))
	assert.Equal(t, "desc", DescriptionText(" desc ", nil))
}
