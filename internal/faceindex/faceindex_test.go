package faceindex

import (
	"context"
	"image"
	"image/color"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/vision"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	data, err := EncodeJPEG(img)
	require.NoError(t, err)
	return data
}

func TestPaddedRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 500)

	tests := []struct {
		name string
		box  models.BoundingBox
		want image.Rectangle
	}{
		{
			name: "centered",
			box:  models.BoundingBox{X: 0.4, Y: 0.4, Width: 0.1, Height: 0.2},
			want: image.Rect(360, 160, 540, 340),
		},
		{
			name: "clamped top left",
			box:  models.BoundingBox{X: 0, Y: 0, Width: 0.2, Height: 0.2},
			want: image.Rect(0, 0, 280, 140),
		},
		{
			name: "clamped bottom right",
			box:  models.BoundingBox{X: 0.9, Y: 0.9, Width: 0.1, Height: 0.1},
			want: image.Rect(860, 430, 1000, 500),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PaddedRect(bounds, tt.box, CropPadding))
		})
	}
}

func TestPaddedRectOffsetBounds(t *testing.T) {
	bounds := image.Rect(100, 100, 200, 200)
	got := PaddedRect(bounds, models.BoundingBox{X: 0.5, Y: 0.5, Width: 0.5, Height: 0.5}, CropPadding)
	assert.Equal(t, image.Rect(130, 130, 200, 200), got)
}

func TestCropFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))

	crop := CropFace(img, models.BoundingBox{X: 0.25, Y: 0.25, Width: 0.25, Height: 0.5})
	require.NotNil(t, crop)
	// 50x50 box plus 20px on every side
	assert.Equal(t, 90, crop.Bounds().Dx())
	assert.Equal(t, 90, crop.Bounds().Dy())

	assert.Nil(t, CropFace(img, models.BoundingBox{X: 1, Y: 1}))
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(testJPEG(t, 64, 32))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	_, err = DecodeImage(nil)
	assert.Equal(t, failure.CodeImageError, failure.Classify(err))

	_, err = DecodeImage([]byte("definitely not an image"))
	assert.Equal(t, failure.CodeImageError, failure.Classify(err))
}

type fakeModel struct {
	detections []vision.Detection
	embedding  []float32
}

func (m *fakeModel) Detect(image.Image) ([]vision.Detection, error) {
	return append([]vision.Detection(nil), m.detections...), nil
}

func (m *fakeModel) Embed(image.Image) ([]float32, error) {
	return m.embedding, nil
}

func (m *fakeModel) EstimateAge(image.Image) (*vision.AgeEstimate, error) {
	return &vision.AgeEstimate{Age: 33, Low: 30, High: 40}, nil
}

type memVectors struct {
	collections map[string]bool
	vectors     map[uuid.UUID]FaceVector
}

func newMemVectors() *memVectors {
	return &memVectors{collections: map[string]bool{}, vectors: map[uuid.UUID]FaceVector{}}
}

func (m *memVectors) CreateFaceCollection(_ context.Context, id string) error {
	m.collections[id] = true
	return nil
}

func (m *memVectors) DeleteFaceCollection(_ context.Context, id string) error {
	delete(m.collections, id)
	for k, v := range m.vectors {
		if v.CollectionID == id {
			delete(m.vectors, k)
		}
	}
	return nil
}

func (m *memVectors) InsertFaceVector(_ context.Context, v FaceVector) error {
	m.vectors[v.ID] = v
	return nil
}

func (m *memVectors) SearchFaceVectors(_ context.Context, collectionID string, faceID uuid.UUID, minScore float64, limit int) ([]FaceMatch, error) {
	q, ok := m.vectors[faceID]
	if !ok {
		return nil, nil
	}
	var out []FaceMatch
	for id, v := range m.vectors {
		if id == faceID || v.CollectionID != collectionID {
			continue
		}
		score := float64(vision.CosineSimilarity(q.Embedding, v.Embedding))
		if score >= minScore {
			out = append(out, FaceMatch{FaceID: id.String(), ExternalRef: v.ExternalRef, Similarity: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memVectors) DeleteFaceVectors(_ context.Context, _ string, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(m.vectors, id)
	}
	return nil
}

func TestVectorIndexDetectFaces(t *testing.T) {
	model := &fakeModel{detections: []vision.Detection{
		{BBox: [4]float32{20, 10, 60, 30}, Confidence: 0.95},
		{BBox: [4]float32{70, 5, 80, 15}, Confidence: 0.6},
	}}
	idx := NewVectorIndex(model, newMemVectors(), 70)

	faces, err := idx.DetectFaces(context.Background(), testJPEG(t, 100, 50), 70)
	require.NoError(t, err)
	require.Len(t, faces, 1, "detection below min confidence is dropped")

	f := faces[0]
	assert.InDelta(t, 95, f.Confidence, 1e-4)
	assert.InDelta(t, 0.2, f.BoundingBox.X, 1e-6)
	assert.InDelta(t, 0.2, f.BoundingBox.Y, 1e-6)
	assert.InDelta(t, 0.4, f.BoundingBox.Width, 1e-6)
	assert.InDelta(t, 0.4, f.BoundingBox.Height, 1e-6)
	require.NotNil(t, f.AgeRange)
	assert.Equal(t, "30-40", f.AgeRange.String())
	assert.Len(t, f.Landmarks, 5)
}

func TestVectorIndexIndexFaceNoFace(t *testing.T) {
	store := newMemVectors()
	idx := NewVectorIndex(&fakeModel{}, store, 70)

	face, err := idx.IndexFace(context.Background(), "gallery-1", testJPEG(t, 40, 40), "photo:f1")
	require.NoError(t, err)
	assert.Nil(t, face)
	assert.Empty(t, store.vectors)
}

func TestVectorIndexIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newMemVectors()
	model := &fakeModel{detections: []vision.Detection{{BBox: [4]float32{5, 5, 35, 35}, Confidence: 0.99}}}
	idx := NewVectorIndex(model, store, 70)
	require.NoError(t, idx.CreateCollection(ctx, "g"))

	model.embedding = []float32{1, 0, 0}
	a, err := idx.IndexFace(ctx, "g", testJPEG(t, 40, 40), "p1:f1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "p1:f1", a.ExternalRef)

	model.embedding = []float32{0.95, 0.05, 0}
	b, err := idx.IndexFace(ctx, "g", testJPEG(t, 40, 40), "p2:f1")
	require.NoError(t, err)

	model.embedding = []float32{0, 1, 0}
	_, err = idx.IndexFace(ctx, "g", testJPEG(t, 40, 40), "p3:f1")
	require.NoError(t, err)

	matches, err := idx.SearchFacesByID(ctx, "g", a.FaceID, 80, 100)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, b.FaceID, matches[0].FaceID)
	assert.Greater(t, matches[0].Similarity, 99.0)

	require.NoError(t, idx.DeleteFaces(ctx, "g", nil))
	require.NoError(t, idx.DeleteFaces(ctx, "g", []string{b.FaceID}))
	matches, err = idx.SearchFacesByID(ctx, "g", a.FaceID, 80, 100)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, idx.DeleteCollection(ctx, "g"))
	require.NoError(t, idx.DeleteCollection(ctx, "g"))
	assert.Empty(t, store.vectors)
}

func TestVectorIndexWithoutModel(t *testing.T) {
	idx := NewVectorIndex(nil, newMemVectors(), 70)
	_, err := idx.DetectFaces(context.Background(), []byte{1}, 70)
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = idx.SearchFacesByID(context.Background(), "g", "not-a-uuid", 80, 10)
	assert.Error(t, err)
}
