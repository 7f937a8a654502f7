package faceindex

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/vision"
)

// Model is the face model stack behind a VectorIndex.
type Model interface {
	Detect(img image.Image) ([]vision.Detection, error)
	Embed(face image.Image) ([]float32, error)
	EstimateAge(face image.Image) (*vision.AgeEstimate, error)
}

// FaceVector is one indexed face embedding.
type FaceVector struct {
	ID           uuid.UUID
	CollectionID string
	ExternalRef  string
	Embedding    []float32
	Confidence   float64
}

// VectorStore persists face collections and answers cosine similarity queries.
// Scores are 0-1.
type VectorStore interface {
	CreateFaceCollection(ctx context.Context, collectionID string) error
	DeleteFaceCollection(ctx context.Context, collectionID string) error
	InsertFaceVector(ctx context.Context, v FaceVector) error
	SearchFaceVectors(ctx context.Context, collectionID string, faceID uuid.UUID, minScore float64, limit int) ([]FaceMatch, error)
	DeleteFaceVectors(ctx context.Context, collectionID string, ids []uuid.UUID) error
}

var ErrNoModel = errors.New("face model not loaded")

var landmarkNames = [5]string{"eyeLeft", "eyeRight", "nose", "mouthLeft", "mouthRight"}

// embedPadding matches the margin the ArcFace crops were trained with.
const embedPadding = 0.1

// VectorIndex implements FaceIndex with local ONNX models and a pgvector
// backed store. The model may be nil for processes that only search.
type VectorIndex struct {
	model              Model
	store              VectorStore
	minIndexConfidence float64
}

func NewVectorIndex(model Model, store VectorStore, minIndexConfidence float64) *VectorIndex {
	return &VectorIndex{model: model, store: store, minIndexConfidence: minIndexConfidence}
}

func (x *VectorIndex) DetectFaces(ctx context.Context, data []byte, minConfidence float64) ([]DetectedFace, error) {
	if x.model == nil {
		return nil, ErrNoModel
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detections, err := x.model.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	bounds := img.Bounds()
	faces := make([]DetectedFace, 0, len(detections))
	for _, d := range detections {
		confidence := float64(d.Confidence) * 100
		if confidence < minConfidence {
			continue
		}

		face := DetectedFace{
			BoundingBox: normalizeBox(bounds, d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]),
			Confidence:  confidence,
			Emotions:    []Emotion{},
			Landmarks:   make([]Landmark, 0, len(d.Landmarks)),
		}
		for i, lm := range d.Landmarks {
			face.Landmarks = append(face.Landmarks, Landmark{
				Type: landmarkNames[i],
				X:    clamp01((float64(lm[0]) - float64(bounds.Min.X)) / float64(bounds.Dx())),
				Y:    clamp01((float64(lm[1]) - float64(bounds.Min.Y)) / float64(bounds.Dy())),
			})
		}

		if crop := x.tightCrop(img, d); crop != nil {
			if age, err := x.model.EstimateAge(crop); err != nil {
				slog.Warn("estimate age", "error", err)
			} else {
				face.AgeRange = &AgeRange{Low: age.Low, High: age.High}
			}
		}

		faces = append(faces, face)
	}
	return faces, nil
}

func (x *VectorIndex) CreateCollection(ctx context.Context, collectionID string) error {
	return x.store.CreateFaceCollection(ctx, collectionID)
}

func (x *VectorIndex) DeleteCollection(ctx context.Context, collectionID string) error {
	return x.store.DeleteFaceCollection(ctx, collectionID)
}

func (x *VectorIndex) IndexFace(ctx context.Context, collectionID string, crop []byte, externalRef string) (*IndexedFace, error) {
	if x.model == nil {
		return nil, ErrNoModel
	}
	img, err := DecodeImage(crop)
	if err != nil {
		return nil, err
	}

	detections, err := x.model.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	if len(detections) == 0 {
		return nil, nil
	}

	// detections are sorted best first
	best := detections[0]
	confidence := float64(best.Confidence) * 100
	if confidence < x.minIndexConfidence {
		return nil, nil
	}

	face := x.tightCrop(img, best)
	if face == nil {
		return nil, nil
	}
	embedding, err := x.model.Embed(face)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}

	v := FaceVector{
		ID:           uuid.New(),
		CollectionID: collectionID,
		ExternalRef:  externalRef,
		Embedding:    embedding,
		Confidence:   confidence,
	}
	if err := x.store.InsertFaceVector(ctx, v); err != nil {
		return nil, fmt.Errorf("index face: %w", err)
	}

	return &IndexedFace{
		FaceID:      v.ID.String(),
		ExternalRef: externalRef,
		Confidence:  confidence,
		BoundingBox: normalizeBox(img.Bounds(), best.BBox[0], best.BBox[1], best.BBox[2], best.BBox[3]),
	}, nil
}

func (x *VectorIndex) SearchFacesByID(ctx context.Context, collectionID, faceID string, threshold float64, maxResults int) ([]FaceMatch, error) {
	id, err := uuid.Parse(faceID)
	if err != nil {
		return nil, fmt.Errorf("parse face id %q: %w", faceID, err)
	}

	matches, err := x.store.SearchFaceVectors(ctx, collectionID, id, threshold/100, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	for i := range matches {
		matches[i].Similarity *= 100
	}
	return matches, nil
}

func (x *VectorIndex) DeleteFaces(ctx context.Context, collectionID string, faceIDs []string) error {
	if len(faceIDs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(faceIDs))
	for _, s := range faceIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("parse face id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return x.store.DeleteFaceVectors(ctx, collectionID, ids)
}

func (x *VectorIndex) tightCrop(img image.Image, d vision.Detection) image.Image {
	padW := d.Width() * embedPadding
	padH := d.Height() * embedPadding
	r := image.Rect(
		int(d.BBox[0]-padW), int(d.BBox[1]-padH),
		int(d.BBox[2]+padW), int(d.BBox[3]+padH),
	).Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	return imaging.Crop(img, r)
}
