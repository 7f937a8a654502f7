// Package faceindex detects faces and keeps per-gallery collections of face
// vectors that can be searched by similarity.
package faceindex

import (
	"context"
	"fmt"

	"github.com/your-org/galleryai/internal/models"
)

type AgeRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (a AgeRange) String() string {
	return fmt.Sprintf("%d-%d", a.Low, a.High)
}

type Emotion struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Landmark is a facial keypoint normalized to the image dimensions.
type Landmark struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type DetectedFace struct {
	BoundingBox models.BoundingBox `json:"bounding_box"`
	Confidence  float64            `json:"confidence"` // 0-100
	AgeRange    *AgeRange          `json:"age_range,omitempty"`
	Emotions    []Emotion          `json:"emotions,omitempty"`
	Landmarks   []Landmark         `json:"landmarks,omitempty"`
}

type IndexedFace struct {
	FaceID      string             `json:"face_id"`
	ExternalRef string             `json:"external_ref"`
	Confidence  float64            `json:"confidence"`
	BoundingBox models.BoundingBox `json:"bounding_box"`
}

type FaceMatch struct {
	FaceID      string  `json:"face_id"`
	ExternalRef string  `json:"external_ref"`
	Similarity  float64 `json:"similarity"` // 0-100
}

// FaceIndex is the face detection and similarity index used by analysis,
// clustering and person lookup.
type FaceIndex interface {
	// DetectFaces returns faces at or above minConfidence (0-100). No side effects.
	DetectFaces(ctx context.Context, image []byte, minConfidence float64) ([]DetectedFace, error)
	// CreateCollection is a no-op if the collection exists.
	CreateCollection(ctx context.Context, collectionID string) error
	// DeleteCollection is a no-op if the collection does not exist.
	DeleteCollection(ctx context.Context, collectionID string) error
	// IndexFace indexes at most one face from a cropped image. It returns nil
	// without error when the crop contains no indexable face.
	IndexFace(ctx context.Context, collectionID string, crop []byte, externalRef string) (*IndexedFace, error)
	// SearchFacesByID returns faces in the collection with similarity at or
	// above threshold, excluding faceID itself, best first.
	SearchFacesByID(ctx context.Context, collectionID, faceID string, threshold float64, maxResults int) ([]FaceMatch, error)
	// DeleteFaces is a no-op on empty input.
	DeleteFaces(ctx context.Context, collectionID string, faceIDs []string) error
}
