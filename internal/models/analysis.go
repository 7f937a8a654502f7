package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "PENDING"
	AnalysisProcessing AnalysisStatus = "PROCESSING"
	AnalysisCompleted  AnalysisStatus = "COMPLETED"
	AnalysisFailed     AnalysisStatus = "FAILED"
)

type AnalysisMode string

const (
	ModeInitial     AnalysisMode = "initial"
	ModeReanalyze   AnalysisMode = "reanalyze"
	ModeRetryFailed AnalysisMode = "retryFailed"
)

func (m AnalysisMode) Valid() bool {
	switch m {
	case ModeInitial, ModeReanalyze, ModeRetryFailed:
		return true
	}
	return false
}

// BoundingBox is normalized to [0,1] relative to the image dimensions.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// IoU returns the intersection over union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.Width, o.X+o.Width)
	y2 := min(b.Y+b.Height, o.Y+o.Height)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

type PersonFace struct {
	FaceID          string      `json:"face_id"`
	ExternalFaceID  string      `json:"external_face_id,omitempty"`
	BoundingBox     BoundingBox `json:"bounding_box"`
	Appearance      string      `json:"appearance"`
	Role            string      `json:"role,omitempty"`
	Expression      string      `json:"expression,omitempty"`
	AgeRange        string      `json:"age_range,omitempty"`
	PersonClusterID *uuid.UUID  `json:"person_cluster_id,omitempty"`
}

type PhotoAnalysis struct {
	PhotoID      uuid.UUID       `json:"photo_id" db:"photo_id"`
	GalleryID    uuid.UUID       `json:"gallery_id" db:"gallery_id"`
	Status       AnalysisStatus  `json:"status" db:"status"`
	Description  string          `json:"description,omitempty" db:"description"`
	SearchTags   []string        `json:"search_tags" db:"search_tags"`
	AnalysisData json.RawMessage `json:"analysis_data,omitempty" db:"analysis_data"`
	Faces        []PersonFace    `json:"faces"`
	FaceCount    int             `json:"face_count" db:"face_count"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	RetryCount   int             `json:"retry_count" db:"retry_count"`
	AnalyzedAt   *time.Time      `json:"analyzed_at,omitempty" db:"analyzed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Face returns the face with the given id, or nil.
func (a *PhotoAnalysis) Face(faceID string) *PersonFace {
	for i := range a.Faces {
		if a.Faces[i].FaceID == faceID {
			return &a.Faces[i]
		}
	}
	return nil
}

// AnalysisResult is what a successful analysis writes onto its record.
type AnalysisResult struct {
	Description  string
	SearchTags   []string
	AnalysisData json.RawMessage
	Faces        []PersonFace
	AnalyzedAt   time.Time
}

// FaceKey addresses one face inside one photo analysis.
type FaceKey struct {
	PhotoID uuid.UUID `json:"photo_id"`
	FaceID  string    `json:"face_id"`
}

// FaceRef is a face as seen through the external face id reverse index.
type FaceRef struct {
	FaceKey
	GalleryID       uuid.UUID
	ExternalFaceID  string
	Role            string
	Appearance      string
	PersonClusterID *uuid.UUID
}

// NormalizeTags lower-cases, trims and de-duplicates tags keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
