package models

import (
	"time"

	"github.com/google/uuid"
)

// Gallery carries the analysis state columns this service owns.
type Gallery struct {
	ID                      uuid.UUID  `json:"id" db:"id"`
	Name                    string     `json:"name" db:"name"`
	AnalysisProgress        int        `json:"analysis_progress" db:"analysis_progress"`
	AISearchEnabled         bool       `json:"ai_search_enabled" db:"ai_search_enabled"`
	FaceCollectionID        string     `json:"face_collection_id,omitempty" db:"face_collection_id"`
	LastAnalysisTriggeredAt *time.Time `json:"last_analysis_triggered_at,omitempty" db:"last_analysis_triggered_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

type Photo struct {
	ID         uuid.UUID `json:"id" db:"id"`
	GalleryID  uuid.UUID `json:"gallery_id" db:"gallery_id"`
	StorageKey string    `json:"storage_key" db:"storage_key"`
	Filename   string    `json:"filename" db:"filename"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
