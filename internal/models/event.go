package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisTask is the message published to NATS for worker processing.
type AnalysisTask struct {
	GalleryID  uuid.UUID `json:"gallery_id"`
	PhotoID    uuid.UUID `json:"photo_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ProgressEvent is published whenever a photo analysis reaches a terminal
// status and the gallery progress has been recomputed.
type ProgressEvent struct {
	GalleryID uuid.UUID      `json:"gallery_id"`
	PhotoID   uuid.UUID      `json:"photo_id"`
	Status    AnalysisStatus `json:"status"`
	Progress  int            `json:"progress"`
	Timestamp time.Time      `json:"timestamp"`
}
