package dto

import "github.com/google/uuid"

type StartAnalysisRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type StartAnalysisResponse struct {
	GalleryID uuid.UUID `json:"gallery_id"`
	Mode      string    `json:"mode"`
	Seeded    int       `json:"seeded"`
	Retried   int64     `json:"retried"`
	Recovered int64     `json:"recovered"`
	Queued    int       `json:"queued"`
}

type AnalysisStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type AnalysisStatusResponse struct {
	GalleryID       uuid.UUID     `json:"gallery_id"`
	Progress        int           `json:"progress"`
	Total           int           `json:"total"`
	Stats           AnalysisStats `json:"stats"`
	IsStalled       bool          `json:"is_stalled"`
	LastActivity    string        `json:"last_activity,omitempty"`
	AISearchEnabled bool          `json:"ai_search_enabled"`
}

type FailedAnalysisResponse struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Retryable    bool      `json:"retryable"`
}

type FailedAnalysisListResponse struct {
	Failed []FailedAnalysisResponse `json:"failed"`
	Total  int                      `json:"total"`
}

type ToggleAISearchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// WSEvent is a WebSocket message for real-time progress delivery.
type WSEvent struct {
	Type      string    `json:"type"` // analysis_progress
	GalleryID uuid.UUID `json:"gallery_id"`
	PhotoID   uuid.UUID `json:"photo_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Timestamp string    `json:"timestamp"`
}
