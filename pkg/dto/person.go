package dto

import "github.com/google/uuid"

// PersonResponse is the answer to "where else does this person appear".
type PersonResponse struct {
	Method      string      `json:"method"` // cluster, rekognition, role_fallback
	PhotoIDs    []uuid.UUID `json:"photo_ids"`
	Total       int         `json:"total"`
	ClusterID   *uuid.UUID  `json:"cluster_id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Role        string      `json:"role,omitempty"`
	Description string      `json:"description,omitempty"`
}

type ClusterResponse struct {
	ID              uuid.UUID   `json:"id"`
	GalleryID       uuid.UUID   `json:"gallery_id"`
	Name            string      `json:"name"`
	Role            string      `json:"role"`
	Description     string      `json:"description,omitempty"`
	FaceDescription string      `json:"face_description,omitempty"`
	PhotoIDs        []uuid.UUID `json:"photo_ids"`
	CreatedAt       string      `json:"created_at"`
}

type ClusterListResponse struct {
	Clusters []ClusterResponse `json:"clusters"`
	Total    int               `json:"total"`
}

type RenameClusterRequest struct {
	Name string `json:"name"`
}

type SearchResponse struct {
	Mode     string      `json:"mode"` // instant, ai
	PhotoIDs []uuid.UUID `json:"photo_ids"`
	Total    int         `json:"total"`
}
