package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrFacesClustered is returned when creating a cluster whose seed faces were
// clustered or removed in the meantime.
var ErrFacesClustered = errors.New("faces already clustered")

// PersonCluster is a gallery-scoped identity grouping faces of the same person.
// PhotoIDs is derived from the faces that reference the cluster.
type PersonCluster struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	GalleryID       uuid.UUID   `json:"gallery_id" db:"gallery_id"`
	Name            string      `json:"name,omitempty" db:"name"`
	Role            string      `json:"role,omitempty" db:"role"`
	Description     string      `json:"description,omitempty" db:"description"`
	FaceDescription string      `json:"face_description,omitempty" db:"face_description"`
	PhotoIDs        []uuid.UUID `json:"photo_ids" db:"photo_ids"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}
