// Package analysis drives a gallery's photos through the analysis job state
// machine: seeding, claiming, processing, failure classification, stall
// recovery and progress.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
)

const (
	DefaultStaleAfter    = 5 * time.Minute
	DefaultCallTimeout   = 90 * time.Second
	DefaultMinConfidence = 70.0
)

var (
	ErrGalleryNotFound = errors.New("gallery not found")
	ErrPhotoNotFound   = errors.New("photo not found")
	ErrInvalidMode     = errors.New("invalid analysis mode")
	// ErrNotClaimed means another worker owns the record or it is not PENDING.
	ErrNotClaimed = errors.New("analysis not claimed")
	// ErrClaimLost means stall recovery took the record away mid-run and the
	// run's result was discarded.
	ErrClaimLost = fmt.Errorf("claim lost: %w", ErrNotClaimed)
)

// Store is the analysis job store together with the gallery state it updates.
type Store interface {
	GetGallery(ctx context.Context, id uuid.UUID) (*models.Gallery, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	ListPhotoIDs(ctx context.Context, galleryID uuid.UUID) ([]uuid.UUID, error)
	CountPhotos(ctx context.Context, galleryID uuid.UUID) (int, error)
	SetFaceCollection(ctx context.Context, galleryID uuid.UUID, collectionID string) error
	SetAnalysisProgress(ctx context.Context, galleryID uuid.UUID, progress int) error
	SetAISearchEnabled(ctx context.Context, galleryID uuid.UUID, enabled bool) error
	MarkAnalysisTriggered(ctx context.Context, galleryID uuid.UUID, at time.Time) error
	ResetGalleryAnalysis(ctx context.Context, galleryID uuid.UUID) error

	GetAnalysis(ctx context.Context, photoID uuid.UUID) (*models.PhotoAnalysis, error)
	ListAnalysesByStatus(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) ([]models.PhotoAnalysis, error)
	ListPendingPhotoIDs(ctx context.Context, galleryID uuid.UUID) ([]uuid.UUID, error)
	SeedPending(ctx context.Context, galleryID uuid.UUID, photoIDs []uuid.UUID) (int, error)
	TransitionStatus(ctx context.Context, photoID uuid.UUID, from, to models.AnalysisStatus) (bool, error)
	// CompleteAnalysis, FailAnalysis and TouchAnalysis only act on PROCESSING
	// records and report whether they did.
	CompleteAnalysis(ctx context.Context, photoID uuid.UUID, result models.AnalysisResult) (bool, error)
	FailAnalysis(ctx context.Context, photoID uuid.UUID, message string) (bool, error)
	TouchAnalysis(ctx context.Context, photoID uuid.UUID) (bool, error)
	ResetStalled(ctx context.Context, galleryID uuid.UUID, before time.Time) (int64, error)
	ResetFailed(ctx context.Context, galleryID uuid.UUID, prefixes []string) (int64, error)
	CountByStatus(ctx context.Context, galleryID uuid.UUID) (map[models.AnalysisStatus]int, error)
	LastUpdated(ctx context.Context, galleryID uuid.UUID, status models.AnalysisStatus) (*time.Time, error)
	ListStalledGalleries(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Dispatcher hands a PENDING photo to the background workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.AnalysisTask) error
}

type Notifier interface {
	NotifyProgress(ctx context.Context, ev models.ProgressEvent) error
}

// Clusterer incorporates a completed photo's faces into person clusters.
type Clusterer interface {
	Incorporate(ctx context.Context, galleryID uuid.UUID, collectionID string, photoID uuid.UUID, faces []models.PersonFace) error
}

// DescriptionIndexer makes a completed photo findable by semantic search.
type DescriptionIndexer interface {
	IndexDescription(ctx context.Context, photoID uuid.UUID, description string, tags []string) error
}

// Deps are the collaborators of an Orchestrator. Clusterer, Notifier and
// Indexer are optional.
type Deps struct {
	Store      Store
	Objects    ObjectStore
	Faces      faceindex.FaceIndex
	Describer  describe.Describer
	Dispatcher Dispatcher
	Clusterer  Clusterer
	Notifier   Notifier
	Indexer    DescriptionIndexer
}

type Options struct {
	// MinConfidence is the face detection cutoff on a 0-100 scale.
	MinConfidence float64
	StaleAfter    time.Duration
	// CallTimeout bounds each external call made while processing a photo.
	// It is capped at half of StaleAfter since the claim is only refreshed
	// between calls.
	CallTimeout time.Duration
	Now         func() time.Time
}

type Orchestrator struct {
	store      Store
	objects    ObjectStore
	faces      faceindex.FaceIndex
	describer  describe.Describer
	dispatcher Dispatcher
	clusterer  Clusterer
	notifier   Notifier
	indexer    DescriptionIndexer
	opts       Options
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.CallTimeout > opts.StaleAfter/2 {
		opts.CallTimeout = opts.StaleAfter / 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:      deps.Store,
		objects:    deps.Objects,
		faces:      deps.Faces,
		describer:  deps.Describer,
		dispatcher: deps.Dispatcher,
		clusterer:  deps.Clusterer,
		notifier:   deps.Notifier,
		indexer:    deps.Indexer,
		opts:       opts,
	}
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Now()
}

// staleBefore is the updated_at cutoff below which PROCESSING rows are stalled.
func (o *Orchestrator) staleBefore() time.Time {
	return o.now().Add(-o.opts.StaleAfter)
}

func collectionName(galleryID uuid.UUID, at time.Time) string {
	return "gallery-" + galleryID.String() + "-" + at.UTC().Format("20060102150405")
}

func faceCropPrefix(galleryID uuid.UUID) string {
	return "faces/" + galleryID.String() + "/"
}

func faceCropKey(galleryID, photoID uuid.UUID, faceID string) string {
	return faceCropPrefix(galleryID) + photoID.String() + "/" + faceID + ".jpg"
}

func externalRef(photoID uuid.UUID, faceID string) string {
	return photoID.String() + ":" + faceID
}
