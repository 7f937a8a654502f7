package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
)

// ProcessOne claims a PENDING analysis and runs it to COMPLETED or FAILED.
// Collaborator failures end up on the record as a coded error message. Job
// store failures are returned, as is ErrClaimLost when stall recovery handed
// the record to another worker mid-run; that run's result is discarded.
func (o *Orchestrator) ProcessOne(ctx context.Context, photoID uuid.UUID) error {
	claimed, err := o.store.TransitionStatus(ctx, photoID, models.AnalysisPending, models.AnalysisProcessing)
	if err != nil {
		return fmt.Errorf("claim analysis: %w", err)
	}
	if !claimed {
		return ErrNotClaimed
	}

	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return fmt.Errorf("get photo: %w", err)
	}
	if photo == nil {
		return o.fail(ctx, uuid.Nil, photoID, failure.Errorf(failure.CodeImageError, "photo %s no longer exists", photoID))
	}
	g, err := o.store.GetGallery(ctx, photo.GalleryID)
	if err != nil {
		return fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return o.fail(ctx, photo.GalleryID, photoID, failure.Errorf(failure.CodeImageError, "gallery %s no longer exists", photo.GalleryID))
	}

	prev, err := o.store.GetAnalysis(ctx, photoID)
	if err != nil {
		return fmt.Errorf("get analysis: %w", err)
	}

	start := time.Now()
	result, err := o.analyze(ctx, g, photo)
	var claimErr *claimError
	switch {
	case ctx.Err() != nil:
		// Left PROCESSING; stall recovery hands it to another worker.
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	case errors.As(err, &claimErr):
		if errors.Is(err, ErrClaimLost) {
			slog.Info("analysis abandoned, claim lost", "photo_id", photoID)
		}
		return claimErr.err
	case err != nil:
		return o.fail(ctx, g.ID, photoID, err)
	}

	completed, err := o.store.CompleteAnalysis(ctx, photoID, *result)
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	if !completed {
		o.dropIndexedFaces(ctx, g, result.Faces)
		slog.Info("analysis result discarded, claim lost", "photo_id", photoID)
		return ErrClaimLost
	}
	observability.AnalysesFinished.WithLabelValues(string(models.AnalysisCompleted)).Inc()
	observability.FacesDetected.Add(float64(len(result.Faces)))
	if prev != nil {
		o.dropIndexedFaces(ctx, g, prev.Faces)
	}

	if o.clusterer != nil && g.FaceCollectionID != "" {
		if err := o.clusterer.Incorporate(ctx, g.ID, g.FaceCollectionID, photoID, result.Faces); err != nil {
			slog.Warn("cluster faces", "photo_id", photoID, "error", err)
		}
	}
	if o.indexer != nil {
		if err := o.indexer.IndexDescription(ctx, photoID, result.Description, result.SearchTags); err != nil {
			slog.Warn("index description", "photo_id", photoID, "error", err)
		}
	}

	slog.Info("photo analyzed",
		"photo_id", photoID,
		"gallery_id", g.ID,
		"faces", len(result.Faces),
		"tags", len(result.SearchTags),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return o.finish(ctx, g.ID, photoID, models.AnalysisCompleted)
}

// fail records a classified failure on a claimed record.
func (o *Orchestrator) fail(ctx context.Context, galleryID, photoID uuid.UUID, cause error) error {
	code := failure.Classify(cause)
	msg := failure.Message(cause)
	failed, err := o.store.FailAnalysis(ctx, photoID, msg)
	if err != nil {
		return fmt.Errorf("fail analysis: %w", err)
	}
	if !failed {
		slog.Info("analysis failure discarded, claim lost", "photo_id", photoID, "code", code)
		return ErrClaimLost
	}
	observability.AnalysesFinished.WithLabelValues(string(models.AnalysisFailed)).Inc()
	observability.AnalysisFailures.WithLabelValues(string(code)).Inc()
	slog.Warn("photo analysis failed", "photo_id", photoID, "code", code, "retryable", code.Retryable(), "error", cause)

	if galleryID == uuid.Nil {
		return nil
	}
	return o.finish(ctx, galleryID, photoID, models.AnalysisFailed)
}

// finish recomputes and persists gallery progress and publishes it.
func (o *Orchestrator) finish(ctx context.Context, galleryID, photoID uuid.UUID, status models.AnalysisStatus) error {
	progress, err := o.refreshProgress(ctx, galleryID)
	if err != nil {
		return err
	}
	if o.notifier == nil {
		return nil
	}
	ev := models.ProgressEvent{
		GalleryID: galleryID,
		PhotoID:   photoID,
		Status:    status,
		Progress:  progress,
		Timestamp: o.now(),
	}
	if err := o.notifier.NotifyProgress(ctx, ev); err != nil {
		slog.Warn("publish progress", "gallery_id", galleryID, "error", err)
	}
	return nil
}

// analysisData is the opaque JSON kept alongside a completed analysis.
type analysisData struct {
	Provider      string                   `json:"provider"`
	ModelOutput   json.RawMessage          `json:"model_output,omitempty"`
	DetectedFaces []faceindex.DetectedFace `json:"detected_faces"`
}

// claimError ends a run without a FAILED record: the claim was lost or the
// job store could not refresh it.
type claimError struct {
	err error
}

func (e *claimError) Error() string { return e.err.Error() }
func (e *claimError) Unwrap() error { return e.err }

// keepClaim refreshes the record's updated_at between external calls so stall
// recovery does not reclaim a photo that is still being worked on.
func (o *Orchestrator) keepClaim(ctx context.Context, photoID uuid.UUID) error {
	ok, err := o.store.TouchAnalysis(ctx, photoID)
	if err != nil {
		return &claimError{err: fmt.Errorf("touch analysis: %w", err)}
	}
	if !ok {
		return &claimError{err: ErrClaimLost}
	}
	return nil
}

// analyze performs every external call for one photo.
func (o *Orchestrator) analyze(ctx context.Context, g *models.Gallery, photo *models.Photo) (*models.AnalysisResult, error) {
	data, err := call(ctx, o.opts.CallTimeout, "get_object", func(ctx context.Context) ([]byte, error) {
		return o.objects.GetObject(ctx, photo.StorageKey)
	})
	if err != nil {
		return nil, err
	}
	img, err := faceindex.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := o.keepClaim(ctx, photo.ID); err != nil {
		return nil, err
	}

	var detected []faceindex.DetectedFace
	var desc *describe.PhotoDescription
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		detected, err = call(egCtx, o.opts.CallTimeout, "detect_faces", func(ctx context.Context) ([]faceindex.DetectedFace, error) {
			return o.faces.DetectFaces(ctx, data, o.opts.MinConfidence)
		})
		return err
	})
	eg.Go(func() error {
		var err error
		desc, err = call(egCtx, o.opts.CallTimeout, "describe", func(ctx context.Context) (*describe.PhotoDescription, error) {
			return o.describer.DescribePhoto(ctx, data)
		})
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := mergeFaces(detected, desc.Faces)
	faces := make([]models.PersonFace, len(merged))
	for i, m := range merged {
		faces[i] = m.face
		if !m.detected || g.FaceCollectionID == "" {
			continue
		}
		if err := o.keepClaim(ctx, photo.ID); err != nil {
			o.dropIndexedFaces(ctx, g, faces[:i])
			return nil, err
		}
		faces[i].ExternalFaceID = o.indexFace(ctx, g, photo.ID, img, m.face)
	}

	raw, err := json.Marshal(analysisData{
		Provider:      o.describer.Name(),
		ModelOutput:   desc.Raw,
		DetectedFaces: detected,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analysis data: %w", err)
	}

	return &models.AnalysisResult{
		Description:  desc.Description,
		SearchTags:   models.NormalizeTags(desc.SearchTags),
		AnalysisData: raw,
		Faces:        faces,
		AnalyzedAt:   o.now(),
	}, nil
}

// indexFace crops, stores and indexes one detected face and returns its
// external face id. Failures leave the face identity-unknown.
func (o *Orchestrator) indexFace(ctx context.Context, g *models.Gallery, photoID uuid.UUID, img image.Image, face models.PersonFace) string {
	crop, err := faceindex.CropFaceJPEG(img, face.BoundingBox)
	if err != nil {
		slog.Warn("crop face", "photo_id", photoID, "face_id", face.FaceID, "error", err)
		return ""
	}

	key := faceCropKey(g.ID, photoID, face.FaceID)
	if err := o.objects.PutObject(ctx, key, crop, "image/jpeg"); err != nil {
		slog.Warn("store face crop", "key", key, "error", err)
	}

	indexed, err := call(ctx, o.opts.CallTimeout, "index_face", func(ctx context.Context) (*faceindex.IndexedFace, error) {
		return o.faces.IndexFace(ctx, g.FaceCollectionID, crop, externalRef(photoID, face.FaceID))
	})
	if err != nil {
		slog.Warn("index face", "photo_id", photoID, "face_id", face.FaceID, "error", err)
		return ""
	}
	if indexed == nil {
		slog.Debug("no indexable face in crop", "photo_id", photoID, "face_id", face.FaceID)
		return ""
	}
	observability.FacesIndexed.Inc()
	return indexed.FaceID
}

// dropIndexedFaces removes the index entries of faces a new analysis replaced.
func (o *Orchestrator) dropIndexedFaces(ctx context.Context, g *models.Gallery, faces []models.PersonFace) {
	if g.FaceCollectionID == "" {
		return
	}
	var ids []string
	for _, f := range faces {
		if f.ExternalFaceID != "" {
			ids = append(ids, f.ExternalFaceID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := o.faces.DeleteFaces(ctx, g.FaceCollectionID, ids); err != nil {
		slog.Warn("delete replaced faces", "gallery_id", g.ID, "count", len(ids), "error", err)
	}
}

// call runs fn under its own deadline. A collaborator that gives up after
// the deadline with an unrelated error is still reported as a timeout.
func call[T any](ctx context.Context, timeout time.Duration, stage string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(callCtx)
	observability.ExternalCallDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err == nil {
		return v, nil
	}

	err = fmt.Errorf("%s: %w", stage, err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var coded *failure.Error
		if !errors.As(err, &coded) {
			err = failure.Wrap(failure.CodeTimeout, err)
		}
	}
	return v, err
}
