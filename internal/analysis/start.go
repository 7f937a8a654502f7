package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
)

type StartResult struct {
	Mode      models.AnalysisMode `json:"mode"`
	Seeded    int                 `json:"seeded"`
	Retried   int64               `json:"retried"`
	Recovered int64               `json:"recovered"`
	Queued    int                 `json:"queued"`
}

// StartAnalysis prepares a gallery for analysis in the given mode and
// dispatches every PENDING photo. It returns once the tasks are queued.
func (o *Orchestrator) StartAnalysis(ctx context.Context, galleryID uuid.UUID, mode models.AnalysisMode) (*StartResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	g, err := o.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return nil, ErrGalleryNotFound
	}

	res := &StartResult{Mode: mode}
	if res.Recovered, err = o.RecoverStalled(ctx, galleryID); err != nil {
		return nil, err
	}

	switch mode {
	case models.ModeReanalyze:
		if err := o.resetGallery(ctx, g); err != nil {
			return nil, err
		}
		g.FaceCollectionID = ""
		if res.Seeded, err = o.seedAll(ctx, galleryID); err != nil {
			return nil, err
		}
	case models.ModeInitial:
		if res.Seeded, err = o.seedAll(ctx, galleryID); err != nil {
			return nil, err
		}
	case models.ModeRetryFailed:
		res.Retried, err = o.store.ResetFailed(ctx, galleryID, failure.RetryablePrefixes())
		if err != nil {
			return nil, fmt.Errorf("reset failed analyses: %w", err)
		}
	}

	if err := o.ensureCollection(ctx, g); err != nil {
		return nil, err
	}
	if err := o.store.MarkAnalysisTriggered(ctx, galleryID, o.now()); err != nil {
		return nil, fmt.Errorf("mark analysis triggered: %w", err)
	}
	if _, err := o.refreshProgress(ctx, galleryID); err != nil {
		return nil, err
	}

	if res.Queued, err = o.dispatchPending(ctx, galleryID); err != nil {
		return nil, err
	}

	slog.Info("analysis started",
		"gallery_id", galleryID,
		"mode", mode,
		"seeded", res.Seeded,
		"retried", res.Retried,
		"recovered", res.Recovered,
		"queued", res.Queued,
	)
	return res, nil
}

// resetGallery drops everything a previous analysis produced for a gallery.
// The face collection and crops are external state; failures to remove them
// are logged since a fresh collection replaces the old one.
func (o *Orchestrator) resetGallery(ctx context.Context, g *models.Gallery) error {
	if g.FaceCollectionID != "" {
		if err := o.faces.DeleteCollection(ctx, g.FaceCollectionID); err != nil {
			slog.Warn("delete face collection", "gallery_id", g.ID, "collection_id", g.FaceCollectionID, "error", err)
		}
	}
	if err := o.objects.DeletePrefix(ctx, faceCropPrefix(g.ID)); err != nil {
		slog.Warn("delete face crops", "gallery_id", g.ID, "error", err)
	}
	if err := o.store.ResetGalleryAnalysis(ctx, g.ID); err != nil {
		return fmt.Errorf("reset gallery analysis: %w", err)
	}
	return nil
}

func (o *Orchestrator) seedAll(ctx context.Context, galleryID uuid.UUID) (int, error) {
	ids, err := o.store.ListPhotoIDs(ctx, galleryID)
	if err != nil {
		return 0, fmt.Errorf("list photos: %w", err)
	}
	n, err := o.store.SeedPending(ctx, galleryID, ids)
	if err != nil {
		return 0, fmt.Errorf("seed analyses: %w", err)
	}
	return n, nil
}

func (o *Orchestrator) ensureCollection(ctx context.Context, g *models.Gallery) error {
	if g.FaceCollectionID != "" {
		return nil
	}
	id := collectionName(g.ID, o.now())
	if err := o.faces.CreateCollection(ctx, id); err != nil {
		return fmt.Errorf("create face collection: %w", err)
	}
	if err := o.store.SetFaceCollection(ctx, g.ID, id); err != nil {
		return fmt.Errorf("set face collection: %w", err)
	}
	g.FaceCollectionID = id
	return nil
}

func (o *Orchestrator) dispatchPending(ctx context.Context, galleryID uuid.UUID) (int, error) {
	ids, err := o.store.ListPendingPhotoIDs(ctx, galleryID)
	if err != nil {
		return 0, fmt.Errorf("list pending analyses: %w", err)
	}
	for i, id := range ids {
		task := models.AnalysisTask{GalleryID: galleryID, PhotoID: id, EnqueuedAt: o.now()}
		if err := o.dispatcher.Dispatch(ctx, task); err != nil {
			return i, fmt.Errorf("dispatch photo %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// EnqueuePhoto seeds or resets the analysis of a single photo and dispatches
// it. A photo currently PROCESSING is left to its worker.
func (o *Orchestrator) EnqueuePhoto(ctx context.Context, photoID uuid.UUID) error {
	p, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return fmt.Errorf("get photo: %w", err)
	}
	if p == nil {
		return ErrPhotoNotFound
	}
	g, err := o.store.GetGallery(ctx, p.GalleryID)
	if err != nil {
		return fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return ErrGalleryNotFound
	}

	if _, err := o.store.SeedPending(ctx, p.GalleryID, []uuid.UUID{photoID}); err != nil {
		return fmt.Errorf("seed analysis: %w", err)
	}
	for _, from := range []models.AnalysisStatus{models.AnalysisCompleted, models.AnalysisFailed} {
		if _, err := o.store.TransitionStatus(ctx, photoID, from, models.AnalysisPending); err != nil {
			return fmt.Errorf("reset analysis: %w", err)
		}
	}

	a, err := o.store.GetAnalysis(ctx, photoID)
	if err != nil {
		return fmt.Errorf("get analysis: %w", err)
	}
	if a == nil || a.Status != models.AnalysisPending {
		return nil
	}
	if err := o.ensureCollection(ctx, g); err != nil {
		return err
	}
	if _, err := o.refreshProgress(ctx, p.GalleryID); err != nil {
		return err
	}
	task := models.AnalysisTask{GalleryID: p.GalleryID, PhotoID: photoID, EnqueuedAt: o.now()}
	if err := o.dispatcher.Dispatch(ctx, task); err != nil {
		return fmt.Errorf("dispatch photo %s: %w", photoID, err)
	}
	return nil
}

// RecoverStalled returns a gallery's PROCESSING rows older than the stale
// window to PENDING. Running it again right away changes nothing.
func (o *Orchestrator) RecoverStalled(ctx context.Context, galleryID uuid.UUID) (int64, error) {
	n, err := o.store.ResetStalled(ctx, galleryID, o.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("recover stalled analyses: %w", err)
	}
	if n > 0 {
		observability.StalledRecovered.Add(float64(n))
		slog.Warn("recovered stalled analyses", "gallery_id", galleryID, "count", n)
	}
	return n, nil
}

// SweepStalled recovers every gallery with stalled work and re-dispatches
// its PENDING photos. It returns the number of recovered rows.
func (o *Orchestrator) SweepStalled(ctx context.Context) (int64, error) {
	galleries, err := o.store.ListStalledGalleries(ctx, o.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("list stalled galleries: %w", err)
	}
	var total int64
	for _, id := range galleries {
		n, err := o.RecoverStalled(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
		if _, err := o.dispatchPending(ctx, id); err != nil {
			return total, err
		}
	}
	return total, nil
}
