package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/failure"
	"github.com/your-org/galleryai/internal/models"
)

type Status struct {
	GalleryID    uuid.UUID                     `json:"gallery_id"`
	Progress     int                           `json:"progress"`
	Total        int                           `json:"total"`
	Stats        map[models.AnalysisStatus]int `json:"stats"`
	IsStalled    bool                          `json:"is_stalled"`
	LastActivity *time.Time                    `json:"last_activity,omitempty"`
	AISearch     bool                          `json:"ai_search_enabled"`
}

type FailedAnalysis struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Retryable    bool      `json:"retryable"`
}

// Progress derives the 0-100 gallery progress from status counts. It stays
// below 100 while any row is PENDING or PROCESSING.
func Progress(counts map[models.AnalysisStatus]int, total int) int {
	if total <= 0 {
		return 0
	}
	if counts[models.AnalysisPending]+counts[models.AnalysisProcessing] == 0 {
		return 100
	}
	done := counts[models.AnalysisCompleted] + counts[models.AnalysisFailed]
	p := int(math.Round(100 * float64(done) / float64(total)))
	return max(0, min(p, 99))
}

func (o *Orchestrator) ComputeProgress(ctx context.Context, galleryID uuid.UUID) (int, error) {
	counts, total, err := o.counts(ctx, galleryID)
	if err != nil {
		return 0, err
	}
	return Progress(counts, total), nil
}

func (o *Orchestrator) counts(ctx context.Context, galleryID uuid.UUID) (map[models.AnalysisStatus]int, int, error) {
	counts, err := o.store.CountByStatus(ctx, galleryID)
	if err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}
	total, err := o.store.CountPhotos(ctx, galleryID)
	if err != nil {
		return nil, 0, fmt.Errorf("count photos: %w", err)
	}
	return counts, total, nil
}

// refreshProgress recomputes the gallery progress and persists it.
func (o *Orchestrator) refreshProgress(ctx context.Context, galleryID uuid.UUID) (int, error) {
	progress, err := o.ComputeProgress(ctx, galleryID)
	if err != nil {
		return 0, err
	}
	if err := o.store.SetAnalysisProgress(ctx, galleryID, progress); err != nil {
		return 0, fmt.Errorf("set analysis progress: %w", err)
	}
	return progress, nil
}

// IsStalled reports whether the gallery has PROCESSING rows and no row has
// been touched within the stale window. It never modifies state.
func (o *Orchestrator) IsStalled(ctx context.Context, galleryID uuid.UUID) (bool, error) {
	counts, err := o.store.CountByStatus(ctx, galleryID)
	if err != nil {
		return false, fmt.Errorf("count analyses: %w", err)
	}
	last, err := o.store.LastUpdated(ctx, galleryID, "")
	if err != nil {
		return false, err
	}
	return stalled(counts, last, o.staleBefore()), nil
}

func stalled(counts map[models.AnalysisStatus]int, last *time.Time, before time.Time) bool {
	return counts[models.AnalysisProcessing] > 0 && last != nil && last.Before(before)
}

func (o *Orchestrator) GetAnalysisStatus(ctx context.Context, galleryID uuid.UUID) (*Status, error) {
	g, err := o.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return nil, ErrGalleryNotFound
	}
	counts, total, err := o.counts(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	last, err := o.store.LastUpdated(ctx, galleryID, "")
	if err != nil {
		return nil, err
	}

	stats := make(map[models.AnalysisStatus]int, 4)
	for _, s := range []models.AnalysisStatus{
		models.AnalysisPending, models.AnalysisProcessing, models.AnalysisCompleted, models.AnalysisFailed,
	} {
		stats[s] = counts[s]
	}
	return &Status{
		GalleryID:    galleryID,
		Progress:     Progress(counts, total),
		Total:        total,
		Stats:        stats,
		IsStalled:    stalled(counts, last, o.staleBefore()),
		LastActivity: last,
		AISearch:     g.AISearchEnabled,
	}, nil
}

func (o *Orchestrator) ListFailedAnalyses(ctx context.Context, galleryID uuid.UUID) ([]FailedAnalysis, error) {
	g, err := o.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return nil, ErrGalleryNotFound
	}
	rows, err := o.store.ListAnalysesByStatus(ctx, galleryID, models.AnalysisFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed analyses: %w", err)
	}
	out := make([]FailedAnalysis, 0, len(rows))
	for _, a := range rows {
		out = append(out, FailedAnalysis{
			PhotoID:      a.PhotoID,
			ErrorMessage: a.ErrorMessage,
			RetryCount:   a.RetryCount,
			Retryable:    retryableMessage(a.ErrorMessage),
		})
	}
	return out, nil
}

func retryableMessage(msg string) bool {
	code, ok := failure.CodeOf(msg)
	return ok && code.Retryable()
}

func (o *Orchestrator) ToggleAISearch(ctx context.Context, galleryID uuid.UUID, enabled bool) error {
	g, err := o.store.GetGallery(ctx, galleryID)
	if err != nil {
		return fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return ErrGalleryNotFound
	}
	if err := o.store.SetAISearchEnabled(ctx, galleryID, enabled); err != nil {
		return fmt.Errorf("set ai search: %w", err)
	}
	return nil
}

// AISearchEnabled reports the gallery's AI search flag.
func (o *Orchestrator) AISearchEnabled(ctx context.Context, galleryID uuid.UUID) (bool, error) {
	g, err := o.store.GetGallery(ctx, galleryID)
	if err != nil {
		return false, fmt.Errorf("get gallery: %w", err)
	}
	if g == nil {
		return false, ErrGalleryNotFound
	}
	return g.AISearchEnabled, nil
}
