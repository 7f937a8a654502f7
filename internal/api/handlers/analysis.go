package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/pkg/dto"
)

const timeLayout = "2006-01-02T15:04:05Z"

type AnalysisHandler struct {
	orch *analysis.Orchestrator
}

func NewAnalysisHandler(orch *analysis.Orchestrator) *AnalysisHandler {
	return &AnalysisHandler{orch: orch}
}

// parseID reads a uuid path parameter and writes a 400 when it is malformed.
func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// Start seeds and dispatches a gallery analysis. Returns 202 once the tasks
// are queued; clients poll Status for completion.
func (h *AnalysisHandler) Start(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}
	var req dto.StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.orch.StartAnalysis(c.Request.Context(), galleryID, models.AnalysisMode(req.Mode))
	switch {
	case errors.Is(err, analysis.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, analysis.ErrGalleryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.StartAnalysisResponse{
		GalleryID: galleryID,
		Mode:      string(res.Mode),
		Seeded:    res.Seeded,
		Retried:   res.Retried,
		Recovered: res.Recovered,
		Queued:    res.Queued,
	})
}

func (h *AnalysisHandler) Status(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}

	st, err := h.orch.GetAnalysisStatus(c.Request.Context(), galleryID)
	if errors.Is(err, analysis.ErrGalleryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AnalysisStatusResponse{
		GalleryID: st.GalleryID,
		Progress:  st.Progress,
		Total:     st.Total,
		Stats: dto.AnalysisStats{
			Pending:    st.Stats[models.AnalysisPending],
			Processing: st.Stats[models.AnalysisProcessing],
			Completed:  st.Stats[models.AnalysisCompleted],
			Failed:     st.Stats[models.AnalysisFailed],
		},
		IsStalled:       st.IsStalled,
		AISearchEnabled: st.AISearch,
	}
	if st.LastActivity != nil {
		resp.LastActivity = st.LastActivity.UTC().Format(timeLayout)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AnalysisHandler) ListFailed(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}

	failed, err := h.orch.ListFailedAnalyses(c.Request.Context(), galleryID)
	if errors.Is(err, analysis.ErrGalleryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.FailedAnalysisResponse, 0, len(failed))
	for _, f := range failed {
		resp = append(resp, dto.FailedAnalysisResponse{
			PhotoID:      f.PhotoID,
			ErrorMessage: f.ErrorMessage,
			RetryCount:   f.RetryCount,
			Retryable:    f.Retryable,
		})
	}
	c.JSON(http.StatusOK, dto.FailedAnalysisListResponse{Failed: resp, Total: len(resp)})
}

func (h *AnalysisHandler) ToggleAISearch(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}
	var req dto.ToggleAISearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.orch.ToggleAISearch(c.Request.Context(), galleryID, *req.Enabled)
	if errors.Is(err, analysis.ErrGalleryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gallery_id": galleryID, "ai_search_enabled": *req.Enabled})
}

// EnqueuePhoto (re)analyzes a single photo, e.g. right after upload.
func (h *AnalysisHandler) EnqueuePhoto(c *gin.Context) {
	photoID, ok := parseID(c, "id", "photo")
	if !ok {
		return
	}

	err := h.orch.EnqueuePhoto(c.Request.Context(), photoID)
	switch {
	case errors.Is(err, analysis.ErrPhotoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	case errors.Is(err, analysis.ErrGalleryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"photo_id": photoID, "status": "queued"})
}
