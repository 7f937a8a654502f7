package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/search"
	"github.com/your-org/galleryai/pkg/dto"
)

type SearchHandler struct {
	searcher *search.Searcher
	orch     *analysis.Orchestrator
}

func NewSearchHandler(searcher *search.Searcher, orch *analysis.Orchestrator) *SearchHandler {
	return &SearchHandler{searcher: searcher, orch: orch}
}

// Search answers a gallery search. Only galleries with AI search enabled
// can be searched.
func (h *SearchHandler) Search(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}

	enabled, err := h.orch.AISearchEnabled(c.Request.Context(), galleryID)
	if errors.Is(err, analysis.ErrGalleryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gallery not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "ai search is disabled for this gallery"})
		return
	}

	res, err := h.searcher.Search(c.Request.Context(), galleryID, c.Query("q"))
	if errors.Is(err, search.ErrEmptyQuery) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SearchResponse{
		Mode:     string(res.Mode),
		PhotoIDs: res.PhotoIDs,
		Total:    len(res.PhotoIDs),
	})
}
