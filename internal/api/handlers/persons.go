package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/galleryai/internal/cluster"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/resolver"
	"github.com/your-org/galleryai/pkg/dto"
)

type PersonHandler struct {
	resolver *resolver.Resolver
	clusters *cluster.Engine
}

func NewPersonHandler(r *resolver.Resolver, clusters *cluster.Engine) *PersonHandler {
	return &PersonHandler{resolver: r, clusters: clusters}
}

// FindPerson lists the gallery photos showing the same person as a face.
func (h *PersonHandler) FindPerson(c *gin.Context) {
	photoID, ok := parseID(c, "id", "photo")
	if !ok {
		return
	}
	faceID := strings.TrimSpace(c.Param("faceId"))
	if faceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "face id required"})
		return
	}

	res, err := h.resolver.FindPerson(c.Request.Context(), photoID, faceID)
	switch {
	case errors.Is(err, resolver.ErrAnalysisNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "photo analysis not found"})
		return
	case errors.Is(err, resolver.ErrFaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.PersonResponse{
		Method:      string(res.Method),
		PhotoIDs:    res.PhotoIDs,
		Total:       len(res.PhotoIDs),
		ClusterID:   res.ClusterID,
		Name:        res.Name,
		Role:        res.Role,
		Description: res.Description,
	})
}

func (h *PersonHandler) ListClusters(c *gin.Context) {
	galleryID, ok := parseID(c, "id", "gallery")
	if !ok {
		return
	}

	clusters, err := h.clusters.ListClusters(c.Request.Context(), galleryID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ClusterResponse, 0, len(clusters))
	for _, pc := range clusters {
		resp = append(resp, clusterResponse(pc))
	}
	c.JSON(http.StatusOK, dto.ClusterListResponse{Clusters: resp, Total: len(resp)})
}

func (h *PersonHandler) GetCluster(c *gin.Context) {
	clusterID, ok := parseID(c, "id", "cluster")
	if !ok {
		return
	}

	pc, err := h.clusters.GetCluster(c.Request.Context(), clusterID)
	if errors.Is(err, cluster.ErrClusterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, clusterResponse(*pc))
}

func (h *PersonHandler) RenameCluster(c *gin.Context) {
	clusterID, ok := parseID(c, "id", "cluster")
	if !ok {
		return
	}
	var req dto.RenameClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pc, err := h.clusters.Rename(c.Request.Context(), clusterID, req.Name)
	if errors.Is(err, cluster.ErrClusterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cluster not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, clusterResponse(*pc))
}

func clusterResponse(pc models.PersonCluster) dto.ClusterResponse {
	return dto.ClusterResponse{
		ID:              pc.ID,
		GalleryID:       pc.GalleryID,
		Name:            pc.Name,
		Role:            pc.Role,
		Description:     pc.Description,
		FaceDescription: pc.FaceDescription,
		PhotoIDs:        pc.PhotoIDs,
		CreatedAt:       pc.CreatedAt.UTC().Format(timeLayout),
	}
}
