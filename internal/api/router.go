package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/api/handlers"
	"github.com/your-org/galleryai/internal/api/ws"
	"github.com/your-org/galleryai/internal/auth"
	"github.com/your-org/galleryai/internal/cluster"
	"github.com/your-org/galleryai/internal/resolver"
	"github.com/your-org/galleryai/internal/search"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type NATSPinger interface {
	Ping() error
}

type RouterConfig struct {
	APIKey       string
	DB           Pinger
	MinIO        Pinger
	Producer     NATSPinger
	Hub          *ws.Hub
	Orchestrator *analysis.Orchestrator
	Resolver     *resolver.Resolver
	Clusters     *cluster.Engine
	Searcher     *search.Searcher
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Analysis
	analysisH := handlers.NewAnalysisHandler(cfg.Orchestrator)
	v1.POST("/galleries/:id/analysis", analysisH.Start)
	v1.GET("/galleries/:id/analysis", analysisH.Status)
	v1.GET("/galleries/:id/analysis/failed", analysisH.ListFailed)
	v1.PUT("/galleries/:id/ai-search", analysisH.ToggleAISearch)
	v1.POST("/photos/:id/analysis", analysisH.EnqueuePhoto)

	// Persons & clusters
	personH := handlers.NewPersonHandler(cfg.Resolver, cfg.Clusters)
	v1.GET("/photos/:id/faces/:faceId/person", personH.FindPerson)
	v1.GET("/galleries/:id/clusters", personH.ListClusters)
	v1.GET("/clusters/:id", personH.GetCluster)
	v1.PATCH("/clusters/:id", personH.RenameCluster)

	// Search
	searchH := handlers.NewSearchHandler(cfg.Searcher, cfg.Orchestrator)
	v1.GET("/galleries/:id/search", searchH.Search)

	return r
}
