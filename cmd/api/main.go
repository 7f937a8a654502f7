package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/api"
	"github.com/your-org/galleryai/internal/api/ws"
	"github.com/your-org/galleryai/internal/cluster"
	"github.com/your-org/galleryai/internal/config"
	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
	"github.com/your-org/galleryai/internal/queue"
	"github.com/your-org/galleryai/internal/resolver"
	"github.com/your-org/galleryai/internal/search"
	"github.com/your-org/galleryai/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting gallery AI API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// The API only manages collections and searches them, so no face model is loaded.
	faces := faceindex.NewVectorIndex(nil, db, cfg.Matching.MinConfidence)

	// Describe provider is optional here: without it, queries that miss the
	// instant tag match fail.
	var semantic search.SemanticSearcher
	provider, err := describe.New(ctx, cfg.Describe)
	if err != nil {
		slog.Warn("describe provider unavailable, semantic search disabled", "error", err)
	} else {
		semantic = search.NewVectorSearcher(provider, db, cfg.Search.MinScore, cfg.Search.Limit)
	}

	clusters := cluster.NewEngine(db, faces, cfg.Matching.SimilarityThreshold, cfg.Matching.MaxResults)
	orch := analysis.NewOrchestrator(analysis.Deps{
		Store:      db,
		Objects:    minioStore,
		Faces:      faces,
		Dispatcher: producer,
		Clusterer:  clusters,
	}, analysis.Options{
		MinConfidence: cfg.Matching.MinConfidence,
		StaleAfter:    cfg.Analysis.StaleAfter,
		CallTimeout:   cfg.Analysis.CallTimeout,
	})

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Relay progress events to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	consumerName := "api-events-" + instanceName()
	err = consumer.ConsumeEvents(ctx, consumerName, func(_ context.Context, ev models.ProgressEvent) error {
		hub.BroadcastProgress(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start event consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		MinIO:        minioStore,
		Producer:     producer,
		Hub:          hub,
		Orchestrator: orch,
		Resolver:     resolver.NewResolver(db, faces, cfg.Matching.SimilarityThreshold, cfg.Matching.MaxResults),
		Clusters:     clusters,
		Searcher:     search.NewSearcher(db, semantic),
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// instanceName keeps event consumers of API replicas apart.
func instanceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()[:8]
}
