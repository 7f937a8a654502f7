package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/galleryai/internal/analysis"
	"github.com/your-org/galleryai/internal/cluster"
	"github.com/your-org/galleryai/internal/config"
	"github.com/your-org/galleryai/internal/describe"
	"github.com/your-org/galleryai/internal/faceindex"
	"github.com/your-org/galleryai/internal/models"
	"github.com/your-org/galleryai/internal/observability"
	"github.com/your-org/galleryai/internal/queue"
	"github.com/your-org/galleryai/internal/search"
	"github.com/your-org/galleryai/internal/storage"
	"github.com/your-org/galleryai/internal/vision"
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

	slog.Info("starting gallery AI analysis worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"provider", cfg.Describe.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	engine, err := vision.NewEngine(cfg.Vision)
	if err != nil {
		slog.Error("init vision engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	provider, err := describe.New(ctx, cfg.Describe)
	if err != nil {
		slog.Error("init describe provider", "error", err)
		os.Exit(1)
	}

	faces := faceindex.NewVectorIndex(engine, db, cfg.Matching.MinConfidence)
	orch := analysis.NewOrchestrator(analysis.Deps{
		Store:      db,
		Objects:    minioStore,
		Faces:      faces,
		Describer:  provider,
		Dispatcher: producer,
		Clusterer:  cluster.NewEngine(db, faces, cfg.Matching.SimilarityThreshold, cfg.Matching.MaxResults),
		Notifier:   producer,
		Indexer:    search.NewDescriptionIndexer(provider, db),
	}, analysis.Options{
		MinConfidence: cfg.Matching.MinConfidence,
		StaleAfter:    cfg.Analysis.StaleAfter,
		CallTimeout:   cfg.Analysis.CallTimeout,
	})

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Start consuming analysis tasks
	err = consumer.ConsumeTasks(ctx, "analysis-workers", func(ctx context.Context, task models.AnalysisTask) error {
		err := orch.ProcessOne(ctx, task.PhotoID)
		if errors.Is(err, analysis.ErrNotClaimed) {
			// Duplicate delivery, or the claim moved to another worker.
			slog.Debug("analysis task skipped", "photo_id", task.PhotoID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("process photo %s: %w", task.PhotoID, err)
		}
		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Return PROCESSING rows abandoned by dead workers to the queue
	go func() {
		ticker := time.NewTicker(cfg.Analysis.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := orch.SweepStalled(ctx); err != nil && ctx.Err() == nil {
					slog.Error("sweep stalled analyses", "error", err)
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
