// Package app wires the HTTP API and the ingestion worker together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/nsqio/go-nsq"

	"pdfchat/features/chat"
	"pdfchat/features/job"
	"pdfchat/features/stats"
	"pdfchat/features/upload"
	"pdfchat/internal/config"
	"pdfchat/internal/extract"
	"pdfchat/internal/ingest"
	"pdfchat/internal/middleware"
	"pdfchat/internal/queue"
	"pdfchat/internal/retrieval"
)

// workerName identifies the ingestion handler in dead-letter records.
const workerName = "ingest"

// queryLogPreview is how much of each answer's context the query log keeps.
const queryLogPreview = 200

// Broker is the queue connection shared by the producer and the worker.
type Broker interface {
	queue.Publisher
	Subscribe(topic string, h nsq.Handler) error
	Close()
}

type Embedder interface {
	retrieval.Embedder
	ingest.BatchEmbedder
}

type Generator interface {
	retrieval.Generator
}

type App struct {
	Handler  http.Handler
	Worker   *queue.Worker
	Pipeline *ingest.Pipeline
	Jobs     *job.Service

	cfg         *config.Config
	broker      Broker
	queryLogger *retrieval.QueryLogger
}

func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	if deps == nil || deps.Index == nil || deps.Broker == nil || deps.Embedder == nil || deps.Generator == nil {
		return nil, errors.New("app: missing dependencies")
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(deps.DB)
	jobService := job.NewService(jobRepo, deps.Broker)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobService, cfg.VectorBackend)

	// Feature: Upload
	producer := queue.NewProducer(deps.Broker, config.TopicIngestUpload)
	uploadHandler := upload.NewHandler(producer, cfg.UploadDir, cfg.MaxUploadSizeMB<<20)

	// Feature: Chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath, retrieval.WithContextPreview(queryLogPreview))
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout, retrieval.WithContextPreview(queryLogPreview))
	}
	retrievalService := retrieval.NewService(deps.Embedder, deps.Index, deps.Generator, queryLogger, retrieval.Options{
		TopK:            cfg.RetrievalTopK,
		EmbedTimeout:    cfg.EmbedTimeout,
		IndexTimeout:    cfg.IndexTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		Policy:          cfg.CallPolicy(),
	})
	chatHandler := chat.NewHandler(retrievalService)

	// Worker
	fetcher := ingest.NewFetcher(&http.Client{}, deps.S3, ingest.FetcherConfig{
		TempDir:   cfg.TempDir,
		Timeout:   cfg.FetchTimeout,
		Policy:    cfg.StagePolicy(),
		MaxBytes:  cfg.MaxUploadSizeMB << 20,
		LocalRoot: cfg.UploadDir,
	})
	pipeline := ingest.NewPipeline(fetcher, extract.Default(), deps.Embedder, deps.Index, ingest.Options{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		MaxChunkChars: cfg.MaxChunkChars,
		BatchSize:     cfg.EmbedBatchSize,
		EmbedTimeout:  cfg.EmbedTimeout,
		IndexTimeout:  cfg.IndexTimeout,
		Policy:        cfg.StagePolicy(),
	})
	worker := queue.NewWorker(workerName, pipeline, jobService, cfg.JobPolicy(), cfg.JobTimeout)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Correlation-ID", cfg.TenantHeader},
		ExposedHeaders: []string{"X-Correlation-ID"},
	}))
	r.Use(middleware.CorrelationID)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(r.Context(), w, http.StatusOK, map[string]string{"message": "Everything is working fine!"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity([]byte(cfg.JWTSecret), cfg.TenantHeader))

		r.Post("/upload/pdf", uploadHandler.PDF)
		r.Post("/upload", uploadHandler.Multipart)
		r.Get("/chat", chatHandler.Chat)

		r.Get("/jobs/failed", jobHandler.List)
		r.Post("/jobs/{id}/retry", jobHandler.Retry)

		r.Get("/stats", statsHandler.GetStats)
	})

	return &App{
		Handler:     r,
		Worker:      worker,
		Pipeline:    pipeline,
		Jobs:        jobService,
		cfg:         cfg,
		broker:      deps.Broker,
		queryLogger: queryLogger,
	}, nil
}

// Run starts the enabled roles and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.queryLogger.Close(); err != nil {
			slog.Warn("failed to close query log", "error", err)
		}
	}()

	if a.cfg.EnableWorker {
		if err := a.broker.Subscribe(config.TopicIngestUpload, a.Worker); err != nil {
			return fmt.Errorf("failed to start ingestion worker: %w", err)
		}
		slog.Info("ingestion worker started", "topic", config.TopicIngestUpload, "concurrency", a.cfg.IngestionConcurrency)
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
