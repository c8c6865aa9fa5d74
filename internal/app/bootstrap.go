package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"pdfchat/internal/adapter/gemini"
	"pdfchat/internal/adapter/memory"
	qstore "pdfchat/internal/adapter/qdrant"
	wstore "pdfchat/internal/adapter/weaviate"
	"pdfchat/internal/config"
	"pdfchat/internal/ingest"
	"pdfchat/internal/queue"
	"pdfchat/internal/vector"
)

// Dependencies are the connected backing services the app is built from.
type Dependencies struct {
	DB        *sql.DB
	Index     vector.Index
	Broker    Broker
	Embedder  Embedder
	Generator Generator
	S3        ingest.S3Downloader
}

// Close releases every connection held by the dependencies.
func (d *Dependencies) Close() {
	if d.Broker != nil {
		d.Broker.Close()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}
}

// SchemaEnsurer is implemented by index backends that need a schema before use.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	db, err := openDB(ctx, cfg, retryDelay)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: db}

	if err := migrateDB(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}

	deps.Index, err = NewIndex(ctx, cfg, retryDelay)
	if err != nil {
		deps.Close()
		return nil, err
	}

	gclient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("gemini client error: %w", err)
	}
	deps.Embedder = gemini.NewEmbedder(gclient, gemini.EmbedderConfig{
		Model:      cfg.EmbedModel,
		BatchSize:  cfg.EmbedBatchSize,
		RatePerSec: cfg.EmbedRatePerSec,
	})
	deps.Generator = gemini.NewGenerator(gclient, cfg.GenModel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		slog.Warn("aws configuration unavailable, s3 sources disabled", "error", err)
	} else {
		deps.S3 = manager.NewDownloader(s3.NewFromConfig(awsCfg))
	}

	client := queue.NewClient(queue.ClientConfig{
		NSQDHost:    cfg.NSQDHost,
		NSQDHTTP:    cfg.NSQDHTTP,
		Lookupd:     cfg.NSQLookupd,
		Channel:     cfg.NSQChannel,
		Concurrency: cfg.IngestionConcurrency,
		MsgTimeout:  cfg.JobTimeout + time.Minute,
	})
	err = withRetry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "nsq", func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.Broker = client
	client.CreateTopics(ctx, config.Topics...)

	return deps, nil
}

func openDB(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = withRetry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "db", func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func migrateDB(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return nil
}

// NewIndex connects the configured vector backend.
func NewIndex(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (vector.Index, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(client, cfg.WeaviateClass)
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil
	case config.BackendQdrant:
		client, err := qstore.NewClient(cfg.QdrantURL)
		if err != nil {
			return nil, err
		}
		return qstore.NewStore(client, cfg.QdrantCollectionPrefix), nil
	case config.BackendMemory:
		slog.Warn("using in-memory vector index, data will not survive a restart")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// EnsureSchemaWithRetry retries schema creation while the index starts up.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	return withRetry(ctx, attempts, delay, "schema", func() error {
		return store.EnsureSchema(ctx)
	})
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, what string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Warn("bootstrap step failed, retrying...", "step", what, "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
