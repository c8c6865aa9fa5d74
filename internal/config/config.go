package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"pdfchat/internal/apperr"
	"pdfchat/internal/retry"
)

var ErrMissingRequired = fmt.Errorf("%w: missing required configuration", apperr.ErrConfiguration)

const (
	BackendWeaviate = "weaviate"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"pdfchat"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"pdfchat"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Vector index
	VectorBackend          string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost           string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme         string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass          string `envconfig:"WEAVIATE_CLASS" default:"DocumentChunk"`
	QdrantURL              string `envconfig:"QDRANT_URL" default:"localhost:6334"`
	QdrantCollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" default:"pdfchat"`

	// Queue
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQChannel string `envconfig:"NSQ_CHANNEL" default:"ingestion-worker"`

	EnableAPI            bool `envconfig:"ENABLE_API" default:"true"`
	EnableWorker         bool `envconfig:"ENABLE_WORKER" default:"true"`
	IngestionConcurrency int  `envconfig:"INGESTION_CONCURRENCY" default:"1"`

	// Models
	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY"`
	EmbedModel      string  `envconfig:"EMBED_MODEL" default:"gemini-embedding-001"`
	GenModel        string  `envconfig:"GEN_MODEL" default:"gemini-1.5-flash"`
	EmbedBatchSize  int     `envconfig:"EMBED_BATCH_SIZE" default:"50"`
	EmbedRatePerSec float64 `envconfig:"EMBED_RATE_PER_SEC" default:"10"`

	// Pipeline
	ChunkSize     int `envconfig:"CHUNK_SIZE" default:"300"`
	ChunkOverlap  int `envconfig:"CHUNK_OVERLAP" default:"50"`
	MaxChunkChars int `envconfig:"MAX_CHUNK_CHARS" default:"8000"`
	RetrievalTopK int `envconfig:"RETRIEVAL_TOP_K" default:"2"`

	// Resilience
	JobMaxAttempts  int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	CallMaxAttempts int           `envconfig:"CALL_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"1m"`
	RetryJitter     float64       `envconfig:"RETRY_JITTER" default:"0.2"`
	JobTimeout      time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"2m"`
	EmbedTimeout    time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	IndexTimeout    time.Duration `envconfig:"INDEX_TIMEOUT" default:"30s"`
	GenerateTimeout time.Duration `envconfig:"GENERATE_TIMEOUT" default:"60s"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`

	// Sources
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
	TempDir   string `envconfig:"TEMP_DIR"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8000"`
	JWTSecret       string `envconfig:"JWT_SECRET"`
	TenantHeader    string `envconfig:"TENANT_HEADER" default:"X-User-ID"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case BackendQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("%w: QDRANT_URL", ErrMissingRequired)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", apperr.ErrConfiguration, c.VectorBackend)
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_SIZE", apperr.ErrConfiguration)
	}
	if c.IngestionConcurrency < 1 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY must be at least 1", apperr.ErrConfiguration)
	}
	return nil
}

// JobPolicy is the requeue policy applied to whole ingestion jobs.
func (c *Config) JobPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.JobMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
	}
}

// StagePolicy bounds the calls made inside an ingestion job to one attempt
// each. A failed stage fails the job, and JobPolicy decides the requeue, so
// JOB_MAX_ATTEMPTS is the total number of tries of any stage.
func (c *Config) StagePolicy() retry.Policy {
	p := c.JobPolicy()
	p.MaxAttempts = 1
	return p
}

// CallPolicy is the retry policy applied to single external calls on the
// query path.
func (c *Config) CallPolicy() retry.Policy {
	p := c.JobPolicy()
	p.MaxAttempts = c.CallMaxAttempts
	return p
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
