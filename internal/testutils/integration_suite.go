// Package testutils starts the backing services used by integration tests.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"pdfchat/internal/config"
	"pdfchat/internal/queue"
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	Queue    *queue.Client

	WeaviateHost string
	// nsqd TCP and HTTP addresses
	NSQDHost string
	NSQDHTTP string

	pgHost string
	pgPort int

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	s.setupPostgres(ctx)
	s.setupWeaviate(ctx)
	s.setupNSQ(ctx)
}

func (s *IntegrationSuite) setupPostgres(ctx context.Context) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pdfchat_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.pgHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.pgPort = pgPort.Int()

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) setupWeaviate(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.28.2",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.WeaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{
		Host:   s.WeaviateHost,
		Scheme: "http",
	})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) setupNSQ(ctx context.Context) {
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	host, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	tcpPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.NSQDHost = fmt.Sprintf("%s:%s", host, tcpPort.Port())
	s.NSQDHTTP = fmt.Sprintf("%s:%s", host, httpPort.Port())

	s.Queue = queue.NewClient(queue.ClientConfig{
		NSQDHost:    s.NSQDHost,
		NSQDHTTP:    s.NSQDHTTP,
		Channel:     "integration",
		Concurrency: 1,
	})
	require.NoError(s.T, s.Queue.Connect(ctx))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.Queue != nil {
		s.Queue.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}

// AppConfig points a valid configuration at the suite's containers.
func (s *IntegrationSuite) AppConfig() *config.Config {
	return &config.Config{
		DBHost:        s.pgHost,
		DBPort:        s.pgPort,
		DBUser:        "test",
		DBPass:        "test",
		DBName:        "pdfchat_test",
		MigrationPath: MigrationPath(),

		VectorBackend:  config.BackendWeaviate,
		WeaviateHost:   s.WeaviateHost,
		WeaviateScheme: "http",
		WeaviateClass:  "DocumentChunk",

		NSQDHost:             s.NSQDHost,
		NSQDHTTP:             s.NSQDHTTP,
		NSQChannel:           "ingestion-worker",
		IngestionConcurrency: 1,

		GeminiAPIKey:   "test-key",
		EmbedModel:     "gemini-embedding-001",
		GenModel:       "gemini-1.5-flash",
		EmbedBatchSize: 50,

		ChunkSize:       300,
		ChunkOverlap:    50,
		MaxChunkChars:   8000,
		RetrievalTopK:   2,
		JobMaxAttempts:  3,
		CallMaxAttempts: 3,
		RetryBaseDelay:  100 * time.Millisecond,
		RetryMaxDelay:   time.Second,
		JobTimeout:      time.Minute,
		FetchTimeout:    10 * time.Second,
		EmbedTimeout:    10 * time.Second,
		IndexTimeout:    10 * time.Second,
		GenerateTimeout: 10 * time.Second,

		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,

		AWSRegion:       "us-east-1",
		TenantHeader:    "X-User-ID",
		UploadDir:       s.T.TempDir(),
		QueryLogPath:    filepath.Join(s.T.TempDir(), "query.log"),
		MaxUploadSizeMB: 50,
	}
}

// MigrationPath is the file:// URL of the repository migrations.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}
