package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"pdfchat/internal/apperr"
	"pdfchat/internal/vector"
)

// API is the subset of *qdrant.Client used by Store.
type API interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Store gives every tenant its own collection, created on first write.
type Store struct {
	client API
	prefix string

	mu    sync.Mutex
	known map[string]bool
}

func NewStore(client API, prefix string) *Store {
	return &Store{client: client, prefix: prefix, known: make(map[string]bool)}
}

// NewClient dials Qdrant over gRPC. addr is host:port of the gRPC listener.
func NewClient(addr string) (*qdrant.Client, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant port: %w", err)
	}
	if host == "" {
		host = "localhost"
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return client, nil
}

// Collection is the collection name holding partition's vectors.
func (s *Store) Collection(partition string) string {
	return s.prefix + "_" + vector.PartitionName(partition)
}

func (s *Store) ensureCollection(ctx context.Context, collection string, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known[collection] {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		slog.InfoContext(ctx, "creating collection", "collection", collection, "vector_size", size)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// another worker may have won the race
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	s.known[collection] = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, partition string, records []vector.Record) error {
	if partition == "" {
		return apperr.ErrMissingTenant
	}
	if len(records) == 0 {
		return nil
	}

	collection := s.Collection(partition)
	if err := s.ensureCollection(ctx, collection, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":       r.Chunk.Content,
				"tenant_id":     r.Chunk.TenantID,
				"document_name": r.Chunk.DocumentName,
				"job_id":        r.Chunk.JobID,
				"page":          int64(r.Chunk.Location.Page),
				"offset":        int64(r.Chunk.Location.Offset),
				"chunk_index":   int64(r.Chunk.Location.Index),
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, partition string, vec []float32, k int) ([]vector.Hit, error) {
	if partition == "" {
		return nil, apperr.ErrMissingTenant
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	collection := s.Collection(partition)
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, nil
	}

	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]vector.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, vector.Hit{Chunk: chunkFromPayload(p.Payload), Score: p.Score})
	}
	return hits, nil
}

func chunkFromPayload(payload map[string]*qdrant.Value) vector.Chunk {
	str := func(k string) string {
		if v, ok := payload[k]; ok && v != nil {
			return v.GetStringValue()
		}
		return ""
	}
	num := func(k string) int {
		if v, ok := payload[k]; ok && v != nil {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	return vector.Chunk{
		Content:      str("content"),
		TenantID:     str("tenant_id"),
		DocumentName: str("document_name"),
		JobID:        str("job_id"),
		Location: vector.Location{
			Page:   num("page"),
			Offset: num("offset"),
			Index:  num("chunk_index"),
		},
	}
}
