package qdrant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/apperr"
	"pdfchat/internal/vector"
)

type fakeAPI struct {
	mu          sync.Mutex
	collections map[string]uint64
	points      map[string][]*qdrant.PointStruct
	queried     []string
	upsertErr   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{collections: map[string]uint64{}, points: map[string][]*qdrant.PointStruct{}}
}

func (f *fakeAPI) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeAPI) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[req.CollectionName] = req.VectorsConfig.GetParams().GetSize()
	return nil
}

func (f *fakeAPI) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[req.CollectionName] = append(f.points[req.CollectionName], req.Points...)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeAPI) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, req.CollectionName)
	var out []*qdrant.ScoredPoint
	for _, p := range f.points[req.CollectionName] {
		out = append(out, &qdrant.ScoredPoint{Id: p.Id, Payload: p.Payload, Score: 0.9})
	}
	if req.Limit != nil && uint64(len(out)) > *req.Limit {
		out = out[:*req.Limit]
	}
	return out, nil
}

func record(tenant, content string, idx int) vector.Record {
	return vector.NewRecord(vector.Chunk{
		Content:      content,
		TenantID:     tenant,
		DocumentName: "doc.pdf",
		JobID:        "job-" + tenant,
		Location:     vector.Location{Page: 1, Offset: idx * 250, Index: idx},
	}, []float32{0.1, 0.2, 0.3})
}

func TestStore_Collection(t *testing.T) {
	s := NewStore(newFakeAPI(), "pdfchat")
	assert.Equal(t, "pdfchat_"+vector.PartitionName("user-1"), s.Collection("user-1"))
	assert.NotEqual(t, s.Collection("user-1"), s.Collection("user-2"))
	assert.NotEqual(t, s.Collection("a/b.c"), s.Collection("a_b_c"))
}

func TestStore_QueryIsolation_SimilarTenantIDs(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, "pdfchat")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "alice_smith", []vector.Record{record("alice_smith", "B secret", 0)}))

	for _, tenant := range []string{"alice.smith", "alice@smith", "alice-smith"} {
		hits, err := s.Query(ctx, tenant, []float32{0.1, 0.2, 0.3}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits, "tenant %q", tenant)
	}

	hits, err := s.Query(ctx, "alice_smith", []float32{0.1, 0.2, 0.3}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "B secret", hits[0].Chunk.Content)
}

func TestStore_UpsertCreatesCollectionPerTenant(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, "pdfchat")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "user-1", []vector.Record{record("user-1", "mine", 0)}))
	require.NoError(t, s.Upsert(ctx, "user-2", []vector.Record{record("user-2", "theirs", 0)}))

	assert.Equal(t, uint64(3), api.collections[s.Collection("user-1")])
	assert.Len(t, api.points[s.Collection("user-1")], 1)
	assert.Len(t, api.points[s.Collection("user-2")], 1)
}

func TestStore_QueryIsolation(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, "pdfchat")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "user-1", []vector.Record{record("user-1", "mine", 0), record("user-1", "also mine", 1)}))
	require.NoError(t, s.Upsert(ctx, "user-2", []vector.Record{record("user-2", "theirs", 0)}))

	hits, err := s.Query(ctx, "user-1", []float32{0.1, 0.2, 0.3}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "user-1", h.Chunk.TenantID)
	}
	assert.Equal(t, "also mine", hits[1].Chunk.Content)
	assert.Equal(t, 1, hits[1].Chunk.Location.Index)
	assert.Equal(t, 250, hits[1].Chunk.Location.Offset)
	assert.Equal(t, []string{s.Collection("user-1")}, api.queried)
}

func TestStore_QueryUnknownTenant(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, "pdfchat")

	hits, err := s.Query(context.Background(), "nobody", []float32{1}, 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, api.queried)
}

func TestStore_Errors(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, "pdfchat")
	ctx := context.Background()

	assert.ErrorIs(t, s.Upsert(ctx, "", []vector.Record{record("x", "y", 0)}), apperr.ErrMissingTenant)
	_, err := s.Query(ctx, "", []float32{1}, 2)
	assert.ErrorIs(t, err, apperr.ErrMissingTenant)

	assert.NoError(t, s.Upsert(ctx, "user-1", nil))

	api.upsertErr = errors.New("unavailable")
	assert.ErrorContains(t, s.Upsert(ctx, "user-1", []vector.Record{record("user-1", "y", 0)}), "unavailable")
}
