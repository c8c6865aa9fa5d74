// Package memory is an in-process vector index with brute-force cosine
// similarity. Vectors are lost on restart.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"pdfchat/internal/apperr"
	"pdfchat/internal/vector"
)

type Store struct {
	mu         sync.RWMutex
	partitions map[string]map[string]vector.Record
}

func NewStore() *Store {
	return &Store{partitions: make(map[string]map[string]vector.Record)}
}

func (s *Store) Upsert(ctx context.Context, partition string, records []vector.Record) error {
	if partition == "" {
		return apperr.ErrMissingTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]vector.Record)
		s.partitions[partition] = p
	}
	for _, r := range records {
		p[r.ID] = r
	}
	return nil
}

func (s *Store) Query(ctx context.Context, partition string, vec []float32, k int) ([]vector.Hit, error) {
	if partition == "" {
		return nil, apperr.ErrMissingTenant
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.partitions[partition]
	hits := make([]vector.Hit, 0, len(p))
	for _, r := range p {
		hits = append(hits, vector.Hit{Chunk: r.Chunk, Score: cosine(r.Vector, vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Chunk.Location.Index < hits[j].Chunk.Location.Index
		}
		return hits[i].Score > hits[j].Score
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of records stored for partition.
func (s *Store) Len(partition string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition])
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
