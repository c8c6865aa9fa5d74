package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/adapter/memory"
	"pdfchat/internal/apperr"
	"pdfchat/internal/extract"
	"pdfchat/internal/ingest"
	"pdfchat/internal/queue"
	"pdfchat/internal/text"
	"pdfchat/internal/vector"
)

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, locator string) (ingest.Source, error) {
	args := m.Called(ctx, locator)
	return args.Get(0).(ingest.Source), args.Error(1)
}

type extractorFunc func(ctx context.Context, path string) (extract.Document, error)

func (f extractorFunc) Extract(ctx context.Context, path string) (extract.Document, error) {
	return f(ctx, path)
}

func pages(texts ...string) extractorFunc {
	return func(context.Context, string) (extract.Document, error) {
		var doc extract.Document
		for i, t := range texts {
			doc.Segments = append(doc.Segments, text.Segment{Page: i + 1, Text: t})
		}
		return doc, nil
	}
}

// fakeEmbedder returns a fixed vector per text and records every batch.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	fail    int
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail > 0 {
		e.fail--
		return nil, errors.New("503 service unavailable")
	}
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(len(texts[i]))}
	}
	return out, nil
}

func (e *fakeEmbedder) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var all []string
	for _, b := range e.batches {
		all = append(all, b...)
	}
	return all
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Upsert(ctx context.Context, partition string, records []vector.Record) error {
	return m.Called(ctx, partition, records).Error(0)
}

func (m *MockIndex) Query(ctx context.Context, partition string, vec []float32, k int) ([]vector.Hit, error) {
	args := m.Called(ctx, partition, vec, k)
	return args.Get(0).([]vector.Hit), args.Error(1)
}

func invoiceJob(tenant string) queue.UploadJob {
	return queue.UploadJob{
		TenantID:      tenant,
		SourceLocator: "/uploads/invoice.pdf",
		DocumentName:  "invoice.pdf",
	}
}

func localFetcher() *MockFetcher {
	f := new(MockFetcher)
	f.On("Fetch", mock.Anything, "/uploads/invoice.pdf").Return(ingest.Source{Path: "/uploads/invoice.pdf"}, nil)
	return f
}

func defaultOptions() ingest.Options {
	return ingest.Options{
		ChunkSize:     300,
		ChunkOverlap:  50,
		MaxChunkChars: 8000,
		BatchSize:     50,
		EmbedTimeout:  time.Second,
		IndexTimeout:  time.Second,
		Policy:        fastPolicy(3),
	}
}

func TestPipeline_InvoiceScenario(t *testing.T) {
	store := memory.NewStore()
	emb := &fakeEmbedder{}
	p := ingest.NewPipeline(localFetcher(), pages(strings.Repeat("A", 10000)), emb, store, defaultOptions())

	d := &queue.Delivery{ID: "job-1", Job: invoiceJob("u1"), Attempt: 1}
	res := p.Process(context.Background(), d)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)

	assert.Equal(t, 40, store.Len("u1"))
	assert.Equal(t, 0, store.Len("u2"))
	assert.Len(t, emb.texts(), 40)

	hits, err := store.Query(context.Background(), "u1", []float32{1, 300}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "u1", h.Chunk.TenantID)
		assert.Equal(t, "invoice.pdf", h.Chunk.DocumentName)
		assert.Equal(t, "job-1", h.Chunk.JobID)
		assert.Equal(t, 1, h.Chunk.Location.Page)
	}

	none, err := store.Query(context.Background(), "u2", []float32{1, 300}, 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPipeline_Redelivery(t *testing.T) {
	store := memory.NewStore()
	p := ingest.NewPipeline(localFetcher(), pages(strings.Repeat("A", 10000)), &fakeEmbedder{}, store, defaultOptions())

	d := &queue.Delivery{ID: "job-1", Job: invoiceJob("u1"), Attempt: 1}
	require.True(t, p.Process(context.Background(), d).OK())

	d.Attempt = 2
	require.True(t, p.Process(context.Background(), d).OK())
	assert.Equal(t, 40, store.Len("u1"))
}

func TestPipeline_FiltersWhitespaceChunks(t *testing.T) {
	idx := new(MockIndex)
	idx.On("Upsert", mock.Anything, "u1", mock.MatchedBy(func(records []vector.Record) bool {
		for _, r := range records {
			if text.IsBlank(r.Chunk.Content) {
				return false
			}
		}
		return len(records) == 2
	})).Return(nil).Once()

	emb := &fakeEmbedder{}
	p := ingest.NewPipeline(localFetcher(), pages("   \n\t  ", "  total due: 42  ", "\n\n", "paid"), emb, idx, defaultOptions())

	n, err := p.Ingest(context.Background(), "job-1", invoiceJob("u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"total due: 42", "paid"}, emb.texts())
	idx.AssertExpectations(t)
}

func TestPipeline_TruncatesChunks(t *testing.T) {
	store := memory.NewStore()
	emb := &fakeEmbedder{}
	opts := defaultOptions()
	opts.MaxChunkChars = 10
	p := ingest.NewPipeline(localFetcher(), pages(strings.Repeat("é", 100)), emb, store, opts)

	n, err := p.Ingest(context.Background(), "job-1", invoiceJob("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, emb.texts(), 1)
	assert.Equal(t, strings.Repeat("é", 10), emb.texts()[0])
}

func TestPipeline_Batches(t *testing.T) {
	store := memory.NewStore()
	emb := &fakeEmbedder{}
	opts := defaultOptions()
	opts.BatchSize = 16
	p := ingest.NewPipeline(localFetcher(), pages(strings.Repeat("A", 10000)), emb, store, opts)

	n, err := p.Ingest(context.Background(), "job-1", invoiceJob("u1"))
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	emb.mu.Lock()
	defer emb.mu.Unlock()
	require.Len(t, emb.batches, 3)
	assert.Len(t, emb.batches[0], 16)
	assert.Len(t, emb.batches[2], 8)
}

func TestPipeline_NoTextIsNoop(t *testing.T) {
	idx := new(MockIndex)
	emb := &fakeEmbedder{}
	p := ingest.NewPipeline(localFetcher(), pages("", "   "), emb, idx, defaultOptions())

	res := p.Process(context.Background(), &queue.Delivery{ID: "job-1", Job: invoiceJob("u1"), Attempt: 1})
	assert.True(t, res.OK())
	assert.Empty(t, emb.texts())
	idx.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Failures(t *testing.T) {
	tests := []struct {
		name      string
		fetcher   func() *MockFetcher
		extractor extractorFunc
		embedFail int
		upsertErr error
		job       queue.UploadJob
		wantErr   error
		wantKind  apperr.Kind
	}{
		{
			name:     "invalid job",
			fetcher:  func() *MockFetcher { return new(MockFetcher) },
			job:      queue.UploadJob{TenantID: "u1", SourceLocator: "relative.pdf", DocumentName: "x"},
			wantErr:  apperr.ErrInvalidJob,
			wantKind: apperr.KindTerminal,
		},
		{
			name: "fetch failure",
			fetcher: func() *MockFetcher {
				f := new(MockFetcher)
				f.On("Fetch", mock.Anything, mock.Anything).Return(ingest.Source{}, fmt.Errorf("%w: timeout", apperr.ErrSourceUnavailable))
				return f
			},
			job:      invoiceJob("u1"),
			wantErr:  apperr.ErrSourceUnavailable,
			wantKind: apperr.KindTransient,
		},
		{
			name:    "unparsable document",
			fetcher: localFetcher,
			extractor: func(context.Context, string) (extract.Document, error) {
				return extract.Document{}, fmt.Errorf("%w: not a pdf", apperr.ErrUnparsableDocument)
			},
			job:      invoiceJob("u1"),
			wantErr:  apperr.ErrUnparsableDocument,
			wantKind: apperr.KindTerminal,
		},
		{
			name:      "embedding keeps failing",
			fetcher:   localFetcher,
			extractor: pages("some text"),
			embedFail: 10,
			job:       invoiceJob("u1"),
			wantKind:  apperr.KindTransient,
		},
		{
			name:      "upsert failure",
			fetcher:   localFetcher,
			extractor: pages("some text"),
			upsertErr: errors.New("connection refused"),
			job:       invoiceJob("u1"),
			wantKind:  apperr.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := new(MockIndex)
			idx.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(tt.upsertErr)

			x := tt.extractor
			if x == nil {
				x = pages("unused")
			}
			p := ingest.NewPipeline(tt.fetcher(), x, &fakeEmbedder{fail: tt.embedFail}, idx, defaultOptions())

			res := p.Process(context.Background(), &queue.Delivery{ID: "job-1", Job: tt.job, Attempt: 1})
			require.False(t, res.OK())
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			}
			assert.Equal(t, tt.wantKind, apperr.Classify(res.Err))
		})
	}
}

func TestPipeline_RetriesTransientEmbedFailure(t *testing.T) {
	store := memory.NewStore()
	emb := &fakeEmbedder{fail: 2}
	p := ingest.NewPipeline(localFetcher(), pages("hello world"), emb, store, defaultOptions())

	n, err := p.Ingest(context.Background(), "job-1", invoiceJob("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len("u1"))
}

func TestPipeline_RemovesDownloadedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not really a pdf"))
	}))
	defer srv.Close()

	tmp := t.TempDir()
	fetcher := ingest.NewFetcher(srv.Client(), nil, ingest.FetcherConfig{TempDir: tmp, Timeout: time.Second, Policy: fastPolicy(1)})

	job := queue.UploadJob{TenantID: "u1", SourceLocator: srv.URL + "/invoice.pdf", DocumentName: "invoice.pdf"}

	failing := func(context.Context, string) (extract.Document, error) {
		return extract.Document{}, apperr.ErrUnparsableDocument
	}
	p := ingest.NewPipeline(fetcher, extractorFunc(failing), &fakeEmbedder{}, memory.NewStore(), defaultOptions())
	_, err := p.Ingest(context.Background(), "job-1", job)
	require.ErrorIs(t, err, apperr.ErrUnparsableDocument)
	assertEmptyDir(t, tmp)

	store := memory.NewStore()
	p = ingest.NewPipeline(fetcher, pages("paid in full"), &fakeEmbedder{}, store, defaultOptions())
	_, err = p.Ingest(context.Background(), "job-2", job)
	require.NoError(t, err)
	assertEmptyDir(t, tmp)
	assert.Equal(t, 1, store.Len("u1"))
}
