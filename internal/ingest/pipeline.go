package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pdfchat/internal/extract"
	"pdfchat/internal/queue"
	"pdfchat/internal/retry"
	"pdfchat/internal/text"
	"pdfchat/internal/vector"
)

type SourceFetcher interface {
	Fetch(ctx context.Context, locator string) (Source, error)
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxChunkChars int
	// BatchSize is how many chunks are embedded and upserted together.
	BatchSize    int
	EmbedTimeout time.Duration
	IndexTimeout time.Duration
	Policy       retry.Policy
}

// Pipeline processes one upload job end to end. It is safe for concurrent use.
type Pipeline struct {
	fetcher   SourceFetcher
	extractor extract.Extractor
	embedder  BatchEmbedder
	index     vector.Index
	opts      Options
}

func NewPipeline(f SourceFetcher, x extract.Extractor, e BatchEmbedder, idx vector.Index, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 300
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = 8000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Pipeline{fetcher: f, extractor: x, embedder: e, index: idx, opts: opts}
}

// Process implements queue.Handler.
func (p *Pipeline) Process(ctx context.Context, d *queue.Delivery) queue.Result {
	n, err := p.Ingest(ctx, d.ID, d.Job)
	if err != nil {
		return queue.Failed(err)
	}
	slog.InfoContext(ctx, "document indexed", "document", d.Job.DocumentName, "chunks", n)
	return queue.Succeeded()
}

// Ingest fetches, extracts, chunks, embeds and upserts one document, and
// returns the number of chunks written.
func (p *Pipeline) Ingest(ctx context.Context, jobID string, job queue.UploadJob) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}

	src, err := p.fetcher.Fetch(ctx, job.SourceLocator)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", job.DocumentName, err)
	}
	defer src.Cleanup()

	doc, err := p.extractor.Extract(ctx, src.Path)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", job.DocumentName, err)
	}
	slog.DebugContext(ctx, "extracted document", "pages", len(doc.Segments), "preview", doc.Preview(200))

	chunks, err := p.chunk(doc, jobID, job)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		slog.WarnContext(ctx, "no text to index", "document", job.DocumentName)
		return 0, nil
	}

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(chunks))
		if err := p.store(ctx, job.TenantID, chunks[start:end]); err != nil {
			return start, err
		}
	}
	return len(chunks), nil
}

func (p *Pipeline) chunk(doc extract.Document, jobID string, job queue.UploadJob) ([]vector.Chunk, error) {
	pieces, err := text.SplitSegments(doc.Segments, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", job.DocumentName, err)
	}

	chunks := make([]vector.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if text.IsBlank(piece.Text) {
			continue
		}
		chunks = append(chunks, vector.Chunk{
			Content:      text.Truncate(piece.Text, p.opts.MaxChunkChars),
			TenantID:     job.TenantID,
			DocumentName: job.DocumentName,
			JobID:        jobID,
			Location: vector.Location{
				Page:   piece.Page,
				Offset: piece.Offset,
				Index:  piece.Index,
			},
		})
	}
	return chunks, nil
}

func (p *Pipeline) store(ctx context.Context, tenantID string, chunks []vector.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := p.opts.Policy.DoTimeout(ctx, p.opts.EmbedTimeout, func(ctx context.Context) error {
		var err error
		vectors, err = p.embedder.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.NewRecord(c, vectors[i])
	}

	err = p.opts.Policy.DoTimeout(ctx, p.opts.IndexTimeout, func(ctx context.Context) error {
		return p.index.Upsert(ctx, tenantID, records)
	})
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}
