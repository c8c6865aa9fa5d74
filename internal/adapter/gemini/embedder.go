package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxBatch is the API limit on requests per batchEmbedContents call.
const maxBatch = 100

type EmbedderConfig struct {
	Model     string
	BatchSize int
	// RatePerSec caps outgoing embedding requests. Zero disables the limit.
	RatePerSec float64
	// Parallel is the number of batch requests in flight.
	Parallel int
}

type Embedder struct {
	client    *genai.Client
	model     string
	batchSize int
	parallel  int
	limiter   *rate.Limiter
}

func NewEmbedder(client *genai.Client, cfg EmbedderConfig) *Embedder {
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxBatch {
		cfg.BatchSize = maxBatch
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 2
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Embedder{
		client:    client,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		parallel:  cfg.Parallel,
		limiter:   limiter,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch returns one vector per text, in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		slog.ErrorContext(ctx, "batch embedding failed", "size", len(texts), "error", err)
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}
