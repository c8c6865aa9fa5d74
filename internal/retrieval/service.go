// Package retrieval answers questions from a tenant's indexed documents.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pdfchat/internal/apperr"
	"pdfchat/internal/retry"
	"pdfchat/internal/text"
	"pdfchat/internal/vector"
)

// ContextSeparator joins retrieved chunks into the model context.
const ContextSeparator = "\n\n---\n\n"

const previewChars = 500

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	TopK            int
	EmbedTimeout    time.Duration
	IndexTimeout    time.Duration
	GenerateTimeout time.Duration
	Policy          retry.Policy
}

type Service struct {
	embedder  Embedder
	index     vector.Index
	generator Generator
	logger    *QueryLogger
	opts      Options
}

func NewService(e Embedder, idx vector.Index, g Generator, l *QueryLogger, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 2
	}
	return &Service{embedder: e, index: idx, generator: g, logger: l, opts: opts}
}

// Answer retrieves the tenant's closest chunks for query and asks the model to
// answer from them.
func (s *Service) Answer(ctx context.Context, tenantID, query string) (answer string, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperr.ErrEmptyQuery
	}
	if tenantID == "" {
		return "", apperr.ErrMissingTenant
	}

	start := time.Now()
	var hits []vector.Hit
	var contextText string
	defer func() {
		s.logger.Observe(ctx, QueryOutcome{
			TenantID: tenantID,
			Query:    query,
			Hits:     hits,
			Context:  contextText,
			Started:  start,
			Err:      err,
		})
	}()

	var vec []float32
	err = s.opts.Policy.DoTimeout(ctx, s.opts.EmbedTimeout, func(ctx context.Context) error {
		var embedErr error
		vec, embedErr = s.embedder.Embed(ctx, query)
		return embedErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: embed query: %w", apperr.ErrRetrieval, err)
	}

	err = s.opts.Policy.DoTimeout(ctx, s.opts.IndexTimeout, func(ctx context.Context) error {
		var queryErr error
		hits, queryErr = s.index.Query(ctx, tenantID, vec, s.opts.TopK)
		return queryErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: query index: %w", apperr.ErrRetrieval, err)
	}

	if len(hits) == 0 {
		slog.WarnContext(ctx, "no chunks found for query, generating without context")
	}

	contextText = BuildContext(hits)
	slog.InfoContext(ctx, "retrieved context", "hits", len(hits), "preview", text.Truncate(contextText, previewChars))

	messages := BuildMessages(contextText, query)
	err = s.opts.Policy.DoTimeout(ctx, s.opts.GenerateTimeout, func(ctx context.Context) error {
		var genErr error
		answer, genErr = s.generator.Generate(ctx, messages)
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
	}
	return answer, nil
}
