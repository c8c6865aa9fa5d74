package gemini

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// NewClient builds the shared Gemini client used by the embedder and the
// generator. The client is safe for concurrent use.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*genai.Client, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	return genai.NewClient(ctx, opts...)
}
