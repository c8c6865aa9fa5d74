package retrieval

import (
	"strings"

	"pdfchat/internal/vector"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role string
	Text string
}

// BuildContext joins hit contents in rank order.
func BuildContext(hits []vector.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Chunk.Content)
	}
	return strings.Join(parts, ContextSeparator)
}

// BuildMessages returns the context turn followed by the question turn.
func BuildMessages(context, query string) []Message {
	return []Message{
		{Role: RoleUser, Text: "Context:" + context},
		{Role: RoleUser, Text: `Based on the context, answer the following question: "` + query + `"`},
	}
}
