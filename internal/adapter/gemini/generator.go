package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"pdfchat/internal/retrieval"
)

type Generator struct {
	client *genai.Client
	model  string
}

func NewGenerator(client *genai.Client, model string) *Generator {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Generator{client: client, model: model}
}

// Generate sends the conversation and returns the model's reply verbatim.
func (g *Generator) Generate(ctx context.Context, messages []retrieval.Message) (string, error) {
	contents := toContents(messages)
	if len(contents) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	m := g.client.GenerativeModel(g.model)
	cs := m.StartChat()
	cs.History = contents[:len(contents)-1]

	resp, err := cs.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate: no candidates returned")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// toContents groups consecutive messages of the same role into one turn,
// since the API expects roles to alternate.
func toContents(messages []retrieval.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := msg.Role
		if role == "" || role == retrieval.RoleUser {
			role = "user"
		} else {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(msg.Text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text)}})
	}
	return contents
}
