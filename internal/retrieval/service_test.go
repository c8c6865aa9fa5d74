package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/apperr"
	"pdfchat/internal/retrieval"
	"pdfchat/internal/vector"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Upsert(ctx context.Context, partition string, records []vector.Record) error {
	return m.Called(ctx, partition, records).Error(0)
}

func (m *MockIndex) Query(ctx context.Context, partition string, vec []float32, k int) ([]vector.Hit, error) {
	args := m.Called(ctx, partition, vec, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Hit), args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Generate(ctx context.Context, messages []retrieval.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func hit(content string) vector.Hit {
	return vector.Hit{Chunk: vector.Chunk{Content: content}, Score: 0.9}
}

func TestService_Answer(t *testing.T) {
	ctx := context.Background()
	vec := []float32{0.1, 0.2}

	t.Run("Assembles Context From Top K", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		e.On("Embed", mock.Anything, "what is the total?").Return(vec, nil)
		idx.On("Query", mock.Anything, "user-1", vec, 2).Return([]vector.Hit{hit("Total: 42"), hit("Due: May")}, nil)
		g.On("Generate", mock.Anything, []retrieval.Message{
			{Role: retrieval.RoleUser, Text: "Context:Total: 42\n\n---\n\nDue: May"},
			{Role: retrieval.RoleUser, Text: `Based on the context, answer the following question: "what is the total?"`},
		}).Return("The total is 42.", nil)

		var buf bytes.Buffer
		svc := retrieval.NewService(e, idx, g, retrieval.NewQueryLogger(&buf), retrieval.Options{TopK: 2})
		answer, err := svc.Answer(ctx, "user-1", "  what is the total?  ")
		require.NoError(t, err)
		assert.Equal(t, "The total is 42.", answer)

		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "user-1", entry.TenantID)
		assert.Equal(t, 2, entry.NumResults)
		assert.Empty(t, entry.Error)

		e.AssertExpectations(t)
		idx.AssertExpectations(t)
		g.AssertExpectations(t)
	})

	t.Run("Zero Hits Still Generates", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		e.On("Embed", mock.Anything, mock.Anything).Return(vec, nil)
		idx.On("Query", mock.Anything, "user-1", vec, 2).Return([]vector.Hit{}, nil)
		g.On("Generate", mock.Anything, mock.MatchedBy(func(msgs []retrieval.Message) bool {
			return len(msgs) == 2 && msgs[0].Text == "Context:"
		})).Return("I don't know.", nil)

		svc := retrieval.NewService(e, idx, g, nil, retrieval.Options{})
		answer, err := svc.Answer(ctx, "user-1", "anything")
		require.NoError(t, err)
		assert.Equal(t, "I don't know.", answer)
		g.AssertExpectations(t)
	})

	t.Run("Blank Query Makes No Calls", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		svc := retrieval.NewService(e, idx, g, nil, retrieval.Options{})

		_, err := svc.Answer(ctx, "user-1", "   ")
		assert.ErrorIs(t, err, apperr.ErrEmptyQuery)
		e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
		idx.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		g.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Missing Tenant", func(t *testing.T) {
		svc := retrieval.NewService(new(MockEmbedder), new(MockIndex), new(MockGenerator), nil, retrieval.Options{})
		_, err := svc.Answer(ctx, "", "question")
		assert.ErrorIs(t, err, apperr.ErrMissingTenant)
	})

	t.Run("Embed Failure", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		cause := errors.New("quota exceeded")
		e.On("Embed", mock.Anything, mock.Anything).Return(nil, cause)

		var buf bytes.Buffer
		svc := retrieval.NewService(e, idx, g, retrieval.NewQueryLogger(&buf), retrieval.Options{})
		_, err := svc.Answer(ctx, "user-1", "q")
		assert.ErrorIs(t, err, apperr.ErrRetrieval)
		assert.ErrorIs(t, err, cause)
		g.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		assert.True(t, strings.Contains(buf.String(), "quota exceeded"))
	})

	t.Run("Index Failure", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		e.On("Embed", mock.Anything, mock.Anything).Return(vec, nil)
		idx.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		svc := retrieval.NewService(e, idx, g, nil, retrieval.Options{})
		_, err := svc.Answer(ctx, "user-1", "q")
		assert.ErrorIs(t, err, apperr.ErrRetrieval)
	})

	t.Run("Generation Failure Is Not Masked", func(t *testing.T) {
		e, idx, g := new(MockEmbedder), new(MockIndex), new(MockGenerator)
		e.On("Embed", mock.Anything, mock.Anything).Return(vec, nil)
		idx.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]vector.Hit{hit("x")}, nil)
		g.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("model overloaded"))

		svc := retrieval.NewService(e, idx, g, nil, retrieval.Options{})
		answer, err := svc.Answer(ctx, "user-1", "q")
		assert.ErrorIs(t, err, apperr.ErrGeneration)
		assert.Empty(t, answer)
	})
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "", retrieval.BuildContext(nil))
	assert.Equal(t, "a", retrieval.BuildContext([]vector.Hit{hit("a")}))
	assert.Equal(t, "a\n\n---\n\nb\n\n---\n\nc", retrieval.BuildContext([]vector.Hit{hit("a"), hit("b"), hit("c")}))
}
