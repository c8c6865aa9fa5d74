package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/adapter/memory"
	"pdfchat/internal/app"
	"pdfchat/internal/config"
)

type statefulSchema struct {
	callCount int
	failUntil int
}

func (m *statefulSchema) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failUntil int
		attempts  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, 1, false, 1},
		{"recovers", 2, 5, false, 3},
		{"gives up", 10, 3, true, 3},
		{"zero attempts still tries once", 0, 0, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &statefulSchema{failUntil: tt.failUntil}
			err := app.EnsureSchemaWithRetry(context.Background(), s, tt.attempts, time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, s.callCount)
		})
	}
}

func TestEnsureSchemaWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &statefulSchema{failUntil: 10}
	err := app.EnsureSchemaWithRetry(ctx, s, 5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.callCount)
}

func TestNewIndex(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		idx, err := app.NewIndex(context.Background(), &config.Config{VectorBackend: config.BackendMemory}, 0)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, idx)
	})

	t.Run("qdrant bad address", func(t *testing.T) {
		_, err := app.NewIndex(context.Background(), &config.Config{VectorBackend: config.BackendQdrant, QdrantURL: "no-port"}, 0)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := app.NewIndex(context.Background(), &config.Config{VectorBackend: "pinecone"}, 0)
		assert.Error(t, err)
	})
}

func TestBootstrap_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, time.Since(start), 5*time.Second)
}
