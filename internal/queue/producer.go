package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/apperr"
	"pdfchat/internal/middleware"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// Producer validates jobs and publishes them wrapped in an Envelope.
type Producer struct {
	pub   Publisher
	topic string
}

func NewProducer(pub Publisher, topic string) *Producer {
	return &Producer{pub: pub, topic: topic}
}

// Enqueue returns the id assigned to the job.
func (p *Producer) Enqueue(ctx context.Context, job UploadJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	env := Envelope{
		ID:            uuid.New().String(),
		Job:           job,
		CorrelationID: middleware.GetCorrelationID(ctx),
		EnqueuedAt:    time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrInvalidJob, err)
	}

	if err := p.pub.Publish(ctx, p.topic, body); err != nil {
		if !errors.Is(err, apperr.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %w", apperr.ErrQueueUnavailable, err)
		}
		return "", err
	}

	slog.InfoContext(ctx, "job enqueued", "job_id", env.ID, "topic", p.topic, "document", job.DocumentName)
	return env.ID, nil
}
