package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"pdfchat/internal/config"
	"pdfchat/internal/queue"
)

// ErrNotRetryable is returned when a failed job's payload is not a job envelope.
var ErrNotRetryable = errors.New("job payload cannot be republished")

type Service struct {
	repo Repository
	pub  queue.Publisher
}

func NewService(repo Repository, pub queue.Publisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context, tenantID string) ([]Job, error) {
	return s.repo.List(ctx, tenantID)
}

// Retry republishes a failed job and removes it from the table. The job keeps
// its original id so its vectors are overwritten rather than duplicated.
// Jobs owned by another tenant are reported as not found.
func (s *Service) Retry(ctx context.Context, tenantID, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if tenantID != "" && job.TenantID != tenantID {
		return sql.ErrNoRows
	}

	if _, err := queue.DecodeEnvelope(job.Payload); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRetryable, err)
	}

	if err := s.pub.Publish(ctx, config.TopicIngestUpload, job.Payload); err != nil {
		return err
	}

	slog.InfoContext(ctx, "failed job republished", "id", id, "job_id", job.JobID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context, tenantID string) (int, error) {
	return s.repo.Count(ctx, tenantID)
}

// DeadLetter implements queue.DeadLetterSink.
func (s *Service) DeadLetter(ctx context.Context, dl queue.DeadLetter) error {
	payload := dl.Payload
	if !json.Valid(payload) {
		// keep undecodable bodies inspectable in the JSONB column
		payload, _ = json.Marshal(string(dl.Payload))
	}
	return s.repo.Save(ctx, &Job{
		JobID:    dl.JobID,
		TenantID: dl.TenantID,
		Handler:  dl.Handler,
		Payload:  payload,
		Error:    dl.Error,
		Attempts: dl.Attempts,
	})
}
