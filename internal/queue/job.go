// Package queue carries upload jobs from the HTTP surface to ingestion
// workers over NSQ, with at-least-once delivery and a dead-letter path.
package queue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"pdfchat/internal/apperr"
)

// UploadJob asks a worker to ingest one PDF for one tenant.
type UploadJob struct {
	TenantID      string `json:"tenant_id"`
	SourceLocator string `json:"source_locator"`
	DocumentName  string `json:"document_name"`
}

// Validate checks required fields and the locator form: an absolute local
// path, an http(s) URL or an s3://bucket/key URL.
func (j UploadJob) Validate() error {
	if strings.TrimSpace(j.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", apperr.ErrInvalidJob)
	}
	if strings.TrimSpace(j.DocumentName) == "" {
		return fmt.Errorf("%w: document_name is required", apperr.ErrInvalidJob)
	}
	loc := strings.TrimSpace(j.SourceLocator)
	if loc == "" {
		return fmt.Errorf("%w: source_locator is required", apperr.ErrInvalidJob)
	}
	if filepath.IsAbs(loc) {
		return nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return fmt.Errorf("%w: source_locator: %w", apperr.ErrInvalidJob, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: source_locator has no host", apperr.ErrInvalidJob)
		}
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("%w: source_locator must be s3://bucket/key", apperr.ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unsupported source_locator %q", apperr.ErrInvalidJob, loc)
	}
	return nil
}

// Envelope is the wire format of a queued job.
type Envelope struct {
	ID            string    `json:"id"`
	Job           UploadJob `json:"job"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", apperr.ErrInvalidJob, err)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("%w: envelope has no id", apperr.ErrInvalidJob)
	}
	if err := env.Job.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
