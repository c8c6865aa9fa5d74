// Package upload accepts PDF uploads and queues them for ingestion.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pdfchat/internal/apperr"
	"pdfchat/internal/middleware"
	"pdfchat/internal/queue"
)

const queuedMessage = "File uploaded and queued successfully"

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.UploadJob) (string, error)
}

type Handler struct {
	queue     Enqueuer
	uploadDir string
	maxBytes  int64
}

// NewHandler builds the upload handler. Multipart uploads are written under
// uploadDir and capped at maxBytes.
func NewHandler(q Enqueuer, uploadDir string, maxBytes int64) *Handler {
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Handler{queue: q, uploadDir: uploadDir, maxBytes: maxBytes}
}

type pdfRequest struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
}

// PDF queues a document that is already reachable by URL.
func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pdfRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.FileURL) == "" {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "Missing fileUrl", http.StatusBadRequest)
		return
	}
	// local paths are only queued by Multipart, for files it saved itself
	if !remoteURL(req.FileURL) {
		middleware.WriteError(ctx, w, "VALIDATION_ERROR", "fileUrl must be an http(s) or s3 URL", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = nameFromURL(req.FileURL)
	}

	slog.InfoContext(ctx, "queueing pdf from url", "document", name)
	h.enqueue(w, r, queue.UploadJob{
		TenantID:      middleware.TenantID(ctx),
		SourceLocator: strings.TrimSpace(req.FileURL),
		DocumentName:  name,
	}, "")
}

// Multipart stores an uploaded PDF under the upload directory and queues its
// local path.
func (h *Handler) Multipart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		middleware.WriteError(ctx, w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(ctx, w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		middleware.WriteError(ctx, w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = filepath.Base(header.Filename)
	}

	dst, err := h.save(file, header.Filename)
	if err != nil {
		slog.ErrorContext(ctx, "failed to save upload", "error", err)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "queueing uploaded pdf", "document", name, "path", dst)
	h.enqueue(w, r, queue.UploadJob{
		TenantID:      middleware.TenantID(ctx),
		SourceLocator: dst,
		DocumentName:  name,
	}, dst)
}

func (h *Handler) save(src io.Reader, filename string) (string, error) {
	dir, err := filepath.Abs(h.uploadDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	target := filepath.Join(dir, fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(filename)))
	dst, err := os.Create(target) // #nosec G304 -- uuid prefixed basename
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, nil
}

// enqueue writes the queued response, removing saved when the job is refused.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, job queue.UploadJob, saved string) {
	ctx := r.Context()

	id, err := h.queue.Enqueue(ctx, job)
	if err != nil {
		if saved != "" {
			if removeErr := os.Remove(saved); removeErr != nil {
				slog.WarnContext(ctx, "failed to clean up uploaded file", "error", removeErr, "path", saved)
			}
		}
		switch {
		case errors.Is(err, apperr.ErrInvalidJob):
			middleware.WriteError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		case errors.Is(err, apperr.ErrQueueUnavailable):
			slog.ErrorContext(ctx, "queue unavailable", "error", err)
			middleware.WriteError(ctx, w, "QUEUE_UNAVAILABLE", "Ingestion queue is unavailable", http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(ctx, "failed to queue upload", "error", err)
			middleware.WriteError(ctx, w, "INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	slog.InfoContext(ctx, "job added to queue", "job_id", id)
	middleware.WriteJSON(ctx, w, http.StatusOK, map[string]string{
		"message": queuedMessage,
		"job_id":  id,
	})
}

func remoteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return true
	}
	return false
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		return base
	}
	if u.Host != "" {
		return u.Host
	}
	return raw
}
