package job

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"pdfchat/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List returns the caller's failed jobs.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantID(ctx)

	slog.InfoContext(ctx, "listing failed jobs")

	jobs, err := h.service.List(ctx, tenantID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list jobs", "error", err)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if jobs == nil {
		jobs = []Job{}
	}

	middleware.WriteJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs)},
	})
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	slog.InfoContext(ctx, "retrying job", "id", id)

	if err := h.service.Retry(ctx, middleware.TenantID(ctx), id); err != nil {
		slog.ErrorContext(ctx, "failed to retry job", "id", id, "error", err)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			middleware.WriteError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
		case errors.Is(err, ErrNotRetryable):
			middleware.WriteError(ctx, w, "UNPROCESSABLE", err.Error(), http.StatusUnprocessableEntity)
		default:
			middleware.WriteError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	middleware.WriteJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": "job retried"})
}
