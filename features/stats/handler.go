// Package stats reports ingestion health for the calling tenant.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"pdfchat/internal/middleware"
)

type JobCounter interface {
	Count(ctx context.Context, tenantID string) (int, error)
}

type Handler struct {
	jobs    JobCounter
	backend string
}

// NewHandler reports failed job counts from jobs. backend names the vector
// index in use.
func NewHandler(jobs JobCounter, backend string) *Handler {
	return &Handler{jobs: jobs, backend: backend}
}

type StatsResponse struct {
	FailedJobs    int    `json:"failed_jobs"`
	VectorBackend string `json:"vector_backend"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	count, err := h.jobs.Count(ctx, middleware.TenantID(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		middleware.WriteError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	middleware.WriteJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": StatsResponse{FailedJobs: count, VectorBackend: h.backend},
	})
}
