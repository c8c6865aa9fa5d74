// Package chat serves answers grounded in the caller's documents.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"pdfchat/internal/apperr"
	"pdfchat/internal/middleware"
)

type Answerer interface {
	Answer(ctx context.Context, tenantID, query string) (string, error)
}

type Handler struct {
	answerer Answerer
}

func NewHandler(a Answerer) *Handler {
	return &Handler{answerer: a}
}

// Chat answers the "message" query parameter.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query().Get("message")

	answer, err := h.answerer.Answer(ctx, middleware.TenantID(ctx), query)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrEmptyQuery):
			middleware.WriteError(ctx, w, "VALIDATION_ERROR", "Missing or empty 'message' query parameter.", http.StatusBadRequest)
		case errors.Is(err, apperr.ErrMissingTenant):
			middleware.WriteError(ctx, w, "UNAUTHORIZED", "Unauthorized", http.StatusUnauthorized)
		case errors.Is(err, apperr.ErrRetrieval), errors.Is(err, apperr.ErrGeneration):
			slog.ErrorContext(ctx, "chat failed", "error", err)
			middleware.WriteError(ctx, w, "UPSTREAM_ERROR", "Failed to process chat message.", http.StatusBadGateway)
		default:
			slog.ErrorContext(ctx, "chat failed", "error", err)
			middleware.WriteError(ctx, w, "INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	middleware.WriteJSON(ctx, w, http.StatusOK, map[string]string{"llmChatResult": answer})
}
