package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/identity"
)

const maxInteractionsLimit = 200

// InteractionLister reads a user's audit rows.
type InteractionLister interface {
	ListInteractions(ctx context.Context, userID string, limit int) ([]*domain.Interaction, error)
}

// InteractionsHandler exposes the caller's own audit history.
type InteractionsHandler struct {
	store InteractionLister
}

// NewInteractionsHandler creates a new interactions handler.
func NewInteractionsHandler(store InteractionLister) *InteractionsHandler {
	return &InteractionsHandler{store: store}
}

type interactionResponse struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Model          string         `json:"model"`
	PromptLength   int            `json:"prompt_length"`
	ResponseLength int            `json:"response_length"`
	Outcome        domain.Outcome `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`
}

// List handles GET /api/interactions.
func (h *InteractionsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInteractionsLimit)
	}

	rows, err := h.store.ListInteractions(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list interactions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list interactions")
		return
	}

	out := make([]interactionResponse, 0, len(rows))
	for _, in := range rows {
		out = append(out, interactionResponse{
			ID:             in.ID,
			SessionID:      in.SessionID,
			Model:          in.Model,
			PromptLength:   in.PromptLength,
			ResponseLength: in.ResponseLength,
			Outcome:        in.Outcome,
			Error:          in.Error,
			DurationMs:     in.Duration.Milliseconds(),
			CreatedAt:      in.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"interactions": out})
}

// RegisterRoutes registers the interactions route.
func (h *InteractionsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/interactions", h.List)
}
