package memory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/refaxbot/refaxbot/internal/api"
)

// Handler exposes read-only memory inspection for support agents.
type Handler struct {
	svc *Service
}

// NewHandler creates a new memory handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Get returns the conversation memory with derived behavior patterns.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.HandleError(w, api.NewBadRequestError("conversation id is required"))
		return
	}

	mem, ok, err := h.svc.Snapshot(r.Context(), conversationID)
	if err != nil {
		slog.Error("getting conversation memory", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if !ok {
		api.HandleError(w, api.NewNotFoundError("conversation not found"))
		return
	}

	api.JSON(w, http.StatusOK, mem)
}

// Context returns the flattened context the prompt assembler would see.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if _, ok, err := h.svc.Get(r.Context(), conversationID); err != nil {
		slog.Error("getting conversation memory", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	} else if !ok {
		api.HandleError(w, api.NewNotFoundError("conversation not found"))
		return
	}

	llmCtx, err := h.svc.BuildLLMContext(r.Context(), conversationID)
	if err != nil {
		slog.Error("building llm context", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, llmCtx)
}
