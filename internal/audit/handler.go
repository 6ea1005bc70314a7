package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/refaxbot/refaxbot/internal/api"
)

// Lister reads persisted turn logs.
type Lister interface {
	ListByConversation(ctx context.Context, conversationID string, params ListParams) ([]TurnLog, int64, error)
}

// Handler serves the turn history of a conversation.
type Handler struct {
	repo Lister
}

// NewHandler creates a new audit handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// ListTurns returns the paginated turn logs of a conversation.
func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.HandleError(w, api.NewBadRequestError("conversation id is required"))
		return
	}

	params := parseListParams(r)

	logs, total, err := h.repo.ListByConversation(r.Context(), conversationID, params)
	if err != nil {
		slog.Error("listing turn logs", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) ListParams {
	params := DefaultListParams()
	q := r.URL.Query()

	if in := q.Get("intent"); in != "" {
		params.Intent = in
	}
	if s := q.Get("success"); s != "" {
		if ok, err := strconv.ParseBool(s); err == nil {
			params.Success = &ok
		}
	}
	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}

	return params
}
