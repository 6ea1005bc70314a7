package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/refaxbot/refaxbot/internal/api"
	"github.com/refaxbot/refaxbot/internal/auth"
	"github.com/refaxbot/refaxbot/internal/memory"
)

type MessageRequest struct {
	UserID        string            `json:"user_id" validate:"required,max=128"`
	PhoneNumber   string            `json:"phone_number" validate:"omitempty,max=32"`
	PointOfSaleID string            `json:"point_of_sale_id" validate:"omitempty,max=64"`
	Message       string            `json:"message" validate:"required,max=4096"`
	Metadata      map[string]string `json:"metadata"`
}

type EndRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed abandoned escalated"`
}

type EndResponse struct {
	ConversationID string                      `json:"conversation_id"`
	Summary        *memory.ConversationSummary `json:"summary,omitempty"`
}

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// PostMessage runs one turn and returns the detailed orchestration result.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		api.HandleError(w, api.NewBadRequestError("conversation id is required"))
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	// A token bound to one store always speaks for that store.
	if claims := auth.GetServiceClaims(r.Context()); claims != nil && claims.PointOfSaleID != "" {
		req.PointOfSaleID = claims.PointOfSaleID
	}

	res, err := h.svc.ProcessMessageDetailed(r.Context(), conversationID, req.Message, MessageContext{
		UserID:        req.UserID,
		PhoneNumber:   req.PhoneNumber,
		PointOfSaleID: req.PointOfSaleID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		slog.Error("processing message", "error", err, "conversation_id", conversationID)
		if res == nil {
			api.HandleError(w, api.ErrInternalServer)
			return
		}
	}

	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	sess, err := h.svc.Get(r.Context(), conversationID)
	if errors.Is(err, ErrNotFound) {
		api.HandleError(w, api.NewNotFoundError("session not found"))
		return
	}
	if err != nil {
		slog.Error("getting session", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, sess)
}

// End finalizes the conversation, e.g. after a purchase or a hand-off to staff.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	summary, err := h.svc.EndSession(r.Context(), conversationID, memory.Outcome(req.Outcome))
	if errors.Is(err, ErrNotFound) {
		api.HandleError(w, api.NewNotFoundError("session not found"))
		return
	}
	if err != nil {
		slog.Error("ending session", "error", err, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, EndResponse{ConversationID: conversationID, Summary: summary})
}
