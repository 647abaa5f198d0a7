package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.List(r.Context()))
}

// Open handles POST /api/v1/conversations
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req model.OpenConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePhone(req.Phone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Open(r.Context(), req.Phone)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, conv)
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("failed to open conversation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open conversation")
	}
}

// MarkRead handles POST /api/v1/conversations/{phone}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	if err := middleware.ValidatePhone(phone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.MarkRead(r.Context(), phone)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		h.logger.Error("failed to mark conversation read", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to mark conversation read")
	}
}
