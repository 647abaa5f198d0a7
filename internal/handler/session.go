package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Status handles GET /api/v1/session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status(r.Context()))
}

// Connect handles POST /api/v1/session/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.service.Connect(ctx)
	writeJSON(w, http.StatusAccepted, h.service.Status(ctx))
}

// Disconnect handles POST /api/v1/session/disconnect
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Disconnect(ctx); err != nil {
		h.logger.Error("failed to disconnect session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.service.Status(ctx))
}

// Sync handles POST /api/v1/session/sync
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	scheduled := h.service.TriggerReconciliation(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]bool{
		"scheduled": scheduled,
	})
}
