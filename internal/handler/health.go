package handler

import (
	"net/http"

	natsclient "github.com/capitalize-ai/chatsync/internal/nats"
)

// SessionChecker reports whether the chat session is usable.
type SessionChecker interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	session    SessionChecker
}

// NewHealthHandler creates a new health handler. A nil natsClient skips the
// NATS check.
func NewHealthHandler(natsClient *natsclient.Client, session SessionChecker) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		session:    session,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if !h.session.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "session not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
