package service

import (
	"context"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// SessionService exposes session control to the API layer.
type SessionService struct {
	session *session.Manager
	logger  *logger.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(mgr *session.Manager, log *logger.Logger) *SessionService {
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionService{
		session: mgr,
		logger:  log,
	}
}

// Status returns the session state.
func (s *SessionService) Status(ctx context.Context) model.SessionStatus {
	return s.session.Status()
}

// Connect starts a session unless one exists.
func (s *SessionService) Connect(ctx context.Context) {
	s.session.Connect()
}

// Disconnect tears the session down and clears all conversations.
func (s *SessionService) Disconnect(ctx context.Context) error {
	return s.session.Disconnect(ctx)
}

// TriggerReconciliation starts one reconciliation pass in the background.
// It reports false when the session is not connected and nothing was started.
func (s *SessionService) TriggerReconciliation(ctx context.Context) bool {
	if !s.session.Connected() {
		return false
	}
	go s.session.Reconciler().RunOnce(context.Background())
	return true
}
