// Package service provides the operations exposed to the API layer.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/identifier"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// ConversationService handles conversation operations.
type ConversationService struct {
	store   *store.Store
	session *session.Manager
	logger  *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st *store.Store, mgr *session.Manager, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{
		store:   st,
		session: mgr,
		logger:  log,
	}
}

// List returns every conversation, most recently active first.
func (s *ConversationService) List(ctx context.Context) *model.ListConversationsResponse {
	convs := s.store.List()
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	}
}

// Open returns the conversation with rawID, creating it if needed, after
// pulling its recent history from the session.
func (s *ConversationService) Open(ctx context.Context, rawID string) (*model.Conversation, error) {
	counterpartID := identifier.ToDigits(rawID)
	if counterpartID == "" {
		return nil, &ValidationError{Message: "required"}
	}

	if _, err := s.store.GetOrCreate(counterpartID); err != nil {
		return nil, err
	}

	if s.session.Connected() {
		added := s.session.Reconciler().SyncConversation(ctx, counterpartID)
		s.logger.Debug("conversation opened",
			zap.String("counterpart_id", counterpartID),
			zap.Int("synced", added),
		)
	}

	conv, err := s.store.Get(counterpartID)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// MarkRead resets the unread counter of the conversation with rawID.
func (s *ConversationService) MarkRead(ctx context.Context, rawID string) error {
	counterpartID := identifier.ToDigits(rawID)
	if counterpartID == "" {
		return &ValidationError{Message: "required"}
	}
	return s.store.MarkRead(counterpartID)
}
