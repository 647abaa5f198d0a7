package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/identifier"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

// MessageService sends messages through the session and records the outcome.
type MessageService struct {
	store   *store.Store
	session *session.Manager
	logger  *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(st *store.Store, mgr *session.Manager, log *logger.Logger) *MessageService {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		store:   st,
		session: mgr,
		logger:  log,
	}
}

// Send delivers text to recipientRaw and returns the recorded message. A
// rejected send is still recorded as a failed message and returned as a
// *SendError. When the store already holds the message (a push of the same
// send arrived first) that entry is returned.
func (s *MessageService) Send(ctx context.Context, recipientRaw, text string) (*model.Message, error) {
	recipient := strings.TrimSpace(recipientRaw)
	body := strings.TrimSpace(text)
	if recipient == "" || body == "" {
		return nil, &ValidationError{Message: "to and text are required"}
	}

	if !s.session.Connected() {
		return nil, ErrNotConnected
	}

	address := identifier.ToExternalAddress(recipient)
	if address == "" {
		return nil, &ValidationError{Message: "invalid recipient"}
	}
	counterpartID := identifier.FromExternalAddress(address)

	ctx, span := tracing.Tracer("chatsync/service").Start(ctx, "message.send")
	defer span.End()
	span.SetAttributes(attribute.String("counterpart_id", counterpartID))

	var (
		msg     model.Message
		sendErr error
	)
	err := s.session.Dispatch(ctx, address, body, func(externalID string, err error) {
		sendErr = err
		if err != nil {
			msg, _ = s.store.IngestMessage(counterpartID, body, model.DirectionOutgoing, store.IngestOptions{
				Status: model.StatusFailed,
				Source: store.SourceSend,
			})
			return
		}
		msg, _ = s.store.IngestMessage(counterpartID, body, model.DirectionOutgoing, store.IngestOptions{
			Status:     model.StatusSent,
			ExternalID: externalID,
			Source:     store.SourceSend,
		})
	})
	if errors.Is(err, session.ErrNotConnected) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}

	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "send failed")
		metrics.SendsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
		s.logger.Warn("failed to send message",
			zap.String("counterpart_id", counterpartID),
			zap.Error(sendErr),
		)
		return nil, &SendError{Err: sendErr}
	}

	metrics.SendsTotal.WithLabelValues(string(model.StatusSent)).Inc()
	return &msg, nil
}
