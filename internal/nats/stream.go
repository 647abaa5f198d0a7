package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/events"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "CHATSYNC_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "chatsync.events"
)

var _ events.Publisher = (*StreamManager)(nil)

// StreamManager mirrors conversation events into JetStream.
type StreamManager struct {
	client *Client
	logger *logger.Logger
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client, log *logger.Logger) *StreamManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &StreamManager{client: client, logger: log.Named("stream")}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024, // 1GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation and session events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event. Events that are not tied to
// one conversation use the "all" token.
func EventSubject(event *model.ConversationEvent) string {
	scope := event.CounterpartID
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, event.Type, scope)
}

// PublishEvent publishes an event to JetStream and waits for its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Publish implements events.Publisher. It queues the event without waiting
// for the ack; rejected acks are logged by the client's async error handler.
func (m *StreamManager) Publish(_ context.Context, event *model.ConversationEvent) {
	if !m.client.IsConnected() {
		m.logger.Debug("skipping event publish, NATS not connected", zap.String("type", string(event.Type)))
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Warn("failed to marshal event", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	if _, err := m.client.JetStream().PublishAsync(EventSubject(event), data); err != nil {
		m.logger.Warn("failed to mirror event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Flush waits until every queued publish has been acknowledged or ctx ends.
func (m *StreamManager) Flush(ctx context.Context) error {
	js := m.client.JetStream()
	if js.PublishAsyncPending() == 0 {
		return nil
	}

	select {
	case <-js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d event publishes still pending: %w", js.PublishAsyncPending(), ctx.Err())
	}
}
