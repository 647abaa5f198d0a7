package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

const (
	// DefaultBridgePrefix is the subject prefix of the chat gateway.
	DefaultBridgePrefix = "chat.session"

	// DefaultRequestTimeout bounds requests that carry no deadline.
	DefaultRequestTimeout = 30 * time.Second
)

// Bridge operations, appended to the subject prefix.
const (
	opStart   = "start"
	opDestroy = "destroy"
	opFetch   = "fetch"
	opSend    = "send"
	opEvents  = "events"
)

// ErrBridgeClosed is returned by requests made after Destroy.
var ErrBridgeClosed = errors.New("bridge closed")

// BridgeConfig configures the session bridge.
type BridgeConfig struct {
	SubjectPrefix  string
	RequestTimeout time.Duration
}

var _ session.Client = (*Bridge)(nil)

// Bridge drives an external chat session that lives behind a gateway
// reachable over NATS request/reply. Lifecycle and message events arrive on
// the events subject.
type Bridge struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *logger.Logger

	events chan<- model.SessionEvent
	sub    *nats.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

type bridgeRequest struct {
	Address string `json:"address,omitempty"`
	Text    string `json:"text,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type bridgeReply struct {
	Error    string                  `json:"error,omitempty"`
	ID       string                  `json:"id,omitempty"`
	Messages []model.ExternalMessage `json:"messages,omitempty"`
}

// NewBridgeFactory returns a session.Factory that opens one Bridge per
// session handle on conn.
func NewBridgeFactory(conn *nats.Conn, cfg BridgeConfig, log *logger.Logger) session.Factory {
	return func(events chan<- model.SessionEvent) (session.Client, error) {
		return NewBridge(conn, cfg, events, log)
	}
}

// NewBridge subscribes to the gateway events and returns a Bridge that
// forwards them to events.
func NewBridge(conn *nats.Conn, cfg BridgeConfig, events chan<- model.SessionEvent, log *logger.Logger) (*Bridge, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultBridgePrefix
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	b := &Bridge{
		conn:    conn,
		prefix:  cfg.SubjectPrefix,
		timeout: cfg.RequestTimeout,
		logger:  log.Named("bridge"),
		events:  events,
		closed:  make(chan struct{}),
	}

	sub, err := conn.Subscribe(b.subject(opEvents), b.onEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	b.sub = sub

	return b, nil
}

// Start asks the gateway to launch the session.
func (b *Bridge) Start(ctx context.Context) error {
	_, err := b.request(ctx, opStart, bridgeRequest{})
	return err
}

// FetchRecentMessages returns up to limit recent messages of address.
func (b *Bridge) FetchRecentMessages(ctx context.Context, address string, limit int) ([]model.ExternalMessage, error) {
	reply, err := b.request(ctx, opFetch, bridgeRequest{Address: address, Limit: limit})
	if err != nil {
		return nil, err
	}
	return reply.Messages, nil
}

// SendMessage sends text to address and returns the gateway's message id.
func (b *Bridge) SendMessage(ctx context.Context, address, text string) (string, error) {
	reply, err := b.request(ctx, opSend, bridgeRequest{Address: address, Text: text})
	if err != nil {
		return "", err
	}
	return reply.ID, nil
}

// Destroy stops event delivery and asks the gateway to end the session.
func (b *Bridge) Destroy(ctx context.Context) error {
	first := false
	b.closeOnce.Do(func() {
		first = true
		close(b.closed)
		if err := b.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("failed to unsubscribe from session events", zap.Error(err))
		}
	})
	if !first {
		return nil
	}

	_, err := b.send(ctx, opDestroy, bridgeRequest{})
	return err
}

func (b *Bridge) request(ctx context.Context, op string, req bridgeRequest) (bridgeReply, error) {
	select {
	case <-b.closed:
		return bridgeReply{}, ErrBridgeClosed
	default:
	}
	return b.send(ctx, op, req)
}

func (b *Bridge) send(ctx context.Context, op string, req bridgeRequest) (bridgeReply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return bridgeReply{}, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	msg, err := b.conn.RequestWithContext(ctx, b.subject(op), data)
	if err != nil {
		return bridgeReply{}, fmt.Errorf("%s request failed: %w", op, err)
	}

	return decodeReply(msg.Data)
}

func (b *Bridge) onEvent(msg *nats.Msg) {
	ev, err := decodeEvent(msg.Data)
	if err != nil {
		b.logger.Warn("dropping malformed session event", zap.Error(err))
		return
	}

	select {
	case b.events <- ev:
	case <-b.closed:
	}
}

func (b *Bridge) subject(op string) string {
	return b.prefix + "." + op
}

func decodeReply(data []byte) (bridgeReply, error) {
	var reply bridgeReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return bridgeReply{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	if reply.Error != "" {
		return bridgeReply{}, errors.New(reply.Error)
	}
	return reply, nil
}

func decodeEvent(data []byte) (model.SessionEvent, error) {
	var ev model.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.SessionEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Type == "" {
		return model.SessionEvent{}, errors.New("event type is required")
	}
	if ev.Type == model.SessionEventMessage && ev.Message == nil {
		return model.SessionEvent{}, errors.New("message event without message")
	}
	return ev, nil
}
