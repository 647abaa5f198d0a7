// Package store holds the in-memory conversation table and owns every
// mutation of conversation state.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/events"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

const (
	// DefaultHistoryLimit is the number of messages kept per conversation.
	DefaultHistoryLimit = 250

	// DefaultDedupWindow is how far apart two identical messages must be to
	// both be kept when neither carries an external id match.
	DefaultDedupWindow = 2 * time.Second
)

var (
	// ErrNotFound is returned when no conversation exists for a counterpart.
	ErrNotFound = errors.New("conversation not found")

	// ErrEmptyCounterpart is returned for a counterpart id with no digits.
	ErrEmptyCounterpart = errors.New("counterpart id is required")
)

// conversationNamespace seeds the deterministic conversation ids.
var conversationNamespace = uuid.MustParse("5b0c8f5e-2a4f-4f59-9d7e-6d1c3e0f8a21")

// Source labels where an ingested message came from.
type Source string

const (
	SourcePush      Source = "push"
	SourceReconcile Source = "reconcile"
	SourceSend      Source = "send"
)

// IngestOptions tunes a single Ingest call. Zero values mean: status sent,
// no unread increment, no external id, created now.
type IngestOptions struct {
	Status          model.Status
	IncrementUnread bool
	ExternalID      string
	CreatedAt       time.Time
	Source          Source

	// RequireExisting drops the message when the conversation is unknown
	// instead of creating it.
	RequireExisting bool
}

type entry struct {
	conv *model.Conversation
	seq  uint64 // creation order, used to break UpdatedAt ties
}

// Store is the conversation table. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*entry
	seq           uint64

	historyLimit int
	dedupWindow  time.Duration
	publisher    events.Publisher
	logger       *logger.Logger
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit sets the per-conversation message bound.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithDedupWindow sets the heuristic duplicate window.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.dedupWindow = d
		}
	}
}

// WithPublisher sets where change events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*entry),
		historyLimit:  DefaultHistoryLimit,
		dedupWindow:   DefaultDedupWindow,
		publisher:     events.Nop(),
		logger:        logger.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationID returns the stable conversation id for a counterpart.
func ConversationID(counterpartID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(counterpartID)).String()
}

// DisplayName returns the label shown for a counterpart.
func DisplayName(counterpartID string) string {
	return "+" + counterpartID
}

// GetOrCreate returns the conversation for counterpartID, creating an empty
// one if needed.
func (s *Store) GetOrCreate(counterpartID string) (model.Conversation, error) {
	if counterpartID == "" {
		return model.Conversation{}, ErrEmptyCounterpart
	}

	s.mu.Lock()
	e, created := s.getOrCreateLocked(counterpartID)
	snapshot := cloneConversation(e.conv)
	s.mu.Unlock()

	if created {
		metrics.ConversationsActive.Inc()
		s.logger.Debug("conversation created", zap.String("counterpart_id", counterpartID))
	}

	return snapshot, nil
}

// Get returns a snapshot of one conversation.
func (s *Store) Get(counterpartID string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.conversations[counterpartID]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return cloneConversation(e.conv), nil
}

// Ingest records a message unless it is empty or a duplicate. It reports
// whether the message was stored.
func (s *Store) Ingest(counterpartID, text string, direction model.Direction, opts IngestOptions) bool {
	_, ok := s.IngestMessage(counterpartID, text, direction, opts)
	return ok
}

// IngestMessage is Ingest that also returns the message: the new entry when
// stored, or the existing entry it duplicates when dropped as a duplicate.
func (s *Store) IngestMessage(counterpartID, text string, direction model.Direction, opts IngestOptions) (model.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" || counterpartID == "" {
		return model.Message{}, false
	}

	if opts.Status == "" {
		opts.Status = model.StatusSent
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = s.now()
	}
	if opts.Source == "" {
		opts.Source = SourcePush
	}

	s.mu.Lock()
	if _, ok := s.conversations[counterpartID]; !ok && opts.RequireExisting {
		s.mu.Unlock()
		return model.Message{}, false
	}
	e, created := s.getOrCreateLocked(counterpartID)

	if rule, idx := s.duplicateRule(e.conv.Messages, text, direction, opts); rule != "" {
		existing := e.conv.Messages[idx]
		s.mu.Unlock()
		if created {
			metrics.ConversationsActive.Inc()
		}
		metrics.DuplicatesDropped.WithLabelValues(rule, string(opts.Source)).Inc()
		s.logger.Debug("duplicate message dropped",
			zap.String("counterpart_id", counterpartID),
			zap.String("rule", rule),
			zap.String("source", string(opts.Source)),
		)
		return existing, false
	}

	msg := model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ExternalID: opts.ExternalID,
		Text:       text,
		Direction:  direction,
		Status:     opts.Status,
		CreatedAt:  opts.CreatedAt,
	}

	conv := e.conv
	conv.Messages = append(conv.Messages, msg)
	if overflow := len(conv.Messages) - s.historyLimit; overflow > 0 {
		conv.Messages = append(conv.Messages[:0], conv.Messages[overflow:]...)
	}
	conv.UpdatedAt = msg.CreatedAt
	if opts.IncrementUnread {
		conv.UnreadCount++
	}
	summary := summarize(conv)
	s.mu.Unlock()

	if created {
		metrics.ConversationsActive.Inc()
	}
	metrics.MessagesIngested.WithLabelValues(string(direction), string(opts.Source)).Inc()

	ev := events.New(model.EventTypeMessage)
	ev.CounterpartID = counterpartID
	ev.Conversation = &summary
	ev.Message = &msg
	s.publisher.Publish(context.Background(), ev)

	return msg, true
}

// MarkRead resets the unread counter of a conversation.
func (s *Store) MarkRead(counterpartID string) error {
	s.mu.Lock()
	e, ok := s.conversations[counterpartID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	e.conv.UnreadCount = 0
	summary := summarize(e.conv)
	s.mu.Unlock()

	ev := events.New(model.EventTypeRead)
	ev.CounterpartID = counterpartID
	ev.Conversation = &summary
	s.publisher.Publish(context.Background(), ev)

	return nil
}

// List returns every conversation, most recently active first.
func (s *Store) List() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sortedLocked()
	out := make([]model.Conversation, len(entries))
	for i, e := range entries {
		out[i] = cloneConversation(e.conv)
	}
	return out
}

// Counterparts returns the known counterpart ids in List order.
func (s *Store) Counterparts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sortedLocked()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.conv.CounterpartID
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// ClearAll removes every conversation.
func (s *Store) ClearAll() {
	s.mu.Lock()
	n := len(s.conversations)
	s.conversations = make(map[string]*entry)
	s.mu.Unlock()

	metrics.ConversationsActive.Set(0)
	s.logger.Info("conversation store cleared", zap.Int("conversations", n))
	s.publisher.Publish(context.Background(), events.New(model.EventTypeCleared))
}

func (s *Store) getOrCreateLocked(counterpartID string) (*entry, bool) {
	if e, ok := s.conversations[counterpartID]; ok {
		return e, false
	}

	now := s.now()
	s.seq++
	e := &entry{
		seq: s.seq,
		conv: &model.Conversation{
			ID:            ConversationID(counterpartID),
			CounterpartID: counterpartID,
			DisplayName:   DisplayName(counterpartID),
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	s.conversations[counterpartID] = e
	return e, true
}

// duplicateRule returns the name of the rule that rejects the message and the
// index of the matching entry, or "" when it should be stored.
func (s *Store) duplicateRule(existing []model.Message, text string, direction model.Direction, opts IngestOptions) (string, int) {
	if opts.ExternalID != "" {
		for i := range existing {
			if existing[i].ExternalID == opts.ExternalID {
				return "external_id", i
			}
		}
	}

	for i := range existing {
		m := &existing[i]
		if m.Text != text || m.Direction != direction {
			continue
		}
		delta := m.CreatedAt.Sub(opts.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.dedupWindow {
			return "window", i
		}
	}

	return "", -1
}

func (s *Store) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(s.conversations))
	for _, e := range s.conversations {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.conv.UpdatedAt.Equal(b.conv.UpdatedAt) {
			return a.conv.UpdatedAt.After(b.conv.UpdatedAt)
		}
		return a.seq > b.seq
	})
	return entries
}

func cloneConversation(c *model.Conversation) model.Conversation {
	out := *c
	out.Messages = make([]model.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// summarize copies a conversation without its history.
func summarize(c *model.Conversation) model.Conversation {
	out := *c
	out.Messages = nil
	return out
}
