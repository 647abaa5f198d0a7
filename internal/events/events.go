// Package events fans conversation and session changes out to subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Publisher receives every change to the local view.
type Publisher interface {
	Publish(ctx context.Context, event *model.ConversationEvent)
}

// New builds an event with a fresh id and timestamp.
func New(eventType model.EventType) *model.ConversationEvent {
	return &model.ConversationEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      eventType,
		CreatedAt: time.Now(),
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *model.ConversationEvent) {}

// Nop returns a Publisher that drops everything.
func Nop() Publisher {
	return nopPublisher{}
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(ctx context.Context, event *model.ConversationEvent) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}

// Multi publishes to every non-nil publisher in order.
func Multi(publishers ...Publisher) Publisher {
	var out multiPublisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// subscriberBuffer is the per-subscriber queue length. Slow subscribers lose
// events rather than block publishers.
const subscriberBuffer = 64

// Hub is an in-process Publisher with channel subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan *model.ConversationEvent]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan *model.ConversationEvent]struct{}),
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it; the channel is closed afterwards.
func (h *Hub) Subscribe() (<-chan *model.ConversationEvent, func()) {
	ch := make(chan *model.ConversationEvent, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers event to every subscriber without blocking.
func (h *Hub) Publish(_ context.Context, event *model.ConversationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
