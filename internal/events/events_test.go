package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

type recorder struct {
	events []*model.ConversationEvent
}

func (r *recorder) Publish(_ context.Context, event *model.ConversationEvent) {
	r.events = append(r.events, event)
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	assert.Equal(t, 1, hub.Subscribers())

	ev := New(model.EventTypeRead)
	hub.Publish(context.Background(), ev)

	got := <-ch
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, model.EventTypeRead, got.Type)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish(context.Background(), New(model.EventTypeMessage))
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, lateCancel := hub.Subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	p := Multi(a, nil, b)

	p.Publish(context.Background(), New(model.EventTypeCleared))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Same(t, a.events[0], b.events[0])
}

func TestNew(t *testing.T) {
	ev := New(model.EventTypeStatus)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
}
