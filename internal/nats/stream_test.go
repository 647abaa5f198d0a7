package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

func TestStreamManager_MirrorsEvents(t *testing.T) {
	ns := runServer(t, true)
	client := connectClient(t, ns)
	sm := NewStreamManager(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sm.EnsureStream(ctx))
	require.NoError(t, sm.EnsureStream(ctx))

	for i := 0; i < 10; i++ {
		sm.Publish(ctx, &model.ConversationEvent{
			ID:            "ev",
			Type:          model.EventTypeMessage,
			CounterpartID: "263771111111",
		})
	}
	sm.Publish(ctx, &model.ConversationEvent{ID: "st", Type: model.EventTypeStatus})
	require.NoError(t, sm.Flush(ctx))

	stream, err := client.JetStream().Stream(ctx, StreamName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), info.State.Msgs)

	seq, err := sm.PublishEvent(ctx, &model.ConversationEvent{ID: "last", Type: model.EventTypeStatus})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), seq)

	msg, err := stream.GetLastMsgForSubject(ctx, "chatsync.events.message.263771111111")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), msg.Sequence)
}

func TestStreamManager_FlushWithNothingPending(t *testing.T) {
	ns := runServer(t, true)
	sm := NewStreamManager(connectClient(t, ns), nil)

	require.NoError(t, sm.Flush(context.Background()))
}
