package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/mocks"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/store"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	factory       *mocks.MockSessionFactory
	store         *store.Store
	manager       *session.Manager
	conversations *service.ConversationService
	messages      *service.MessageService
	sessions      *service.SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		factory: mocks.NewMockSessionFactory(),
		store:   store.New(),
	}
	f.manager = session.NewManager(f.factory.New, f.store, session.Config{
		ReconcileInterval: time.Hour,
	}, session.WithEncoder(func(p string) (string, error) { return "qr:" + p, nil }))

	f.conversations = service.NewConversationService(f.store, f.manager, nil)
	f.messages = service.NewMessageService(f.store, f.manager, nil)
	f.sessions = service.NewSessionService(f.manager, nil)

	t.Cleanup(func() {
		_ = f.manager.Disconnect(context.Background())
	})
	return f
}

func (f *fixture) connect(t *testing.T) *mocks.MockSessionClient {
	t.Helper()

	f.sessions.Connect(context.Background())
	client := f.factory.Last()
	require.NotNil(t, client)
	client.Ready()
	require.Eventually(t, f.manager.Connected, waitFor, tick)
	return client
}

func TestConversationService_OpenValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.conversations.Open(context.Background(), "  +() ")
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, "required", err.Error())
}

func TestConversationService_OpenWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	conv, err := f.conversations.Open(context.Background(), "+263 77 111 1111")
	require.NoError(t, err)
	assert.Equal(t, "263771111111", conv.CounterpartID)
	assert.Equal(t, "+263771111111", conv.DisplayName)
	assert.Empty(t, conv.Messages)

	again, err := f.conversations.Open(context.Background(), "263771111111")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, 1, f.store.Len())
}

func TestConversationService_OpenPullsHistory(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)
	client.SetHistory("263771111111@c.us",
		model.ExternalMessage{ID: "h1", From: "263771111111@c.us", Body: "earlier", Timestamp: 1700000000},
	)

	conv, err := f.conversations.Open(context.Background(), "263771111111")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "earlier", conv.Messages[0].Text)
	assert.Equal(t, "h1", conv.Messages[0].ExternalID)
}

func TestConversationService_PushThenMarkRead(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)

	client.Push(model.ExternalMessage{ID: "p1", From: "263771111111@c.us", Body: "Hello"})
	require.Eventually(t, func() bool {
		conv, err := f.store.Get("263771111111")
		return err == nil && len(conv.Messages) == 1
	}, waitFor, tick)

	list := f.conversations.List(context.Background())
	require.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	assert.Equal(t, model.DirectionIncoming, list.Conversations[0].Messages[0].Direction)

	require.NoError(t, f.conversations.MarkRead(context.Background(), "263771111111"))
	conv, err := f.store.Get("263771111111")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)

	err = f.conversations.MarkRead(context.Background(), "999")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestMessageService_SendValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		to   string
		text string
	}{
		{"missing recipient", "", "hi"},
		{"missing text", "263771111111", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.messages.Send(context.Background(), tt.to, tt.text)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestMessageService_SendRequiresConnection(t *testing.T) {
	f := newFixture(t)

	msg, err := f.messages.Send(context.Background(), "263771111111", "hi")
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, service.ErrNotConnected)
	assert.Equal(t, 0, f.store.Len())
}

func TestMessageService_SendInvalidRecipient(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	_, err := f.messages.Send(context.Background(), "not-a-number", "hi")
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.Equal(t, "invalid recipient", err.Error())
}

func TestMessageService_SendSuccess(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)
	client.SetSendResult("ext-42", nil)

	msg, err := f.messages.Send(context.Background(), "+263 77 111 1111", "  Hi there ")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Hi there", msg.Text)
	assert.Equal(t, model.DirectionOutgoing, msg.Direction)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "ext-42", msg.ExternalID)

	sent := client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "263771111111@c.us", sent[0].Address)

	conv, err := f.store.Get("263771111111")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestMessageService_SendFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)
	client.SetSendResult("", errors.New("rate limited"))

	msg, err := f.messages.Send(context.Background(), "263771111111", "Hi")
	assert.Nil(t, msg)

	var sendErr *service.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "send failed: rate limited", err.Error())

	conv, err := f.store.Get("263771111111")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.StatusFailed, conv.Messages[0].Status)
	assert.Equal(t, model.DirectionOutgoing, conv.Messages[0].Direction)
}

func TestSessionService_DisconnectResetsEverything(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)
	client.Push(model.ExternalMessage{ID: "p1", From: "263771111111@c.us", Body: "Hello"})
	require.Eventually(t, func() bool { return f.store.Len() == 1 }, waitFor, tick)

	require.NoError(t, f.sessions.Disconnect(context.Background()))

	status := f.sessions.Status(context.Background())
	assert.Equal(t, model.SessionIdle, status.State)
	assert.False(t, status.Connected)
	assert.Nil(t, status.Challenge)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 1, client.Destroyed())

	_, err := f.messages.Send(context.Background(), "263771111111", "Hi")
	assert.ErrorIs(t, err, service.ErrNotConnected)
}

func TestSessionService_TriggerReconciliation(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.sessions.TriggerReconciliation(context.Background()))

	client := f.connect(t)
	_, err := f.store.GetOrCreate("263771111111")
	require.NoError(t, err)
	client.SetHistory("263771111111@c.us",
		model.ExternalMessage{ID: "r1", From: "263771111111@c.us", Body: "missed", Timestamp: 1700000000},
	)

	assert.True(t, f.sessions.TriggerReconciliation(context.Background()))
	require.Eventually(t, func() bool {
		conv, err := f.store.Get("263771111111")
		return err == nil && len(conv.Messages) == 1
	}, waitFor, tick)
}

func TestMessageService_SendReturnsAlreadyRecordedEntry(t *testing.T) {
	f := newFixture(t)
	client := f.connect(t)
	client.SetSendResult("ext-7", nil)

	// The session echoed the send back as a push before the ack arrived.
	existing, stored := f.store.IngestMessage("263771111111", "Hi", model.DirectionOutgoing, store.IngestOptions{
		ExternalID: "ext-7",
	})
	require.True(t, stored)

	msg, err := f.messages.Send(context.Background(), "263771111111", "Hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, existing.ID, msg.ID)
	assert.Equal(t, "ext-7", msg.ExternalID)

	conv, err := f.store.Get("263771111111")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
}
