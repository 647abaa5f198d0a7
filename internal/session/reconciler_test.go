package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
)

type fetchCall struct {
	address string
	limit   int
}

type stubFetcher struct {
	mu      sync.Mutex
	history map[string][]model.ExternalMessage
	errs    map[string]error
	calls   []fetchCall
	block   chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		history: make(map[string][]model.ExternalMessage),
		errs:    make(map[string]error),
	}
}

func (f *stubFetcher) FetchRecentMessages(_ context.Context, address string, limit int) ([]model.ExternalMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{address: address, limit: limit})
	block := f.block
	msgs, err := f.history[address], f.errs[address]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return msgs, err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestReconciler_RunOnceMergesHistory(t *testing.T) {
	st := store.New()
	_, err := st.GetOrCreate("263771111111")
	require.NoError(t, err)

	fetcher := newStubFetcher()
	fetcher.history["263771111111@c.us"] = []model.ExternalMessage{
		{ID: "a", From: "263771111111@c.us", Body: "hi", Timestamp: 1700000000},
		{ID: "b", From: "me@c.us", Body: "hello back", FromMe: true, Timestamp: 1700000010},
		{ID: "c", From: "263771111111@c.us", Body: "   ", Timestamp: 1700000020},
	}

	r := NewReconciler(fetcher, st, time.Hour, 0, nil)
	assert.Equal(t, 2, r.RunOnce(context.Background()))

	conv, err := st.Get("263771111111")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.DirectionIncoming, conv.Messages[0].Direction)
	assert.Equal(t, model.DirectionOutgoing, conv.Messages[1].Direction)
	assert.Equal(t, time.Unix(1700000010, 0), conv.UpdatedAt)
	assert.Equal(t, 1, conv.UnreadCount)

	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, DefaultFetchLimit, fetcher.calls[0].limit)

	// A second pass over the same history is idempotent.
	assert.Equal(t, 0, r.RunOnce(context.Background()))
	conv, err = st.Get("263771111111")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestReconciler_DedupAgainstPush(t *testing.T) {
	st := store.New()
	st.Ingest("263771111111", "Hello", model.DirectionIncoming, store.IngestOptions{
		ExternalID:      "ext-1",
		IncrementUnread: true,
		CreatedAt:       time.Unix(1700000000, 0),
	})

	fetcher := newStubFetcher()
	fetcher.history["263771111111@c.us"] = []model.ExternalMessage{
		{ID: "ext-1", From: "263771111111@c.us", Body: "Hello", Timestamp: 1700000000},
	}

	r := NewReconciler(fetcher, st, time.Hour, 50, nil)
	r.RunOnce(context.Background())

	conv, err := st.Get("263771111111")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestReconciler_FailureDoesNotAbortPass(t *testing.T) {
	st := store.New()
	for _, id := range []string{"111", "222", "333"} {
		_, err := st.GetOrCreate(id)
		require.NoError(t, err)
	}

	fetcher := newStubFetcher()
	fetcher.errs["222@c.us"] = errors.New("timeout")
	fetcher.history["111@c.us"] = []model.ExternalMessage{{ID: "1", Body: "one"}}
	fetcher.history["333@c.us"] = []model.ExternalMessage{{ID: "3", Body: "three"}}

	r := NewReconciler(fetcher, st, time.Hour, 50, nil)
	assert.Equal(t, 2, r.RunOnce(context.Background()))
	assert.Equal(t, 3, fetcher.callCount())
}

func TestReconciler_NeverCreatesConversations(t *testing.T) {
	st := store.New()
	fetcher := newStubFetcher()
	fetcher.history["111@c.us"] = []model.ExternalMessage{{ID: "1", Body: "one"}}

	r := NewReconciler(fetcher, st, time.Hour, 50, nil)
	assert.Equal(t, 0, r.RunOnce(context.Background()))
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 0, fetcher.callCount())

	assert.Equal(t, 0, r.SyncConversation(context.Background(), "111"))
	assert.Equal(t, 0, st.Len())
}

func TestReconciler_SkipsUnresolvableIDs(t *testing.T) {
	st := store.New()
	fetcher := newStubFetcher()

	r := NewReconciler(fetcher, st, time.Hour, 50, nil)
	assert.Equal(t, 0, r.SyncConversation(context.Background(), ""))
	assert.Equal(t, 0, fetcher.callCount())
}

func TestReconciler_StartStop(t *testing.T) {
	st := store.New()
	_, err := st.GetOrCreate("111")
	require.NoError(t, err)

	fetcher := newStubFetcher()
	r := NewReconciler(fetcher, st, 10*time.Millisecond, 50, nil)

	r.Start()
	r.Start()
	assert.True(t, r.Running())
	require.Eventually(t, func() bool { return fetcher.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	assert.False(t, r.Running())

	time.Sleep(30 * time.Millisecond)
	calls := fetcher.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestReconciler_StopLetsInFlightPassFinish(t *testing.T) {
	st := store.New()
	_, err := st.GetOrCreate("111")
	require.NoError(t, err)

	fetcher := newStubFetcher()
	fetcher.block = make(chan struct{})
	fetcher.history["111@c.us"] = []model.ExternalMessage{{ID: "1", Body: "late but merged"}}

	r := NewReconciler(fetcher, st, 10*time.Millisecond, 50, nil)
	r.Start()
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	r.Stop()
	close(fetcher.block)

	require.Eventually(t, func() bool {
		conv, err := st.Get("111")
		return err == nil && len(conv.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fetcher.callCount())
}
