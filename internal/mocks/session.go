// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
)

// Compile-time check to ensure mocks implement their interfaces.
var _ session.Client = (*MockSessionClient)(nil)

// SentMessage records a call to SendMessage.
type SentMessage struct {
	Address string
	Text    string
}

// MockSessionClient is a test implementation of session.Client.
type MockSessionClient struct {
	events chan<- model.SessionEvent

	mu         sync.Mutex
	started    int
	destroyed  int
	fetches    []string
	sent       []SentMessage
	history    map[string][]model.ExternalMessage
	fetchErrs  map[string]error
	startErr   error
	sendErr    error
	sendID     string
	destroyErr error
	startGate  chan struct{}
}

// NewMockSessionClient creates a client that emits on events.
func NewMockSessionClient(events chan<- model.SessionEvent) *MockSessionClient {
	return &MockSessionClient{
		events:    events,
		history:   make(map[string][]model.ExternalMessage),
		fetchErrs: make(map[string]error),
	}
}

// Start implements session.Client.
func (c *MockSessionClient) Start(ctx context.Context) error {
	c.mu.Lock()
	c.started++
	gate := c.startGate
	err := c.startErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// FetchRecentMessages implements session.Client.
func (c *MockSessionClient) FetchRecentMessages(_ context.Context, address string, limit int) ([]model.ExternalMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetches = append(c.fetches, address)
	if err := c.fetchErrs[address]; err != nil {
		return nil, err
	}

	msgs := c.history[address]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ExternalMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SendMessage implements session.Client.
func (c *MockSessionClient) SendMessage(_ context.Context, address, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, SentMessage{Address: address, Text: text})
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.sendID, nil
}

// Destroy implements session.Client.
func (c *MockSessionClient) Destroy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.destroyed++
	return c.destroyErr
}

// Emit delivers an event as the external session would.
func (c *MockSessionClient) Emit(ev model.SessionEvent) {
	c.events <- ev
}

// Ready emits the ready event.
func (c *MockSessionClient) Ready() {
	c.Emit(model.SessionEvent{Type: model.SessionEventReady})
}

// Push emits an incoming message event.
func (c *MockSessionClient) Push(msg model.ExternalMessage) {
	c.Emit(model.SessionEvent{Type: model.SessionEventMessage, Message: &msg})
}

// SetHistory sets what FetchRecentMessages returns for address.
func (c *MockSessionClient) SetHistory(address string, msgs ...model.ExternalMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[address] = msgs
}

// SetFetchError makes fetches for address fail.
func (c *MockSessionClient) SetFetchError(address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErrs[address] = err
}

// SetStartError makes Start fail.
func (c *MockSessionClient) SetStartError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
}

// SetStartGate makes Start block until gate is closed.
func (c *MockSessionClient) SetStartGate(gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startGate = gate
}

// SetSendResult sets the id or error SendMessage returns.
func (c *MockSessionClient) SetSendResult(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendID = id
	c.sendErr = err
}

// SetDestroyError makes Destroy fail.
func (c *MockSessionClient) SetDestroyError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyErr = err
}

// Started returns how many times Start was called.
func (c *MockSessionClient) Started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Destroyed returns how many times Destroy was called.
func (c *MockSessionClient) Destroyed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Fetches returns the addresses fetched so far.
func (c *MockSessionClient) Fetches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.fetches))
	copy(out, c.fetches)
	return out
}

// Sent returns the messages sent so far.
func (c *MockSessionClient) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// MockSessionFactory hands out MockSessionClients and remembers them.
type MockSessionFactory struct {
	mu      sync.Mutex
	clients []*MockSessionClient
	err     error

	// Configure, when set, runs on every new client before it is returned.
	Configure func(*MockSessionClient)
}

// NewMockSessionFactory creates an empty factory.
func NewMockSessionFactory() *MockSessionFactory {
	return &MockSessionFactory{}
}

// New implements session.Factory.
func (f *MockSessionFactory) New(events chan<- model.SessionEvent) (session.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	c := NewMockSessionClient(events)
	if f.Configure != nil {
		f.Configure(c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

// SetError makes New fail.
func (f *MockSessionFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Count returns how many clients were created.
func (f *MockSessionFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Last returns the most recently created client, or nil.
func (f *MockSessionFactory) Last() *MockSessionClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}
