package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/events"
	"github.com/capitalize-ai/chatsync/internal/identifier"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
	"github.com/capitalize-ai/chatsync/pkg/qrcode"
)

const (
	// eventBuffer is the capacity of each handle's event channel.
	eventBuffer = 256

	// defaultDestroyTimeout bounds teardown of a handle.
	defaultDestroyTimeout = 15 * time.Second
)

// Config holds session manager settings.
type Config struct {
	ReconcileInterval time.Duration
	FetchLimit        int
	DestroyTimeout    time.Duration
}

// Manager owns the external session handle and its connectivity state.
// The reconciler is started and stopped only while mu is held.
type Manager struct {
	factory    Factory
	store      *store.Store
	reconciler *Reconciler
	publisher  events.Publisher
	encode     func(payload string) (string, error)
	logger     *logger.Logger
	destroyTTL time.Duration

	// teardown is held for reading while a handle's results are written to
	// the store and for writing while Disconnect detaches and clears it.
	teardown sync.RWMutex

	mu           sync.Mutex
	client       Client
	generation   uint64
	done         chan struct{}
	cancelStart  context.CancelFunc
	state        model.SessionState
	connected    bool
	initializing bool
	challenge    string
	lastError    string
}

// ManagerOption allows customization of Manager.
type ManagerOption func(*Manager)

// WithPublisher sets where status changes are published.
func WithPublisher(p events.Publisher) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithEncoder sets how challenge payloads are rendered.
func WithEncoder(encode func(payload string) (string, error)) ManagerOption {
	return func(m *Manager) {
		if encode != nil {
			m.encode = encode
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *logger.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates an idle manager.
func NewManager(factory Factory, st *store.Store, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:    factory,
		store:      st,
		publisher:  events.Nop(),
		encode:     qrcode.DataURL,
		logger:     logger.NewNop(),
		destroyTTL: cfg.DestroyTimeout,
		state:      model.SessionIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.destroyTTL <= 0 {
		m.destroyTTL = defaultDestroyTimeout
	}

	m.reconciler = NewReconciler(m, st, cfg.ReconcileInterval, cfg.FetchLimit, m.logger.Named("reconciler"))
	return m
}

// Reconciler returns the manager's reconciliation loop.
func (m *Manager) Reconciler() *Reconciler {
	return m.reconciler
}

// Connect creates a session handle and starts it in the background. It is a
// no-op while a handle exists or is initializing.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.client != nil || m.initializing {
		m.mu.Unlock()
		return
	}

	ch := make(chan model.SessionEvent, eventBuffer)
	client, err := m.factory(ch)
	if err != nil {
		m.lastError = fmt.Sprintf("session startup failed: %v", err)
		m.state = model.SessionIdle
		status := m.statusLocked()
		m.mu.Unlock()

		m.logger.Error("failed to create session", zap.Error(err))
		m.publishStatus(status)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.generation++
	gen := m.generation
	done := make(chan struct{})

	m.client = client
	m.done = done
	m.cancelStart = cancel
	m.initializing = true
	m.connected = false
	m.challenge = ""
	m.lastError = ""
	m.state = model.SessionInitializing
	status := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("session connecting")
	m.publishStatus(status)

	go m.dispatch(gen, ch, done)
	go m.start(ctx, cancel, gen, client)
}

func (m *Manager) start(ctx context.Context, cancel context.CancelFunc, gen uint64, client Client) {
	defer cancel()
	err := client.Start(ctx)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.initializing = false
	if err == nil {
		status := m.statusLocked()
		m.mu.Unlock()
		m.publishStatus(status)
		return
	}

	m.lastError = fmt.Sprintf("session startup failed: %v", err)
	m.connected = false
	m.challenge = ""
	m.state = model.SessionIdle
	stale := m.detachLocked()
	m.reconciler.Stop()
	status := m.statusLocked()
	m.mu.Unlock()

	m.logger.Error("session startup failed", zap.Error(err))
	m.destroy(stale)
	m.publishStatus(status)
}

// dispatch applies the events of one handle until it is detached.
func (m *Manager) dispatch(gen uint64, ch <-chan model.SessionEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			m.handle(gen, ev)
		}
	}
}

func (m *Manager) handle(gen uint64, ev model.SessionEvent) {
	metrics.SessionEvents.WithLabelValues(string(ev.Type)).Inc()

	if ev.Type == model.SessionEventMessage {
		m.ingestPush(gen, ev.Message)
		return
	}

	var rendered string
	var renderErr error
	if ev.Type == model.SessionEventChallenge {
		rendered, renderErr = m.encode(ev.Payload)
	}

	var stale Client

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}

	switch ev.Type {
	case model.SessionEventChallenge:
		m.connected = false
		m.challenge = rendered
		m.state = model.SessionAwaitingScan
		if renderErr != nil {
			m.lastError = fmt.Sprintf("failed to render challenge: %v", renderErr)
		}
		m.reconciler.Stop()

	case model.SessionEventAuthenticated:
		m.lastError = ""

	case model.SessionEventReady:
		m.connected = true
		m.initializing = false
		m.challenge = ""
		m.state = model.SessionConnected
		m.reconciler.Start()

	case model.SessionEventAuthFailure:
		m.connected = false
		m.challenge = ""
		m.lastError = withReason("authentication failed", ev.Payload)
		m.state = model.SessionFailed
		m.initializing = false
		stale = m.detachLocked()
		m.reconciler.Stop()

	case model.SessionEventDisconnected:
		m.connected = false
		m.challenge = ""
		m.lastError = withReason("disconnected", ev.Payload)
		m.state = model.SessionIdle
		m.initializing = false
		stale = m.detachLocked()
		m.reconciler.Stop()

	default:
		m.mu.Unlock()
		m.logger.Warn("unknown session event", zap.String("type", string(ev.Type)))
		return
	}

	status := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("session event",
		zap.String("type", string(ev.Type)),
		zap.String("state", string(status.State)),
	)

	if stale != nil {
		m.destroy(stale)
	}
	m.publishStatus(status)
}

func (m *Manager) ingestPush(gen uint64, msg *model.ExternalMessage) {
	if msg == nil {
		return
	}

	m.teardown.RLock()
	defer m.teardown.RUnlock()

	m.mu.Lock()
	current := gen == m.generation
	m.mu.Unlock()
	if !current {
		return
	}

	address := msg.From
	if msg.FromMe {
		// From is our own number; without a recipient there is no counterpart.
		if msg.To == "" {
			m.logger.Debug("ignoring self-sent message without recipient", zap.String("id", msg.ID))
			return
		}
		address = msg.To
	}
	if !identifier.IsDirect(address) {
		m.logger.Debug("ignoring message from non-direct chat", zap.String("address", address))
		return
	}

	direction := model.DirectionIncoming
	if msg.FromMe {
		direction = model.DirectionOutgoing
	}

	m.store.Ingest(identifier.FromExternalAddress(address), msg.Body, direction, store.IngestOptions{
		IncrementUnread: !msg.FromMe,
		ExternalID:      msg.ID,
		CreatedAt:       msg.Time(),
		Source:          store.SourcePush,
	})
}

// Disconnect tears the session down and clears every conversation. State is
// reset even when destroying the handle fails; that error is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.teardown.Lock()
	m.mu.Lock()
	client := m.detachLocked()
	m.connected = false
	m.initializing = false
	m.challenge = ""
	m.state = model.SessionIdle
	m.reconciler.Stop()
	status := m.statusLocked()
	m.mu.Unlock()
	m.store.ClearAll()
	m.teardown.Unlock()

	var err error
	if client != nil {
		dctx, cancel := context.WithTimeout(ctx, m.destroyTTL)
		err = client.Destroy(dctx)
		cancel()
		if err != nil {
			m.logger.Warn("failed to destroy session", zap.Error(err))
			err = fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	m.logger.Info("session disconnected")
	m.publishStatus(status)

	return err
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Connected reports whether the session is ready for use.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.client != nil
}

// FetchRecentMessages fetches history through the active session.
func (m *Manager) FetchRecentMessages(ctx context.Context, address string, limit int) ([]model.ExternalMessage, error) {
	client, err := m.activeClient()
	if err != nil {
		return nil, err
	}
	return client.FetchRecentMessages(ctx, address, limit)
}

// Dispatch sends text to address through the active session and hands the
// outcome to record. Disconnect waits for record to return, so whatever it
// stores is cleared with the rest. Without a ready session it returns
// ErrNotConnected and record is not called.
func (m *Manager) Dispatch(ctx context.Context, address, text string, record func(externalID string, err error)) error {
	m.teardown.RLock()
	defer m.teardown.RUnlock()

	client, err := m.activeClient()
	if err != nil {
		return err
	}

	externalID, err := client.SendMessage(ctx, address, text)
	record(externalID, err)
	return nil
}

func (m *Manager) activeClient() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// detachLocked forgets the current handle so its late events and startup
// result are ignored, and returns it for teardown.
func (m *Manager) detachLocked() Client {
	client := m.client
	m.client = nil
	m.generation++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.cancelStart != nil {
		m.cancelStart()
		m.cancelStart = nil
	}
	return client
}

func (m *Manager) destroy(client Client) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.destroyTTL)
	defer cancel()

	if err := client.Destroy(ctx); err != nil {
		m.logger.Warn("failed to destroy session", zap.Error(err))
	}
}

func (m *Manager) statusLocked() model.SessionStatus {
	status := model.SessionStatus{
		State:        m.state,
		Connected:    m.connected,
		Initializing: m.initializing,
	}
	if m.challenge != "" {
		challenge := m.challenge
		status.Challenge = &challenge
	}
	if m.lastError != "" {
		lastError := m.lastError
		status.LastError = &lastError
	}
	return status
}

func (m *Manager) publishStatus(status model.SessionStatus) {
	metrics.SetSessionConnected(status.Connected)

	ev := events.New(model.EventTypeStatus)
	ev.Status = &status
	m.publisher.Publish(context.Background(), ev)
}

func withReason(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}
