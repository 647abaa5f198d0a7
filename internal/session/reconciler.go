package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/identifier"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

const (
	// DefaultReconcileInterval is the time between reconciliation passes.
	DefaultReconcileInterval = 5 * time.Second

	// DefaultFetchLimit bounds each history fetch.
	DefaultFetchLimit = 50
)

// Fetcher pulls recent history from the external session.
type Fetcher interface {
	FetchRecentMessages(ctx context.Context, address string, limit int) ([]model.ExternalMessage, error)
}

// Reconciler periodically merges external history into the store for every
// conversation the store already knows.
type Reconciler struct {
	fetcher  Fetcher
	store    *store.Store
	interval time.Duration
	limit    int
	logger   *logger.Logger
	tracer   trace.Tracer

	// pass serializes passes so timer and manual triggers never overlap.
	pass sync.Mutex

	mu   sync.Mutex
	stop chan struct{}
}

// NewReconciler creates a stopped reconciler.
func NewReconciler(fetcher Fetcher, st *store.Store, interval time.Duration, limit int, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{
		fetcher:  fetcher,
		store:    st,
		interval: interval,
		limit:    limit,
		logger:   log,
		tracer:   tracing.Tracer("chatsync/session"),
	}
}

// Start schedules passes on the interval. It is a no-op when already running.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	go r.loop(r.stop)

	r.logger.Info("reconciliation started", zap.Duration("interval", r.interval))
}

// Stop prevents further passes. A pass already running completes.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil

	r.logger.Info("reconciliation stopped")
}

// Running reports whether passes are scheduled.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

func (r *Reconciler) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce reconciles every known conversation, one at a time, and returns
// the number of messages added.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	r.pass.Lock()
	defer r.pass.Unlock()

	ctx, span := r.tracer.Start(ctx, "reconcile.pass")
	defer span.End()

	start := time.Now()
	counterparts := r.store.Counterparts()

	added := 0
	for _, id := range counterparts {
		added += r.syncOne(ctx, id)
	}

	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("conversations", len(counterparts)),
		attribute.Int("added", added),
	)

	if added > 0 {
		r.logger.Debug("reconciliation pass complete",
			zap.Int("conversations", len(counterparts)),
			zap.Int("added", added),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return added
}

// SyncConversation reconciles one conversation and returns the number of
// messages added.
func (r *Reconciler) SyncConversation(ctx context.Context, counterpartID string) int {
	r.pass.Lock()
	defer r.pass.Unlock()
	return r.syncOne(ctx, counterpartID)
}

func (r *Reconciler) syncOne(ctx context.Context, counterpartID string) int {
	address := identifier.ToExternalAddress(counterpartID)
	if address == "" {
		return 0
	}

	msgs, err := r.fetcher.FetchRecentMessages(ctx, address, r.limit)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			r.logger.Debug("skipping sync, session not connected", zap.String("counterpart_id", counterpartID))
			return 0
		}
		metrics.ReconcileFailures.Inc()
		r.logger.Warn("failed to fetch conversation history",
			zap.String("counterpart_id", counterpartID),
			zap.Error(err),
		)
		return 0
	}

	added := 0
	for i := range msgs {
		m := &msgs[i]
		if strings.TrimSpace(m.Body) == "" {
			continue
		}

		direction := model.DirectionIncoming
		if m.FromMe {
			direction = model.DirectionOutgoing
		}

		if r.store.Ingest(counterpartID, m.Body, direction, store.IngestOptions{
			IncrementUnread: !m.FromMe,
			ExternalID:      m.ID,
			CreatedAt:       m.Time(),
			Source:          store.SourceReconcile,
			RequireExisting: true,
		}) {
			added++
		}
	}

	return added
}
