// Package listener keeps realtime remote subscriptions and feeds their
// changes into the local store through the conflict resolver.
//
// There is at most one subscription per logical key. Each subscription
// owns a single-consumer queue and one goroutine, so its batches are
// processed strictly in order and independently of the transport.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/wardsync/internal/conflict"
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
)

// Key builds a logical subscription key such as "units" or
// "patients_<unitId>".
func Key(kind string, scope ...string) string {
	if len(scope) == 0 {
		return kind
	}
	return kind + "_" + strings.Join(scope, "_")
}

// Resolver applies remote changes locally.
type Resolver interface {
	Apply(ctx context.Context, ev ir.RemoteChangeEvent) (conflict.Decision, error)
}

// Health receives liveness evidence.
type Health interface {
	ReportSuccess()
	ReportFailure(err error)
}

// Delta is the change set one batch produced, by document id.
type Delta struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// Empty reports whether the batch changed nothing.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Manager owns the active subscriptions.
//
// Hooks (error handler, delta observer) run on subscription goroutines and
// must not call Subscribe, Unsubscribe or UnsubscribeAll synchronously.
type Manager struct {
	remote   remote.Subscriber
	resolver Resolver
	health   Health
	onError  func(key string, err error)
	onDelta  func(key string, d Delta)

	// mu serializes subscription changes and guards subs.
	mu   sync.Mutex
	subs map[string]*subscription
}

// Option configures a Manager.
type Option func(*Manager)

// WithHealth reports batches and listener errors to h.
func WithHealth(h Health) Option {
	return func(m *Manager) { m.health = h }
}

// WithErrorHandler receives every listener and apply error.
func WithErrorHandler(fn func(key string, err error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// WithDeltaObserver receives the delta of every non-empty batch.
func WithDeltaObserver(fn func(key string, d Delta)) Option {
	return func(m *Manager) { m.onDelta = fn }
}

// New creates a manager.
func New(sub remote.Subscriber, resolver Resolver, opts ...Option) *Manager {
	m := &Manager{
		remote:   sub,
		resolver: resolver,
		subs:     make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe installs a subscription for q under key. An existing
// subscription under key is stopped first, so there is never more than one.
func (m *Manager) Subscribe(ctx context.Context, key string, q remote.Query) error {
	if key == "" {
		return fmt.Errorf("subscribe: key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.subs[key]; ok {
		delete(m.subs, key)
		prior.stop()
		slog.Debug("listener replaced", "event", "listener_replace", "key", key)
	}

	s := newSubscription(m, key, q)
	go s.run()

	handle, err := m.remote.Subscribe(ctx, q, s)
	if err != nil {
		s.stop()
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	s.setHandle(handle)
	m.subs[key] = s

	slog.Info("listener subscribed", "event", "listener_subscribe", "key", key, "collection", q.Collection)
	return nil
}

// Unsubscribe stops the subscription under key. No hook or resolver call
// for it happens after Unsubscribe returns. Unknown keys are ignored.
func (m *Manager) Unsubscribe(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[key]
	if !ok {
		return
	}
	delete(m.subs, key)
	s.stop()
	slog.Info("listener unsubscribed", "event", "listener_unsubscribe", "key", key)
}

// UnsubscribeAll stops every subscription. It is idempotent.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.subs {
		delete(m.subs, key)
		s.stop()
	}
}

// Active returns the keys of the active subscriptions, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *Manager) reportError(key string, err error) {
	if m.onError != nil {
		m.onError(key, err)
	}
}

// subscription is one active listener. It is the remote.Sink of its
// transport handle.
type subscription struct {
	m     *Manager
	key   string
	q     remote.Query
	queue *batchQueue

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	handleMu sync.Mutex
	handle   remote.Subscription

	once sync.Once

	// seen maps document id to content hash. Only the subscription
	// goroutine touches it.
	seen map[string]string
}

func newSubscription(m *Manager, key string, q remote.Query) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{
		m:      m,
		key:    key,
		q:      q,
		queue:  newBatchQueue(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		seen:   make(map[string]string),
	}
}

// OnBatch implements remote.Sink.
func (s *subscription) OnBatch(b remote.Batch) {
	s.queue.Enqueue(item{batch: &b})
}

// OnError implements remote.Sink.
func (s *subscription) OnError(err error) {
	s.queue.Enqueue(item{err: err})
}

func (s *subscription) setHandle(h remote.Subscription) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	s.handle = h
}

// stop closes the transport, cancels processing and waits for the
// subscription goroutine to exit.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		s.handleMu.Lock()
		h := s.handle
		s.handleMu.Unlock()
		if h != nil {
			h.Close()
		}
		s.queue.Close()
		<-s.done
	})
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.Wait():
		}
		for {
			if s.ctx.Err() != nil {
				return
			}
			it, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			if it.err != nil {
				s.handleError(it.err)
				continue
			}
			s.handleBatch(*it.batch)
		}
	}
}

func (s *subscription) handleError(err error) {
	slog.Warn("listener error", "event", "listener_error", "key", s.key, "error", err)
	if s.m.health != nil {
		s.m.health.ReportFailure(err)
	}
	s.m.reportError(s.key, err)
}

func (s *subscription) handleBatch(b remote.Batch) {
	if s.m.health != nil {
		s.m.health.ReportSuccess()
	}

	events, delta := s.diff(b)
	if delta.Empty() {
		return
	}
	slog.Debug("listener batch",
		"event", "listener_batch",
		"key", s.key,
		"added", len(delta.Added),
		"modified", len(delta.Modified),
		"removed", len(delta.Removed))
	if s.m.onDelta != nil {
		s.m.onDelta(s.key, delta)
	}

	for _, ev := range events {
		if s.ctx.Err() != nil {
			return
		}
		decision, err := s.m.resolver.Apply(s.ctx, ev)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			slog.Warn("remote change not applied",
				"event", "listener_apply_error",
				"key", s.key,
				"entity", ev.EntityKey(),
				"error", err)
			s.m.reportError(s.key, err)
			continue
		}
		if decision == conflict.Stale {
			// Not applied locally, so the next snapshot must offer it again.
			delete(s.seen, ev.DocID)
			slog.Debug("remote change stale", "event", "listener_stale", "key", s.key, "entity", ev.EntityKey())
		}
	}
}

// diff computes the delta of b against the documents seen so far and the
// change events it implies. Tombstone-scoped subscriptions emit no removals:
// a document leaving the trash was restored, and the live listener delivers
// the restored document.
func (s *subscription) diff(b remote.Batch) ([]ir.RemoteChangeEvent, Delta) {
	var (
		delta  Delta
		events []ir.RemoteChangeEvent
	)
	current := make(map[string]string, len(b.Docs))

	for _, doc := range b.Docs {
		id := doc.ID()
		if id == "" {
			continue
		}
		hash, err := ir.DocumentHash(doc)
		if err != nil {
			s.m.reportError(s.key, fmt.Errorf("hash remote document %s: %w", id, err))
			continue
		}
		current[id] = hash

		prev, known := s.seen[id]
		var ct ir.ChangeType
		switch {
		case !known:
			ct = ir.ChangeAdded
			delta.Added = append(delta.Added, id)
		case prev != hash:
			ct = ir.ChangeModified
			delta.Modified = append(delta.Modified, id)
		default:
			continue
		}
		ts := doc.UpdatedAt()
		if ts == 0 {
			ts = b.ReadTime
		}
		events = append(events, ir.RemoteChangeEvent{
			Collection:      s.q.Collection,
			DocID:           id,
			Data:            doc,
			ChangeType:      ct,
			SourceTimestamp: ts,
		})
	}

	removed := make([]string, 0)
	for id := range s.seen {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	if !s.q.Deleted {
		for _, id := range removed {
			delta.Removed = append(delta.Removed, id)
			events = append(events, ir.RemoteChangeEvent{
				Collection:      s.q.Collection,
				DocID:           id,
				ChangeType:      ir.ChangeRemoved,
				SourceTimestamp: b.ReadTime,
			})
		}
	}

	s.seen = current
	return events, delta
}
