package remote

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/schedule"
)

// MemoryBackend is an in-process remote store. It applies mutations with
// exactly-once effect per idempotency key and fans snapshots out to
// subscribers. Fault injection (SetOffline, FailNext) lets tests drive the
// transient and permanent failure paths.
//
// Thread-safety: MemoryBackend is safe for concurrent use.
type MemoryBackend struct {
	clock schedule.Clock

	// deliverMu serializes snapshot delivery so subscribers observe
	// snapshots in commit order. It is always taken before mu.
	deliverMu sync.Mutex

	mu       sync.Mutex
	docs     map[string]map[string]ir.Document
	applied  map[string]struct{}
	log      []Mutation
	attempts int
	offline  bool
	failures []error
	subs     map[int]*memorySubscription
	nextSub  int
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock sets the clock used for snapshot read times.
func WithMemoryClock(c schedule.Clock) MemoryOption {
	return func(b *MemoryBackend) { b.clock = c }
}

// NewMemoryBackend creates an empty, online backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		clock:   schedule.SystemClock{},
		docs:    make(map[string]map[string]ir.Document),
		applied: make(map[string]struct{}),
		subs:    make(map[int]*memorySubscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Adapter = (*MemoryBackend)(nil)

// ApplyMutation applies m unless a mutation with the same idempotency key was
// already applied, in which case it succeeds without effect.
func (b *MemoryBackend) ApplyMutation(ctx context.Context, m Mutation) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	if m.Collection == "" || m.EntityID == "" || !m.Operation.Valid() {
		return Permanent(CodeInvalid, fmt.Errorf("malformed mutation %s/%s %q", m.Collection, m.EntityID, m.Operation))
	}

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.attempts++
	if b.offline {
		b.mu.Unlock()
		return Transient(CodeUnavailable, ErrOffline)
	}
	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		b.mu.Unlock()
		return err
	}
	if m.IdempotencyKey != "" {
		if _, dup := b.applied[m.IdempotencyKey]; dup {
			b.mu.Unlock()
			slog.Debug("duplicate mutation ignored",
				"event", "remote_duplicate",
				"idempotency_key", m.IdempotencyKey)
			return nil
		}
		b.applied[m.IdempotencyKey] = struct{}{}
	}
	b.applyLocked(m)
	b.log = append(b.log, Mutation{
		Collection:     m.Collection,
		EntityID:       m.EntityID,
		Operation:      m.Operation,
		Payload:        m.Payload.Clone(),
		IdempotencyKey: m.IdempotencyKey,
		Timestamp:      m.Timestamp,
	})
	deliveries := b.snapshotsLocked(m.Collection)
	b.mu.Unlock()

	deliver(deliveries)
	return nil
}

// applyLocked applies the document effect of m. Every operation is a merge
// into the current document so that replaying a log with a create dropped by
// retention still converges. Delete stamps deletedAt when the payload does
// not carry it.
func (b *MemoryBackend) applyLocked(m Mutation) {
	coll := b.docs[m.Collection]
	if coll == nil {
		coll = make(map[string]ir.Document)
		b.docs[m.Collection] = coll
	}

	var doc ir.Document
	if m.Operation == ir.OpCreate {
		doc = m.Payload.Clone()
		if doc == nil {
			doc = ir.Document{}
		}
	} else {
		doc = coll[m.EntityID].Merge(m.Payload)
	}
	if m.Operation == ir.OpDelete && !doc.IsDeleted() {
		doc[ir.FieldDeletedAt] = m.Timestamp
	}
	doc[ir.FieldID] = m.EntityID
	coll[m.EntityID] = doc
}

// Put writes doc directly, as another client would, and notifies
// subscribers. The document must carry an id.
func (b *MemoryBackend) Put(collection string, doc ir.Document) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	coll := b.docs[collection]
	if coll == nil {
		coll = make(map[string]ir.Document)
		b.docs[collection] = coll
	}
	coll[doc.ID()] = doc.Clone()
	deliveries := b.snapshotsLocked(collection)
	b.mu.Unlock()

	deliver(deliveries)
}

// Remove deletes a document outright and notifies subscribers.
func (b *MemoryBackend) Remove(collection, id string) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	delete(b.docs[collection], id)
	deliveries := b.snapshotsLocked(collection)
	b.mu.Unlock()

	deliver(deliveries)
}

// Doc returns a copy of one remote document.
func (b *MemoryBackend) Doc(collection, id string) (ir.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[collection][id]
	return doc.Clone(), ok
}

// Docs returns copies of every document of a collection, sorted by id.
func (b *MemoryBackend) Docs(collection string) []ir.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.matchingLocked(Query{Collection: collection}, true)
}

// Applied returns the mutations that took effect, in order.
func (b *MemoryBackend) Applied() []Mutation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.log)
}

// Attempts returns how many ApplyMutation calls reached the backend,
// including failed and duplicate ones.
func (b *MemoryBackend) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// SetOffline switches the backend off or on. Going offline reports an
// unavailable error to every subscription; coming back online re-delivers a
// fresh snapshot to each.
func (b *MemoryBackend) SetOffline(offline bool) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if b.offline == offline {
		b.mu.Unlock()
		return
	}
	b.offline = offline
	var deliveries []delivery
	if offline {
		for _, sub := range b.sortedSubsLocked() {
			deliveries = append(deliveries, delivery{sub: sub, err: Transient(CodeUnavailable, ErrOffline)})
		}
	} else {
		for _, sub := range b.sortedSubsLocked() {
			deliveries = append(deliveries, b.snapshotForLocked(sub))
		}
	}
	b.mu.Unlock()

	deliver(deliveries)
}

// FailNext queues errors returned by the next ApplyMutation calls, one per
// call, before any effect is applied.
func (b *MemoryBackend) FailNext(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, errs...)
}

// Probe succeeds while the backend is online.
func (b *MemoryBackend) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return Transient(CodeUnavailable, ErrOffline)
	}
	return nil
}

// Subscribe registers sink for q. The current snapshot is delivered before
// Subscribe returns, or an unavailable error while offline.
func (b *MemoryBackend) Subscribe(ctx context.Context, q Query, sink Sink) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}
	if q.Collection == "" {
		return nil, Permanent(CodeInvalid, fmt.Errorf("subscription requires a collection"))
	}

	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.nextSub++
	sub := &memorySubscription{id: b.nextSub, b: b, q: q, sink: sink}
	b.subs[sub.id] = sub
	var d delivery
	if b.offline {
		d = delivery{sub: sub, err: Transient(CodeUnavailable, ErrOffline)}
	} else {
		d = b.snapshotForLocked(sub)
	}
	b.mu.Unlock()

	deliver([]delivery{d})
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (b *MemoryBackend) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type delivery struct {
	sub   *memorySubscription
	batch Batch
	err   error
}

func deliver(ds []delivery) {
	for _, d := range ds {
		d.sub.mu.Lock()
		closed := d.sub.closed
		d.sub.mu.Unlock()
		if closed {
			continue
		}
		if d.err != nil {
			d.sub.sink.OnError(d.err)
			continue
		}
		d.sub.sink.OnBatch(d.batch)
	}
}

func (b *MemoryBackend) sortedSubsLocked() []*memorySubscription {
	subs := make([]*memorySubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, c *memorySubscription) int { return a.id - c.id })
	return subs
}

// snapshotsLocked builds a fresh snapshot for every subscription on
// collection. Nothing is delivered while offline.
func (b *MemoryBackend) snapshotsLocked(collection string) []delivery {
	if b.offline {
		return nil
	}
	var out []delivery
	for _, sub := range b.sortedSubsLocked() {
		if sub.q.Collection == collection {
			out = append(out, b.snapshotForLocked(sub))
		}
	}
	return out
}

func (b *MemoryBackend) snapshotForLocked(sub *memorySubscription) delivery {
	return delivery{sub: sub, batch: Batch{
		Docs:     b.matchingLocked(sub.q, false),
		ReadTime: schedule.NowMillis(b.clock),
	}}
}

func (b *MemoryBackend) matchingLocked(q Query, all bool) []ir.Document {
	coll := b.docs[q.Collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]ir.Document, 0, len(ids))
	for _, id := range ids {
		doc := coll[id]
		if all || q.Matches(doc) {
			out = append(out, doc.Clone())
		}
	}
	return out
}

type memorySubscription struct {
	id   int
	b    *MemoryBackend
	q    Query
	sink Sink

	mu     sync.Mutex
	closed bool
}

// Close unregisters the subscription.
func (s *memorySubscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.b.mu.Lock()
	delete(s.b.subs, s.id)
	s.b.mu.Unlock()
}
