package remote

import (
	"context"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
)

// Mutation is one WAL entry as delivered to the remote.
type Mutation struct {
	Collection     string       `json:"collection"`
	EntityID       string       `json:"entity_id"`
	Operation      ir.Operation `json:"operation"`
	Payload        ir.Document  `json:"payload,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Timestamp      int64        `json:"timestamp"`
}

// MutationFromEntry builds the delivery form of a WAL entry.
func MutationFromEntry(e ir.MutationEntry) Mutation {
	return Mutation{
		Collection:     e.Collection,
		EntityID:       e.EntityID,
		Operation:      e.Operation,
		Payload:        e.Payload.Clone(),
		IdempotencyKey: e.IdempotencyKey,
		Timestamp:      e.Timestamp,
	}
}

// Query scopes a subscription: documents of Collection whose Field equals
// Value (or all documents when Field is empty), restricted to live documents
// or, with Deleted set, to tombstones only.
type Query struct {
	Collection string `json:"collection"`
	Field      string `json:"field,omitempty"`
	Value      any    `json:"value,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// Matches reports whether doc, a document of q.Collection, is in scope.
func (q Query) Matches(doc ir.Document) bool {
	if doc.IsDeleted() != q.Deleted {
		return false
	}
	if q.Field == "" {
		return true
	}
	want, ok := queryir.IndexValue(q.Value)
	if !ok {
		return false
	}
	got, ok := queryir.IndexValue(doc[q.Field])
	return ok && got == want
}

// Batch is one snapshot of a subscription: every document currently in
// scope, read at ReadTime (Unix ms).
type Batch struct {
	Docs     []ir.Document `json:"docs"`
	ReadTime int64         `json:"read_time"`
}

// Sink receives the output of a subscription. Implementations must return
// quickly and must not call back into the backend synchronously.
type Sink interface {
	OnBatch(Batch)
	OnError(error)
}

// Subscription is a live subscription handle.
type Subscription interface {
	// Close stops delivery. It is idempotent.
	Close()
}

// Applier applies mutations remotely.
type Applier interface {
	ApplyMutation(ctx context.Context, m Mutation) error
}

// Subscriber opens realtime subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query, sink Sink) (Subscription, error)
}

// Prober performs one bounded liveness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Adapter is the full remote surface.
type Adapter interface {
	Applier
	Subscriber
	Prober
}
