package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	errs    []error
}

func (s *recordingSink) OnBatch(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) last() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[len(s.batches)-1]
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches), len(s.errs)
}

func mutation(op ir.Operation, id, key string, payload ir.Document) Mutation {
	return Mutation{
		Collection:     "patients",
		EntityID:       id,
		Operation:      op,
		Payload:        payload,
		IdempotencyKey: key,
		Timestamp:      100,
	}
}

func TestMemoryBackend_IdempotentApply(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	m := mutation(ir.OpUpdate, "p1", "k1", ir.Document{"diagnosis": "pneumonia"})
	require.NoError(t, b.ApplyMutation(ctx, m))
	require.NoError(t, b.ApplyMutation(ctx, m))

	assert.Len(t, b.Applied(), 1)
	assert.Equal(t, 2, b.Attempts())

	doc, ok := b.Doc("patients", "p1")
	require.True(t, ok)
	assert.Equal(t, "pneumonia", doc["diagnosis"])
	assert.Equal(t, "p1", doc.ID())
}

func TestMemoryBackend_Operations(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpCreate, "p1", "k1", ir.Document{"bed": "3A", "note": "x"})))
	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpUpdate, "p1", "k2", ir.Document{"bed": "4B"})))

	doc, _ := b.Doc("patients", "p1")
	assert.Equal(t, "4B", doc["bed"])
	assert.Equal(t, "x", doc["note"], "update merges")

	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpDelete, "p1", "k3", nil)))
	doc, _ = b.Doc("patients", "p1")
	assert.True(t, doc.IsDeleted())
	assert.Equal(t, int64(100), doc[ir.FieldDeletedAt])

	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpUpdate, "p1", "k4", ir.Document{ir.FieldDeletedAt: nil})))
	doc, _ = b.Doc("patients", "p1")
	assert.False(t, doc.IsDeleted(), "restore clears the tombstone")
}

func TestMemoryBackend_RejectsMalformed(t *testing.T) {
	b := NewMemoryBackend()
	err := b.ApplyMutation(context.Background(), Mutation{Collection: "patients", Operation: ir.OpCreate})
	assert.True(t, IsPermanent(err))
	assert.Zero(t, b.Attempts())
}

func TestMemoryBackend_FaultInjection(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	m := mutation(ir.OpUpdate, "p1", "k1", ir.Document{"x": 1})

	b.SetOffline(true)
	err := b.ApplyMutation(ctx, m)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrOffline)
	assert.Error(t, b.Probe(ctx))

	b.SetOffline(false)
	require.NoError(t, b.Probe(ctx))

	denied := Permanent(CodePermissionDenied, errors.New("rules"))
	b.FailNext(denied)
	assert.ErrorIs(t, b.ApplyMutation(ctx, m), denied)
	assert.Empty(t, b.Applied(), "a failed attempt has no effect")

	require.NoError(t, b.ApplyMutation(ctx, m), "the key is not consumed by a failed attempt")
	assert.Len(t, b.Applied(), 1)
}

func TestMemoryBackend_CanceledContext(t *testing.T) {
	b := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.ApplyMutation(ctx, mutation(ir.OpUpdate, "p1", "k1", nil))
	assert.True(t, IsTransient(err))
}

func TestMemoryBackend_SubscribeSnapshots(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(5000))
	b := NewMemoryBackend(WithMemoryClock(clock))
	ctx := context.Background()

	b.Put("patients", ir.Document{"id": "p1", "unitId": "icu"})
	b.Put("patients", ir.Document{"id": "p2", "unitId": "ward"})

	sink := &recordingSink{}
	sub, err := b.Subscribe(ctx, Query{Collection: "patients", Field: "unitId", Value: "icu"}, sink)
	require.NoError(t, err)

	n, _ := sink.counts()
	require.Equal(t, 1, n, "initial snapshot is delivered on subscribe")
	first := sink.last()
	require.Len(t, first.Docs, 1)
	assert.Equal(t, "p1", first.Docs[0].ID())
	assert.Equal(t, int64(5000), first.ReadTime)

	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpCreate, "p3", "k3", ir.Document{"unitId": "icu"})))
	n, _ = sink.counts()
	require.Equal(t, 2, n)
	assert.Len(t, sink.last().Docs, 2)

	// Tombstoned documents leave the live scope.
	require.NoError(t, b.ApplyMutation(ctx, mutation(ir.OpDelete, "p1", "k4", nil)))
	require.Len(t, sink.last().Docs, 1)
	assert.Equal(t, "p3", sink.last().Docs[0].ID())

	sub.Close()
	sub.Close()
	assert.Zero(t, b.Subscribers())
	b.Put("patients", ir.Document{"id": "p4", "unitId": "icu"})
	n, _ = sink.counts()
	assert.Equal(t, 3, n, "no delivery after Close")
}

func TestMemoryBackend_TrashScope(t *testing.T) {
	b := NewMemoryBackend()
	b.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "deletedAt": 10})
	b.Put("patients", ir.Document{"id": "p2", "unitId": "icu"})

	sink := &recordingSink{}
	_, err := b.Subscribe(context.Background(), Query{Collection: "patients", Field: "unitId", Value: "icu", Deleted: true}, sink)
	require.NoError(t, err)
	require.Len(t, sink.last().Docs, 1)
	assert.Equal(t, "p1", sink.last().Docs[0].ID())
}

func TestMemoryBackend_OfflineSubscriptions(t *testing.T) {
	b := NewMemoryBackend()
	sink := &recordingSink{}
	_, err := b.Subscribe(context.Background(), Query{Collection: "units"}, sink)
	require.NoError(t, err)

	b.SetOffline(true)
	b.SetOffline(true)
	batches, errs := sink.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, errs, "repeated offline signals report once")

	b.Put("units", ir.Document{"id": "u1"})
	batches, _ = sink.counts()
	assert.Equal(t, 1, batches, "nothing is delivered while offline")

	b.SetOffline(false)
	batches, _ = sink.counts()
	assert.Equal(t, 2, batches)
	assert.Len(t, sink.last().Docs, 1, "coming back online delivers the missed state")
}

func TestQueryMatches(t *testing.T) {
	q := Query{Collection: "patients", Field: "bed", Value: 3}
	assert.True(t, q.Matches(ir.Document{"bed": float64(3)}))
	assert.False(t, q.Matches(ir.Document{"bed": 4}))
	assert.False(t, q.Matches(ir.Document{}))
	assert.False(t, q.Matches(ir.Document{"bed": 3, "deletedAt": 1}))
	assert.True(t, Query{Collection: "units"}.Matches(ir.Document{"id": "u"}))
}
