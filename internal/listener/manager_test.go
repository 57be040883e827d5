package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/conflict"
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/testutil"
)

type recorder struct {
	mu        sync.Mutex
	events    []ir.RemoteChangeEvent
	deltas    []Delta
	errs      []error
	successes int
	failures  int
	applyErr  error
	decision  conflict.Decision
	block     chan struct{}
}

func (r *recorder) Apply(ctx context.Context, ev ir.RemoteChangeEvent) (conflict.Decision, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return "", r.applyErr
	}
	r.events = append(r.events, ev)
	if r.decision != "" {
		return r.decision, nil
	}
	return conflict.Applied, nil
}

func (r *recorder) decide(d conflict.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decision = d
}

func (r *recorder) ReportSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes++
}

func (r *recorder) ReportFailure(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *recorder) onDelta(_ string, d Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func (r *recorder) onError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() ([]ir.RemoteChangeEvent, []Delta, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.RemoteChangeEvent(nil), r.events...),
		append([]Delta(nil), r.deltas...),
		append([]error(nil), r.errs...)
}

func (r *recorder) health() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes, r.failures
}

func newManager(t *testing.T) (*Manager, *remote.MemoryBackend, *recorder) {
	t.Helper()
	clock := testutil.NewFakeClock(time.UnixMilli(1000))
	backend := remote.NewMemoryBackend(remote.WithMemoryClock(clock))
	rec := &recorder{}
	m := New(backend, rec,
		WithHealth(rec),
		WithErrorHandler(rec.onError),
		WithDeltaObserver(rec.onDelta))
	t.Cleanup(m.UnsubscribeAll)
	return m, backend, rec
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func unitQuery(unit string) remote.Query {
	return remote.Query{Collection: "patients", Field: "unitId", Value: unit}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "units", Key("units"))
	assert.Equal(t, "patients_icu", Key("patients", "icu"))
	assert.Equal(t, "trash_icu", Key("trash", "icu"))
}

func TestManager_DeltaAndEvents(t *testing.T) {
	m, backend, rec := newManager(t)
	ctx := context.Background()
	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "updatedAt": 5})

	require.NoError(t, m.Subscribe(ctx, Key("patients", "icu"), unitQuery("icu")))
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 1 }, "initial snapshot applied")

	ev, deltas, _ := rec.snapshot()
	assert.Equal(t, ir.ChangeAdded, ev[0].ChangeType)
	assert.Equal(t, int64(5), ev[0].SourceTimestamp)
	assert.Equal(t, Delta{Added: []string{"p1"}}, deltas[0])

	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "updatedAt": 6, "bed": "3A"})
	backend.Put("patients", ir.Document{"id": "p2", "unitId": "icu"})
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 3 }, "modified and added")

	ev, deltas, _ = rec.snapshot()
	assert.Equal(t, ir.ChangeModified, ev[1].ChangeType)
	assert.Equal(t, "p2", ev[2].DocID)
	assert.Equal(t, ir.ChangeAdded, ev[2].ChangeType)
	assert.Equal(t, int64(1000), ev[2].SourceTimestamp, "read time stands in for a missing updatedAt")
	assert.Len(t, deltas, 3)

	backend.Remove("patients", "p1")
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 4 }, "removal")
	ev, deltas, _ = rec.snapshot()
	assert.Equal(t, ir.ChangeRemoved, ev[3].ChangeType)
	assert.Equal(t, "p1", ev[3].DocID)
	assert.Equal(t, Delta{Removed: []string{"p1"}}, deltas[3])

	succ, fail := rec.health()
	assert.GreaterOrEqual(t, succ, 4)
	assert.Zero(t, fail)
}

func TestManager_UnchangedBatchIsSilent(t *testing.T) {
	m, backend, rec := newManager(t)
	backend.Put("units", ir.Document{"id": "u1"})
	require.NoError(t, m.Subscribe(context.Background(), Key("units"), remote.Query{Collection: "units"}))
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 1 }, "initial")

	// Same content re-delivered.
	backend.Put("units", ir.Document{"id": "u1"})
	backend.Put("units", ir.Document{"id": "u2"})
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 2 }, "only u2")

	_, deltas, _ := rec.snapshot()
	assert.Len(t, deltas, 2)
}

func TestManager_StaleChangeIsOfferedAgain(t *testing.T) {
	m, backend, rec := newManager(t)
	rec.decide(conflict.Stale)
	backend.Put("units", ir.Document{"id": "u1"})
	require.NoError(t, m.Subscribe(context.Background(), Key("units"), remote.Query{Collection: "units"}))
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 1 }, "initial")

	rec.decide(conflict.Applied)
	backend.Put("units", ir.Document{"id": "u1"})
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 2 }, "stale document re-emitted")

	ev, _, _ := rec.snapshot()
	assert.Equal(t, "u1", ev[1].DocID)
	assert.Equal(t, ir.ChangeAdded, ev[1].ChangeType)

	// Applied now, so the same content is silent again.
	backend.Put("units", ir.Document{"id": "u1"})
	backend.Put("units", ir.Document{"id": "u2"})
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 3 }, "only u2")
	ev, _, _ = rec.snapshot()
	assert.Equal(t, "u2", ev[2].DocID)
}

func TestManager_ResubscribeKeepsOneListener(t *testing.T) {
	m, backend, rec := newManager(t)
	ctx := context.Background()
	key := Key("patients", "icu")

	require.NoError(t, m.Subscribe(ctx, key, unitQuery("icu")))
	require.NoError(t, m.Subscribe(ctx, key, unitQuery("icu")))
	assert.Equal(t, 1, backend.Subscribers())
	assert.Equal(t, []string{key}, m.Active())

	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu"})
	eventually(t, func() bool { _, d, _ := rec.snapshot(); return len(d) >= 1 }, "delta")
	time.Sleep(20 * time.Millisecond)

	ev, deltas, _ := rec.snapshot()
	assert.Len(t, deltas, 1, "exactly one delta callback")
	assert.Len(t, ev, 1)
}

func TestManager_ErrorsReportDisconnectAndKeepSubscription(t *testing.T) {
	m, backend, rec := newManager(t)
	require.NoError(t, m.Subscribe(context.Background(), Key("units"), remote.Query{Collection: "units"}))

	backend.SetOffline(true)
	eventually(t, func() bool { _, f := rec.health(); return f == 1 }, "failure reported")
	_, _, errs := rec.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, remote.IsTransient(errs[0]))
	assert.Equal(t, []string{"units"}, m.Active(), "errors never tear the subscription down")

	backend.Put("units", ir.Document{"id": "u1"})
	backend.SetOffline(false)
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 1 }, "resumes after reconnect")
}

func TestManager_ApplyErrorsSurface(t *testing.T) {
	m, backend, rec := newManager(t)
	rec.applyErr = errors.New("disk full")
	backend.Put("units", ir.Document{"id": "u1"})

	require.NoError(t, m.Subscribe(context.Background(), Key("units"), remote.Query{Collection: "units"}))
	eventually(t, func() bool { _, _, e := rec.snapshot(); return len(e) == 1 }, "apply error surfaced")
	_, f := rec.health()
	assert.Zero(t, f, "a local apply error is not a connectivity failure")
}

func TestManager_TrashScopeIgnoresRemovals(t *testing.T) {
	m, backend, rec := newManager(t)
	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "deletedAt": 10})

	q := remote.Query{Collection: "patients", Field: "unitId", Value: "icu", Deleted: true}
	require.NoError(t, m.Subscribe(context.Background(), Key("trash", "icu"), q))
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 1 }, "tombstone delivered")

	// Restore: the document leaves the trash scope.
	backend.Put("patients", ir.Document{"id": "p1", "unitId": "icu", "deletedAt": nil})
	backend.Put("patients", ir.Document{"id": "p2", "unitId": "icu", "deletedAt": 20})
	eventually(t, func() bool { ev, _, _ := rec.snapshot(); return len(ev) == 2 }, "second tombstone")

	ev, _, _ := rec.snapshot()
	assert.Equal(t, "p2", ev[1].DocID)
	for _, e := range ev {
		assert.NotEqual(t, ir.ChangeRemoved, e.ChangeType)
	}
}

func TestManager_UnsubscribeStopsCallbacks(t *testing.T) {
	m, backend, rec := newManager(t)
	rec.block = make(chan struct{})
	backend.Put("units", ir.Document{"id": "u1"})

	require.NoError(t, m.Subscribe(context.Background(), Key("units"), remote.Query{Collection: "units"}))
	eventually(t, func() bool { _, d, _ := rec.snapshot(); return len(d) == 1 }, "batch in progress")

	// The resolver is blocked inside the batch; Unsubscribe must still
	// return and cancel it.
	m.Unsubscribe(Key("units"))
	assert.Empty(t, m.Active())
	assert.Zero(t, backend.Subscribers())

	close(rec.block)
	backend.Put("units", ir.Document{"id": "u2"})
	time.Sleep(20 * time.Millisecond)
	ev, deltas, _ := rec.snapshot()
	assert.Empty(t, ev)
	assert.Len(t, deltas, 1)

	m.Unsubscribe(Key("units"))
	m.UnsubscribeAll()
	m.UnsubscribeAll()
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, remote.Query, remote.Sink) (remote.Subscription, error) {
	return nil, remote.Permanent(remote.CodeInvalid, errors.New("bad query"))
}

func TestManager_SubscribeFailure(t *testing.T) {
	m := New(failingSubscriber{}, &recorder{})
	err := m.Subscribe(context.Background(), "x", remote.Query{Collection: "units"})
	assert.True(t, remote.IsPermanent(err))
	assert.Empty(t, m.Active())

	assert.Error(t, m.Subscribe(context.Background(), "", remote.Query{Collection: "units"}))
}
