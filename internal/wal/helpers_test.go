package wal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/testutil"
)

// fixtureStart is the fixture clock start (Unix ms), late enough that
// retention tests can place entries days in the past.
const fixtureStart = 1_700_000_000_000

type fixture struct {
	wal   *WAL
	store *store.Store
	clock *testutil.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "wal.db"),
		StoreCollection(),
		store.Collection{Name: "patients"},
	)
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(time.UnixMilli(fixtureStart))
	all := append([]Option{WithClock(clock), WithIDGenerator(testutil.NewSequentialIDs("m"))}, opts...)
	return &fixture{wal: New(st, all...), store: st, clock: clock}
}

func update(entity string, payload ir.Document) ir.MutationEntry {
	return ir.MutationEntry{
		Collection: "patients",
		EntityID:   entity,
		Operation:  ir.OpUpdate,
		Payload:    payload,
	}
}

// add appends an update and returns its id.
func (f *fixture) add(t *testing.T, entity string) string {
	t.Helper()
	id, err := f.wal.Add(context.Background(), update(entity, ir.Document{"id": entity}))
	require.NoError(t, err)
	return id
}

// seed adds an entry and drives it into the requested state.
func (f *fixture) seed(t *testing.T, entity string, status ir.Status, terminal bool) string {
	t.Helper()
	ctx := context.Background()
	id := f.add(t, entity)
	switch status {
	case ir.StatusPending:
	case ir.StatusSyncing:
		require.NoError(t, f.wal.UpdateStatus(ctx, id, ir.StatusSyncing, ""))
	case ir.StatusSynced:
		require.NoError(t, f.wal.UpdateStatus(ctx, id, ir.StatusSyncing, ""))
		require.NoError(t, f.wal.UpdateStatus(ctx, id, ir.StatusSynced, ""))
	case ir.StatusFailed:
		require.NoError(t, f.wal.UpdateStatus(ctx, id, ir.StatusSyncing, ""))
		if terminal {
			require.NoError(t, f.wal.FailPermanent(ctx, id, "permission_denied"))
		} else {
			require.NoError(t, f.wal.UpdateStatus(ctx, id, ir.StatusFailed, "timeout"))
		}
	}
	return id
}

func ids(entries []ir.MutationEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
