package wal

import (
	"context"
	"fmt"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/store"
)

// reader is the read surface shared by *store.Store and *store.Tx.
type reader interface {
	GetByIndex(ctx context.Context, q queryir.Query) ([]store.Record, error)
	CountByIndex(ctx context.Context, q queryir.Query) (int, error)
}

// byState returns the entries of one retention state in (timestamp, seq)
// order.
func (w *WAL) byState(ctx context.Context, r reader, state string) ([]ir.MutationEntry, error) {
	records, err := r.GetByIndex(ctx, queryir.Query{
		Collection: Collection,
		Index:      indexState,
		Where:      stateRange(state),
	})
	if err != nil {
		return nil, err
	}
	return decodeRecords(records)
}

func (w *WAL) byStates(ctx context.Context, r reader, states ...string) ([]ir.MutationEntry, error) {
	var all []ir.MutationEntry
	for _, state := range states {
		entries, err := w.byState(ctx, r, state)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	sortEntries(all)
	if all == nil {
		all = []ir.MutationEntry{}
	}
	return all, nil
}

// GetPending returns the outbox: entries that are pending or failed with
// retries remaining, ordered by (timestamp, seq). Backoff deadlines are not
// applied here; the sync engine honours NextAttemptAt.
func (w *WAL) GetPending(ctx context.Context) ([]ir.MutationEntry, error) {
	entries, err := w.byStates(ctx, w.st, string(ir.StatusPending), string(ir.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return entries, nil
}

// PendingFor returns the unsynced entries (pending, syncing, retryable
// failed) of one entity in (timestamp, seq) order.
func (w *WAL) PendingFor(ctx context.Context, collection, entityID string) ([]ir.MutationEntry, error) {
	records, err := w.st.GetByIndex(ctx, queryir.Query{
		Collection: Collection,
		Index:      indexEntity,
		Where:      queryir.Equals{Value: ir.EntityKey(collection, entityID)},
	})
	if err != nil {
		return nil, fmt.Errorf("pending for %s/%s: %w", collection, entityID, err)
	}
	entries, err := decodeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("pending for %s/%s: %w", collection, entityID, err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Unsynced() {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Failed returns every failed entry, retryable and terminal, in
// (timestamp, seq) order.
func (w *WAL) Failed(ctx context.Context) ([]ir.MutationEntry, error) {
	entries, err := w.byStates(ctx, w.st, string(ir.StatusFailed), "terminal")
	if err != nil {
		return nil, fmt.Errorf("failed entries: %w", err)
	}
	return entries, nil
}

// All returns every entry in (timestamp, seq) order.
func (w *WAL) All(ctx context.Context) ([]ir.MutationEntry, error) {
	records, err := w.st.GetByIndex(ctx, queryir.Query{Collection: Collection, Index: indexOrder})
	if err != nil {
		return nil, fmt.Errorf("all entries: %w", err)
	}
	entries, err := decodeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("all entries: %w", err)
	}
	return entries, nil
}

// Stats counts entries per state.
type Stats struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`   // retryable
	Terminal int `json:"terminal"` // failed, needs manual resync
	Total    int `json:"total"`
}

// Unsynced is the number of entries the remote has not yet observed.
func (s Stats) Unsynced() int {
	return s.Pending + s.Syncing + s.Failed
}

// Stats returns entry counts per state.
func (w *WAL) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		state string
		dst   *int
	}{
		{string(ir.StatusPending), &st.Pending},
		{string(ir.StatusSyncing), &st.Syncing},
		{string(ir.StatusSynced), &st.Synced},
		{string(ir.StatusFailed), &st.Failed},
		{"terminal", &st.Terminal},
	}
	for _, c := range counts {
		n, err := w.st.CountByIndex(ctx, queryir.Query{
			Collection: Collection,
			Index:      indexState,
			Where:      stateRange(c.state),
		})
		if err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		*c.dst = n
	}
	st.Total = st.Pending + st.Syncing + st.Synced + st.Failed + st.Terminal
	return st, nil
}
