package wal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
)

// CleanupResult reports what AutoCleanup removed.
type CleanupResult struct {
	Cleared  int `json:"cleared"`
	Enforced int `json:"enforced"`
}

// ClearSynced deletes synced entries created more than maxAge ago and
// returns how many were removed. Entries in any other state are kept
// regardless of age.
func (w *WAL) ClearSynced(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := schedule.NowMillis(w.clock) - maxAge.Milliseconds()
	synced := string(ir.StatusSynced)

	n := 0
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		keys, err := tx.KeysByIndex(ctx, queryir.Query{
			Collection: Collection,
			Index:      indexState,
			Where: queryir.Range{
				Min:          synced + "/",
				Max:          synced + "/" + orderKey(cutoff, 0),
				MaxExclusive: true,
			},
		})
		if err != nil {
			return err
		}
		n, err = tx.DeleteMany(ctx, Collection, keys)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear synced: %w", err)
	}
	if n > 0 {
		slog.Debug("cleared synced mutations", "event", "wal_clear_synced", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// EnforceMaxSize trims the log to limit entries by deleting the oldest
// synced entries first and then the oldest terminal failures. Unsynced
// entries are never deleted, so the log may remain above limit. Returns the
// number of entries removed.
func (w *WAL) EnforceMaxSize(ctx context.Context, limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("enforce max size: negative limit %d", limit)
	}

	removed := 0
	remaining := 0
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		total, err := tx.Count(ctx, Collection)
		if err != nil {
			return err
		}
		excess := total - limit
		for _, state := range []string{string(ir.StatusSynced), "terminal"} {
			if excess <= 0 {
				break
			}
			keys, err := tx.KeysByIndex(ctx, queryir.Query{
				Collection: Collection,
				Index:      indexState,
				Where:      stateRange(state),
				Limit:      excess,
			})
			if err != nil {
				return err
			}
			n, err := tx.DeleteMany(ctx, Collection, keys)
			if err != nil {
				return err
			}
			removed += n
			excess -= n
		}
		remaining = excess
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enforce max size: %w", err)
	}
	if remaining > 0 {
		slog.Warn("wal over size limit with only unsynced entries left",
			"event", "wal_over_limit",
			"limit", limit,
			"over_by", remaining)
	}
	if removed > 0 {
		slog.Debug("trimmed wal", "event", "wal_enforce_max_size", "removed", removed, "limit", limit)
	}
	return removed, nil
}

// AutoCleanup runs ClearSynced and then EnforceMaxSize with the configured
// retention. It is best-effort: a failing step is logged and reported, and
// the other step still runs.
func (w *WAL) AutoCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	var firstErr error

	if w.retention.MaxAge > 0 {
		n, err := w.ClearSynced(ctx, w.retention.MaxAge)
		if err != nil {
			slog.Warn("wal cleanup step failed", "event", "wal_cleanup_error", "step", "clear_synced", "error", err)
			firstErr = err
		}
		res.Cleared = n
	}

	if w.retention.MaxEntries > 0 {
		n, err := w.EnforceMaxSize(ctx, w.retention.MaxEntries)
		if err != nil {
			slog.Warn("wal cleanup step failed", "event", "wal_cleanup_error", "step", "enforce_max_size", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		res.Enforced = n
	}

	slog.Info("wal cleanup finished", "event", "wal_cleanup", "cleared", res.Cleared, "enforced", res.Enforced)
	return res, firstErr
}
