package wal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
)

// InterruptedError is the last_error recorded on entries recovered from a
// crash mid-delivery.
const InterruptedError = "interrupted"

// validTransition reports whether from -> to is an edge of the entry state
// machine. A terminal failed entry additionally refuses failed -> pending.
func validTransition(e ir.MutationEntry, to ir.Status) bool {
	switch e.Status {
	case ir.StatusPending:
		return to == ir.StatusSyncing
	case ir.StatusSyncing:
		return to == ir.StatusSynced || to == ir.StatusFailed
	case ir.StatusFailed:
		return to == ir.StatusPending && !e.Terminal
	}
	return false
}

// modify applies fn to entry id inside one transaction and persists the
// result. fn may return an error to abort without writing; the entry as
// modified so far is still returned for callers that need it.
func (w *WAL) modify(ctx context.Context, op, id string, fn func(e *ir.MutationEntry) error) (ir.MutationEntry, error) {
	var out ir.MutationEntry
	var fnErr error
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		fnErr = fn(&e)
		out = e
		if fnErr != nil && !errors.Is(fnErr, ErrMaxRetriesExceeded) {
			return fnErr
		}
		e.UpdatedAt = schedule.NowMillis(w.clock)
		out = e
		return putEntry(ctx, tx, e)
	})
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", op, id, err)
	}
	if fnErr != nil {
		return out, fmt.Errorf("%s %s: %w", op, id, fnErr)
	}
	return out, nil
}

// UpdateStatus moves entry id to status. errMsg is recorded as last_error
// on a transition to failed. Only the edges of the state machine are
// accepted; anything else fails with ErrInvalidTransition and leaves the
// entry unchanged.
func (w *WAL) UpdateStatus(ctx context.Context, id string, status ir.Status, errMsg string) error {
	_, err := w.modify(ctx, "update status", id, func(e *ir.MutationEntry) error {
		if !validTransition(*e, status) {
			return fmt.Errorf("%w: %s -> %s (terminal=%v)", ErrInvalidTransition, e.Status, status, e.Terminal)
		}
		switch status {
		case ir.StatusSynced:
			e.LastError = ""
			e.NextAttemptAt = 0
		case ir.StatusFailed:
			e.LastError = errMsg
			e.Terminal = false
		case ir.StatusPending:
			e.NextAttemptAt = 0
		}
		e.Status = status
		return nil
	})
	if err == nil {
		slog.Debug("wal status changed", "event", "wal_status", "id", id, "status", status)
	}
	return err
}

// IncrementRetry records one more failed attempt and returns the new retry
// count. When the count reaches the retry budget the entry becomes a terminal
// failure and the error matches ErrMaxRetriesExceeded; the entry is still
// persisted in that case.
func (w *WAL) IncrementRetry(ctx context.Context, id string) (int, error) {
	e, err := w.modify(ctx, "increment retry", id, func(e *ir.MutationEntry) error {
		if e.Status == ir.StatusSynced {
			return fmt.Errorf("%w: cannot retry a synced entry", ErrInvalidTransition)
		}
		if e.Terminal {
			return fmt.Errorf("%w: entry is a terminal failure", ErrInvalidTransition)
		}
		e.RetryCount++
		if e.RetryCount >= w.maxRetries {
			e.Status = ir.StatusFailed
			e.Terminal = true
			e.NextAttemptAt = 0
			return ErrMaxRetriesExceeded
		}
		return nil
	})
	if errors.Is(err, ErrMaxRetriesExceeded) {
		slog.Warn("mutation exhausted retries",
			"event", "wal_retries_exhausted",
			"id", id,
			"retry_count", e.RetryCount,
			"last_error", e.LastError)
	}
	return e.RetryCount, err
}

// FailPermanent records a non-retryable failure: syncing (or an already
// failed entry) becomes a terminal failure with errMsg as last_error.
func (w *WAL) FailPermanent(ctx context.Context, id, errMsg string) error {
	_, err := w.modify(ctx, "fail permanent", id, func(e *ir.MutationEntry) error {
		if e.Status != ir.StatusSyncing && e.Status != ir.StatusFailed {
			return fmt.Errorf("%w: %s -> failed(terminal)", ErrInvalidTransition, e.Status)
		}
		e.Status = ir.StatusFailed
		e.Terminal = true
		e.LastError = errMsg
		e.NextAttemptAt = 0
		return nil
	})
	if err == nil {
		slog.Warn("mutation failed permanently", "event", "wal_failed_terminal", "id", id, "error", errMsg)
	}
	return err
}

// Defer sets the backoff deadline (Unix ms) of a retryable failed entry.
func (w *WAL) Defer(ctx context.Context, id string, until int64) error {
	_, err := w.modify(ctx, "defer", id, func(e *ir.MutationEntry) error {
		if e.Status != ir.StatusFailed || e.Terminal {
			return fmt.Errorf("%w: only retryable failures can be deferred", ErrInvalidTransition)
		}
		e.NextAttemptAt = until
		return nil
	})
	return err
}

// Retry is the manual resync: a failed entry, terminal or not, returns to
// pending with a fresh retry budget. An entry whose entity already has a
// newer synced entry in the log is refused with ErrSuperseded, since
// replaying it would overwrite the newer state on the remote.
func (w *WAL) Retry(ctx context.Context, id string) error {
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		e, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if e.Status != ir.StatusFailed {
			return fmt.Errorf("%w: %s cannot be resynced", ErrInvalidTransition, e.Status)
		}
		newer, err := newerSynced(ctx, tx, e)
		if err != nil {
			return err
		}
		if newer != "" {
			return fmt.Errorf("%w by %s", ErrSuperseded, newer)
		}
		e.Status = ir.StatusPending
		e.Terminal = false
		e.RetryCount = 0
		e.NextAttemptAt = 0
		e.UpdatedAt = schedule.NowMillis(w.clock)
		return putEntry(ctx, tx, e)
	})
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	slog.Info("mutation resync requested", "event", "wal_resync", "id", id)
	return nil
}

// newerSynced returns the id of a synced entry of e's entity stamped after
// e, or "" when there is none.
func newerSynced(ctx context.Context, tx *store.Tx, e ir.MutationEntry) (string, error) {
	records, err := tx.GetByIndex(ctx, queryir.Query{
		Collection: Collection,
		Index:      indexEntity,
		Where:      queryir.Equals{Value: e.EntityKey()},
	})
	if err != nil {
		return "", err
	}
	entries, err := decodeRecords(records)
	if err != nil {
		return "", err
	}
	for _, other := range entries {
		if other.Status == ir.StatusSynced && e.Before(other) {
			return other.ID, nil
		}
	}
	return "", nil
}

// RecoverInterrupted turns every entry left in syncing by a crash into a
// retryable failure with last_error "interrupted", so normal retry replays
// it. The remote deduplicates by idempotency key, so a delivery that did
// complete before the crash has no second effect. Returns the number of
// entries recovered.
func (w *WAL) RecoverInterrupted(ctx context.Context) (int, error) {
	n := 0
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		entries, err := w.byState(ctx, tx, string(ir.StatusSyncing))
		if err != nil {
			return err
		}
		now := schedule.NowMillis(w.clock)
		for _, e := range entries {
			e.Status = ir.StatusFailed
			e.Terminal = false
			e.LastError = InterruptedError
			e.UpdatedAt = now
			if err := putEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		n = len(entries)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover interrupted: %w", err)
	}
	if n > 0 {
		slog.Info("recovered interrupted mutations", "event", "wal_recovered", "count", n)
	}
	return n, nil
}
