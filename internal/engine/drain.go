package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/wal"
)

// outcome tells the drain loop whether the entity's later entries may
// proceed in this cycle.
type outcome int

const (
	proceed outcome = iota // next entry of the entity may go
	hold                   // the entity waits for a later cycle
)

// Drain runs one drain cycle. If another cycle is in flight it returns
// immediately with Skipped set. Drain is not gated on connectivity.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	if !e.draining.CompareAndSwap(false, true) {
		slog.Debug("drain already in flight", "event", "engine_drain_skipped")
		return DrainResult{Skipped: true}, nil
	}
	defer e.draining.Store(false)

	var res DrainResult
	err := e.drain(ctx, &res)
	e.rearm(context.WithoutCancel(ctx))
	return res, err
}

func (e *Engine) drain(ctx context.Context, res *DrainResult) error {
	outbox, err := e.log.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	for _, group := range groupByEntity(outbox) {
		if err := ctx.Err(); err != nil {
			return err
		}
		head := group[0]
		blocked, err := e.blockedBySyncing(ctx, head)
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		if blocked {
			res.Waiting++
			continue
		}
		for _, entry := range group {
			out, err := e.process(ctx, entry.ID, res)
			if err != nil {
				return fmt.Errorf("drain %s: %w", entry.ID, err)
			}
			if out == hold {
				res.Waiting++
				break
			}
		}
	}
	return nil
}

// groupByEntity splits the ordered outbox into per-entity groups, keeping
// (timestamp, seq) order within each group and ordering groups by their
// oldest entry.
func groupByEntity(entries []ir.MutationEntry) [][]ir.MutationEntry {
	index := make(map[string]int)
	var groups [][]ir.MutationEntry
	for _, entry := range entries {
		key := entry.EntityKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], entry)
	}
	return groups
}

// blockedBySyncing reports whether an older entry of the same entity is
// still syncing, which only happens when a delivery was left in flight. Its
// outcome must be recorded before anything newer is sent.
func (e *Engine) blockedBySyncing(ctx context.Context, head ir.MutationEntry) (bool, error) {
	unsynced, err := e.log.PendingFor(ctx, head.Collection, head.EntityID)
	if err != nil {
		return false, err
	}
	for _, u := range unsynced {
		if !u.Before(head) {
			break
		}
		if u.Status == ir.StatusSyncing {
			slog.Debug("entity has a delivery in flight", "event", "engine_entity_in_flight", "entity", head.EntityKey(), "entry", u.ID)
			return true, nil
		}
	}
	return false, nil
}

// process delivers one entry.
func (e *Engine) process(ctx context.Context, id string, res *DrainResult) (outcome, error) {
	entry, ready, out, err := e.claim(ctx, id)
	if err != nil || !ready {
		return out, err
	}

	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	applyErr := e.remote.ApplyMutation(actx, remote.MutationFromEntry(entry))
	cancel()

	// Bookkeeping must survive a cancelled drain.
	return e.record(context.WithoutCancel(ctx), entry, applyErr, res)
}

// claim re-reads the entry under the entity lock and moves it to syncing.
// ready is false when the entry must not be sent now; out then says
// whether the entity's later entries may still go.
func (e *Engine) claim(ctx context.Context, id string) (ir.MutationEntry, bool, outcome, error) {
	var (
		entry ir.MutationEntry
		ready bool
		out   = proceed
	)

	// The entity key is not known until the entry is read, so read it
	// once to find the lock and again under it.
	first, err := e.log.Get(ctx, id)
	if errors.Is(err, wal.ErrNotFound) {
		return entry, false, proceed, nil
	}
	if err != nil {
		return entry, false, hold, err
	}

	err = e.locks.With(ctx, first.EntityKey(), func() error {
		cur, err := e.log.Get(ctx, id)
		if errors.Is(err, wal.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		switch cur.Status {
		case ir.StatusSynced, ir.StatusSyncing:
			// Already delivered or in flight: never resubmit.
			slog.Debug("entry no longer pending", "event", "engine_suppressed", "id", id, "status", cur.Status)
			return nil
		case ir.StatusFailed:
			if cur.Terminal {
				return nil
			}
			if cur.NextAttemptAt > schedule.NowMillis(e.clock) {
				out = hold
				return nil
			}
			if err := e.log.UpdateStatus(ctx, id, ir.StatusPending, ""); err != nil {
				return err
			}
		}

		if err := e.log.UpdateStatus(ctx, id, ir.StatusSyncing, ""); err != nil {
			return err
		}
		cur.Status = ir.StatusSyncing
		entry = cur
		ready = true
		return nil
	})
	if err != nil {
		return entry, false, hold, err
	}
	return entry, ready, out, nil
}

// record stores the outcome of a remote call, provided the entry is still
// syncing.
func (e *Engine) record(ctx context.Context, entry ir.MutationEntry, applyErr error, res *DrainResult) (outcome, error) {
	out := proceed
	err := e.locks.With(ctx, entry.EntityKey(), func() error {
		cur, err := e.log.Get(ctx, entry.ID)
		if err != nil && !errors.Is(err, wal.ErrNotFound) {
			return err
		}
		if err != nil || cur.Status != ir.StatusSyncing {
			status := "deleted"
			if err == nil {
				status = string(cur.Status)
			}
			slog.Warn("late completion dropped",
				"event", "engine_late_completion",
				"id", entry.ID,
				"entity", entry.EntityKey(),
				"current", status,
				"apply_error", applyErr)
			res.Late++
			e.emit(newEvent(EventLateCompletion, entry))
			out = hold
			return nil
		}

		if applyErr == nil {
			if err := e.log.UpdateStatus(ctx, entry.ID, ir.StatusSynced, ""); err != nil {
				return err
			}
			res.Synced++
			slog.Debug("entry synced", "event", "engine_synced", "id", entry.ID, "entity", entry.EntityKey())
			e.emit(newEvent(EventSynced, cur))
			return nil
		}

		classified := remote.Classify(applyErr)
		if classified.Kind == remote.KindPermanent {
			return e.failTerminal(ctx, cur, classified, res)
		}
		held, err := e.scheduleRetry(ctx, cur, classified, res)
		if held {
			out = hold
		}
		return err
	})
	return out, err
}

func (e *Engine) failTerminal(ctx context.Context, entry ir.MutationEntry, cause *remote.Error, res *DrainResult) error {
	if err := e.log.FailPermanent(ctx, entry.ID, cause.Error()); err != nil {
		return err
	}
	res.Failed++
	slog.Error("mutation rejected by remote",
		"event", "engine_failed",
		"id", entry.ID,
		"entity", entry.EntityKey(),
		"code", cause.Code,
		"error", cause)
	ev := newEvent(EventFailed, entry)
	ev.Code = cause.Code
	ev.Error = cause.Error()
	e.emit(ev)
	return nil
}

// scheduleRetry records a transient failure. It reports whether the entity
// must wait; an entry that just exhausted its retries becomes terminal and
// does not hold back later entries.
func (e *Engine) scheduleRetry(ctx context.Context, entry ir.MutationEntry, cause *remote.Error, res *DrainResult) (bool, error) {
	if err := e.log.UpdateStatus(ctx, entry.ID, ir.StatusFailed, cause.Error()); err != nil {
		return true, err
	}
	n, err := e.log.IncrementRetry(ctx, entry.ID)
	if errors.Is(err, wal.ErrMaxRetriesExceeded) {
		entry.RetryCount = n
		res.Failed++
		ev := newEvent(EventFailed, entry)
		ev.Code = cause.Code
		ev.Error = fmt.Sprintf("%s: %v", wal.ErrMaxRetriesExceeded, cause)
		e.emit(ev)
		return false, nil
	}
	if err != nil {
		return true, err
	}

	// The exponent is the retry count before this failure: the first
	// transient failure waits Base, the second 2*Base.
	delay := e.backoff.Delay(n - 1)
	until := schedule.NowMillis(e.clock) + delay.Milliseconds()
	if err := e.log.Defer(ctx, entry.ID, until); err != nil {
		return true, err
	}
	res.Retried++
	slog.Info("mutation retry scheduled",
		"event", "engine_retry",
		"id", entry.ID,
		"entity", entry.EntityKey(),
		"retry_count", n,
		"delay", delay,
		"error", cause)

	entry.RetryCount = n
	ev := newEvent(EventRetryScheduled, entry)
	ev.NextAttemptAt = until
	ev.Code = cause.Code
	ev.Error = cause.Error()
	e.emit(ev)
	return true, nil
}
