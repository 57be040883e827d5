// Package conflict arbitrates remote change events against local state.
//
// The policy is last-writer-wins by timestamp with local-pending precedence:
// a remote event older than the newest unsynced local mutation of the same
// entity is stale, because the remote has not yet observed that mutation, and
// is dropped. Everything else overwrites local state. Removals become
// tombstones, never physical deletes.
package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/keylock"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/wal"
)

// Decision records what Apply did with an event.
type Decision string

const (
	// Applied means added/modified data overwrote the local document.
	Applied Decision = "applied"

	// Tombstoned means a removal was recorded as deletedAt.
	Tombstoned Decision = "tombstoned"

	// Stale means the event predates unsynced local work and was dropped.
	Stale Decision = "stale"
)

// Resolver applies remote change events to the local store.
type Resolver struct {
	st    *store.Store
	log   *wal.WAL
	locks *keylock.Map
}

// New creates a resolver. locks must be the map shared with every other
// writer of the same entities.
func New(st *store.Store, log *wal.WAL, locks *keylock.Map) *Resolver {
	return &Resolver{st: st, log: log, locks: locks}
}

// Apply resolves one event under the entity lock.
func (r *Resolver) Apply(ctx context.Context, ev ir.RemoteChangeEvent) (Decision, error) {
	if ev.Collection == "" || ev.DocID == "" {
		return "", fmt.Errorf("apply remote change: collection and doc id are required")
	}
	unlock, err := r.locks.LockContext(ctx, ev.EntityKey())
	if err != nil {
		return "", fmt.Errorf("apply remote change %s: %w", ev.EntityKey(), err)
	}
	defer unlock()

	unsynced, err := r.log.PendingFor(ctx, ev.Collection, ev.DocID)
	if err != nil {
		return "", fmt.Errorf("apply remote change %s: %w", ev.EntityKey(), err)
	}
	if n := len(unsynced); n > 0 {
		newest := unsynced[n-1]
		if newest.Timestamp > ev.SourceTimestamp {
			slog.Debug("stale remote change dropped",
				"event", "conflict_stale",
				"entity", ev.EntityKey(),
				"change", ev.ChangeType,
				"source_ts", ev.SourceTimestamp,
				"local_ts", newest.Timestamp,
				"unsynced", n)
			return Stale, nil
		}
	}

	var (
		doc      ir.Document
		decision Decision
	)
	switch ev.ChangeType {
	case ir.ChangeAdded, ir.ChangeModified:
		doc = ev.Data.Clone()
		if doc == nil {
			doc = ir.Document{}
		}
		doc[ir.FieldID] = ev.DocID
		if _, ok := doc[ir.FieldUpdatedAt]; !ok {
			doc[ir.FieldUpdatedAt] = ev.SourceTimestamp
		}
		decision = Applied

	case ir.ChangeRemoved:
		doc, err = r.tombstone(ctx, ev)
		if err != nil {
			return "", fmt.Errorf("apply remote change %s: %w", ev.EntityKey(), err)
		}
		decision = Tombstoned

	default:
		return "", fmt.Errorf("apply remote change %s: unknown change type %q", ev.EntityKey(), ev.ChangeType)
	}

	if err := r.st.Put(ctx, ev.Collection, ev.DocID, doc); err != nil {
		return "", fmt.Errorf("apply remote change %s: %w", ev.EntityKey(), err)
	}
	slog.Debug("remote change applied",
		"event", "conflict_applied",
		"entity", ev.EntityKey(),
		"change", ev.ChangeType,
		"decision", decision)
	return decision, nil
}

// tombstone builds the local document for a removal: the known document
// with deletedAt set, or a bare tombstone for an entity never seen locally.
func (r *Resolver) tombstone(ctx context.Context, ev ir.RemoteChangeEvent) (ir.Document, error) {
	existing, err := r.st.Get(ctx, ev.Collection, ev.DocID)
	if store.IsNotFound(err) {
		return ir.Document{
			ir.FieldID:        ev.DocID,
			ir.FieldUpdatedAt: ev.SourceTimestamp,
			ir.FieldDeletedAt: ev.SourceTimestamp,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.IsDeleted() {
		return existing, nil
	}
	return existing.Merge(ir.Document{
		ir.FieldDeletedAt: ev.SourceTimestamp,
		ir.FieldUpdatedAt: ev.SourceTimestamp,
	}), nil
}
