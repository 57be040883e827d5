package replica

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
)

// change computes the new local document and the WAL payload from the
// current document. found is false when the entity does not exist.
type change func(current ir.Document, found bool, now int64) (doc, payload ir.Document, err error)

// mutate applies one local mutation: entity write and WAL append in one
// transaction, under the entity lock. It returns the stored document and
// the WAL entry id. A nil doc from fn means there is nothing to do.
func (r *Replica) mutate(ctx context.Context, op ir.Operation, collection, id string, fn change) (ir.Document, string, error) {
	if err := r.checkOpen(); err != nil {
		return nil, "", err
	}
	if collection == "" || id == "" {
		return nil, "", fmt.Errorf("%s: collection and id are required", op)
	}
	key := ir.EntityKey(collection, id)

	unlock, err := r.locks.LockContext(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", op, key, err)
	}
	defer unlock()

	var (
		stored  ir.Document
		entryID string
	)
	err = r.st.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.Get(ctx, collection, id)
		found := err == nil
		if err != nil && !store.IsNotFound(err) {
			return err
		}

		now := schedule.NowMillis(r.clock)
		doc, payload, err := fn(current, found, now)
		if err != nil {
			return err
		}
		if doc == nil {
			stored = current
			return nil
		}
		if err := tx.Put(ctx, collection, id, doc); err != nil {
			return err
		}
		entryID, err = r.journal.AddTx(ctx, tx, ir.MutationEntry{
			Collection: collection,
			EntityID:   id,
			Operation:  op,
			Payload:    payload,
			Timestamp:  now,
		})
		if err != nil {
			return err
		}
		stored = doc
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", op, key, err)
	}
	if entryID != "" {
		slog.Debug("local mutation recorded", "event", "replica_mutation", "op", op, "entity", key, "entry", entryID)
		r.triggerSync("write")
	}
	return stored, entryID, nil
}

func (r *Replica) triggerSync(reason string) {
	if r.engine != nil && !r.cfg.Manual {
		r.engine.Trigger(reason)
	}
}

// Create stores a new entity. A missing id is generated. Creating over a
// tombstone replaces it.
func (r *Replica) Create(ctx context.Context, collection string, doc ir.Document) (ir.Document, error) {
	id := doc.ID()
	if id == "" {
		id = r.ids.Generate()
	}
	stored, _, err := r.mutate(ctx, ir.OpCreate, collection, id, func(current ir.Document, found bool, now int64) (ir.Document, ir.Document, error) {
		if found && !current.IsDeleted() {
			return nil, nil, ErrExists
		}
		out := doc.Clone()
		if out == nil {
			out = ir.Document{}
		}
		out[ir.FieldID] = id
		out[ir.FieldUpdatedAt] = now
		delete(out, ir.FieldDeletedAt)
		return out, out.Clone(), nil
	})
	return stored, err
}

// Update merges patch into a live entity. Only the patched fields travel to
// the remote.
func (r *Replica) Update(ctx context.Context, collection, id string, patch ir.Document) (ir.Document, error) {
	stored, _, err := r.mutate(ctx, ir.OpUpdate, collection, id, func(current ir.Document, found bool, now int64) (ir.Document, ir.Document, error) {
		if !found {
			return nil, nil, store.ErrNotFound
		}
		if current.IsDeleted() {
			return nil, nil, ErrDeleted
		}
		payload := patch.Clone()
		if payload == nil {
			payload = ir.Document{}
		}
		delete(payload, ir.FieldDeletedAt)
		payload[ir.FieldID] = id
		payload[ir.FieldUpdatedAt] = now
		return current.Merge(payload), payload, nil
	})
	return stored, err
}

// Delete moves an entity to the trash by writing a tombstone. Deleting an
// entity already in the trash is a no-op.
func (r *Replica) Delete(ctx context.Context, collection, id string) error {
	_, _, err := r.mutate(ctx, ir.OpDelete, collection, id, func(current ir.Document, found bool, now int64) (ir.Document, ir.Document, error) {
		if !found {
			return nil, nil, store.ErrNotFound
		}
		if current.IsDeleted() {
			return nil, nil, nil
		}
		payload := ir.Document{
			ir.FieldID:        id,
			ir.FieldDeletedAt: now,
			ir.FieldUpdatedAt: now,
		}
		return current.Merge(payload), payload, nil
	})
	return err
}

// Restore takes an entity out of the trash.
func (r *Replica) Restore(ctx context.Context, collection, id string) (ir.Document, error) {
	stored, _, err := r.mutate(ctx, ir.OpUpdate, collection, id, func(current ir.Document, found bool, now int64) (ir.Document, ir.Document, error) {
		if !found {
			return nil, nil, store.ErrNotFound
		}
		if !current.IsDeleted() {
			return nil, nil, ErrNotDeleted
		}
		doc := current.Merge(ir.Document{ir.FieldUpdatedAt: now})
		delete(doc, ir.FieldDeletedAt)
		// The remote is merged into, so the tombstone is cleared with an
		// explicit null.
		payload := ir.Document{
			ir.FieldID:        id,
			ir.FieldDeletedAt: nil,
			ir.FieldUpdatedAt: now,
		}
		return doc, payload, nil
	})
	return stored, err
}
