package replica

import (
	"context"
	"fmt"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/store"
)

// Get returns an entity, including one in the trash.
func (r *Replica) Get(ctx context.Context, collection, id string) (ir.Document, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	return r.st.Get(ctx, collection, id)
}

// List returns the live entities of collection ordered by id.
func (r *Replica) List(ctx context.Context, collection string) ([]ir.Document, error) {
	return r.scan(ctx, collection, false)
}

// Trash returns the tombstoned entities of collection ordered by id.
func (r *Replica) Trash(ctx context.Context, collection string) ([]ir.Document, error) {
	return r.scan(ctx, collection, true)
}

func (r *Replica) scan(ctx context.Context, collection string, deleted bool) ([]ir.Document, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	records, err := r.st.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return filterDeleted(records, deleted), nil
}

// Query runs an index lookup and returns the matching live entities in
// index order.
func (r *Replica) Query(ctx context.Context, q queryir.Query) ([]ir.Document, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	records, err := r.st.GetByIndex(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", q.Collection, q.Index, err)
	}
	return filterDeleted(records, false), nil
}

func filterDeleted(records []store.Record, deleted bool) []ir.Document {
	out := make([]ir.Document, 0, len(records))
	for _, rec := range records {
		if rec.Doc.IsDeleted() == deleted {
			out = append(out, rec.Doc)
		}
	}
	return out
}
