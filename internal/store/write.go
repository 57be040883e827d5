package store

import (
	"context"
	"fmt"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
)

// Tx is a store transaction spanning any number of collections.
// It is valid only inside the Update callback that received it.
type Tx struct {
	o ops
}

// Update runs fn in a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.handle("update", "")
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("update", "", "", fmt.Errorf("begin tx: %w", err))
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{o: ops{s: s, q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapErr("update", "", "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (o ops) put(ctx context.Context, collection, key string, doc ir.Document) error {
	c, err := o.collection("put", collection)
	if err != nil {
		return err
	}
	if key == "" {
		return &Error{Code: CodeInvalid, Op: "put", Collection: collection, Err: fmt.Errorf("empty key")}
	}
	text, err := encodeDoc(doc)
	if err != nil {
		return &Error{Code: CodeInvalid, Op: "put", Collection: collection, Key: key, Err: err}
	}

	if _, err := o.q.ExecContext(ctx, `
		INSERT INTO records (collection, key, doc) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET doc = excluded.doc
	`, collection, key, text); err != nil {
		return wrapErr("put", collection, key, err)
	}

	if _, err := o.q.ExecContext(ctx, `
		DELETE FROM record_index WHERE collection = ? AND key = ?
	`, collection, key); err != nil {
		return wrapErr("put", collection, key, err)
	}
	if err := insertIndexRows(ctx, o.q, c, key, doc); err != nil {
		return wrapErr("put", collection, key, err)
	}
	return nil
}

// del removes a record and its index rows, reporting whether it existed.
func (o ops) del(ctx context.Context, collection, key string) (bool, error) {
	if _, err := o.collection("delete", collection); err != nil {
		return false, err
	}
	res, err := o.q.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND key = ?
	`, collection, key)
	if err != nil {
		return false, wrapErr("delete", collection, key, err)
	}
	if _, err := o.q.ExecContext(ctx, `
		DELETE FROM record_index WHERE collection = ? AND key = ?
	`, collection, key); err != nil {
		return false, wrapErr("delete", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete", collection, key, err)
	}
	return n > 0, nil
}

func (o ops) clear(ctx context.Context, collection string) error {
	if _, err := o.collection("clear", collection); err != nil {
		return err
	}
	if _, err := o.q.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return wrapErr("clear", collection, "", err)
	}
	if _, err := o.q.ExecContext(ctx, `DELETE FROM record_index WHERE collection = ?`, collection); err != nil {
		return wrapErr("clear", collection, "", err)
	}
	return nil
}

// Put inserts or replaces the document stored under key.
func (s *Store) Put(ctx context.Context, collection, key string, doc ir.Document) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Put(ctx, collection, key, doc)
	})
}

// PutMany writes all records atomically: either every record is stored or
// none is.
func (s *Store) PutMany(ctx context.Context, collection string, records []Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutMany(ctx, collection, records)
	})
}

// Delete removes the record stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(ctx, collection, key)
	})
}

// DeleteMany removes all keys atomically and returns how many records
// existed.
func (s *Store) DeleteMany(ctx context.Context, collection string, keys []string) (int, error) {
	var n int
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DeleteMany(ctx, collection, keys)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Clear removes every record of a collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Clear(ctx, collection)
	})
}

// Get returns the document stored under key within the transaction.
func (tx *Tx) Get(ctx context.Context, collection, key string) (ir.Document, error) {
	return tx.o.get(ctx, collection, key)
}

// GetAll returns every record of a collection ordered by key.
func (tx *Tx) GetAll(ctx context.Context, collection string) ([]Record, error) {
	return tx.o.getAll(ctx, collection)
}

// GetByIndex returns the records matched by q.
func (tx *Tx) GetByIndex(ctx context.Context, q queryir.Query) ([]Record, error) {
	return tx.o.getByIndex(ctx, q)
}

// KeysByIndex returns the keys matched by q.
func (tx *Tx) KeysByIndex(ctx context.Context, q queryir.Query) ([]string, error) {
	return tx.o.keysByIndex(ctx, q)
}

// Count returns the number of records in a collection.
func (tx *Tx) Count(ctx context.Context, collection string) (int, error) {
	return tx.o.count(ctx, collection)
}

// CountByIndex returns the number of records matched by q.
func (tx *Tx) CountByIndex(ctx context.Context, q queryir.Query) (int, error) {
	return tx.o.countByIndex(ctx, q)
}

// Put inserts or replaces a document.
func (tx *Tx) Put(ctx context.Context, collection, key string, doc ir.Document) error {
	return tx.o.put(ctx, collection, key, doc)
}

// PutMany writes several records of one collection.
func (tx *Tx) PutMany(ctx context.Context, collection string, records []Record) error {
	for _, r := range records {
		if err := tx.o.put(ctx, collection, r.Key, r.Doc); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a record.
func (tx *Tx) Delete(ctx context.Context, collection, key string) error {
	_, err := tx.o.del(ctx, collection, key)
	return err
}

// DeleteMany removes several records and returns how many existed.
func (tx *Tx) DeleteMany(ctx context.Context, collection string, keys []string) (int, error) {
	n := 0
	for _, key := range keys {
		existed, err := tx.o.del(ctx, collection, key)
		if err != nil {
			return 0, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

// Clear removes every record of a collection.
func (tx *Tx) Clear(ctx context.Context, collection string) error {
	return tx.o.clear(ctx, collection)
}
