package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements every collection operation over a querier, so Store and Tx
// share one implementation.
type ops struct {
	s *Store
	q querier
}

func (s *Store) reader(op, collection string) (ops, error) {
	db, err := s.handle(op, collection)
	if err != nil {
		return ops{}, err
	}
	return ops{s: s, q: db}, nil
}

func (o ops) collection(op, name string) (Collection, error) {
	c, ok := o.s.collections[name]
	if !ok {
		return Collection{}, &Error{Code: CodeUnknownCollection, Op: op, Collection: name}
	}
	return c, nil
}

func (o ops) get(ctx context.Context, collection, key string) (ir.Document, error) {
	if _, err := o.collection("get", collection); err != nil {
		return nil, err
	}
	var text string
	err := o.q.QueryRowContext(ctx, `
		SELECT doc FROM records WHERE collection = ? AND key = ?
	`, collection, key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Code: CodeNotFound, Op: "get", Collection: collection, Key: key}
	}
	if err != nil {
		return nil, wrapErr("get", collection, key, err)
	}
	doc, err := decodeDoc(text)
	if err != nil {
		return nil, wrapErr("get", collection, key, err)
	}
	return doc, nil
}

func (o ops) getAll(ctx context.Context, collection string) ([]Record, error) {
	if _, err := o.collection("get all", collection); err != nil {
		return nil, err
	}
	rows, err := o.q.QueryContext(ctx, `
		SELECT key, doc FROM records
		WHERE collection = ?
		ORDER BY key COLLATE BINARY ASC
	`, collection)
	if err != nil {
		return nil, wrapErr("get all", collection, "", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, wrapErr("get all", collection, "", err)
	}
	return records, nil
}

func (o ops) checkQuery(op string, q queryir.Query) error {
	c, err := o.collection(op, q.Collection)
	if err != nil {
		return err
	}
	if _, ok := c.index(q.Index); !ok {
		return &Error{Code: CodeUnknownCollection, Op: op, Collection: q.Collection, Err: fmt.Errorf("unknown index %q", q.Index)}
	}
	return nil
}

func (o ops) getByIndex(ctx context.Context, q queryir.Query) ([]Record, error) {
	if err := o.checkQuery("get by index", q); err != nil {
		return nil, err
	}
	query, params, err := o.s.compiler.Compile(q)
	if err != nil {
		return nil, &Error{Code: CodeInvalid, Op: "get by index", Collection: q.Collection, Err: err}
	}
	rows, err := o.q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, wrapErr("get by index", q.Collection, "", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, wrapErr("get by index", q.Collection, "", err)
	}
	return records, nil
}

func (o ops) keysByIndex(ctx context.Context, q queryir.Query) ([]string, error) {
	if err := o.checkQuery("keys by index", q); err != nil {
		return nil, err
	}
	query, params, err := o.s.compiler.CompileKeys(q)
	if err != nil {
		return nil, &Error{Code: CodeInvalid, Op: "keys by index", Collection: q.Collection, Err: err}
	}
	rows, err := o.q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, wrapErr("keys by index", q.Collection, "", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrapErr("keys by index", q.Collection, "", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("keys by index", q.Collection, "", err)
	}
	return keys, nil
}

func (o ops) count(ctx context.Context, collection string) (int, error) {
	if _, err := o.collection("count", collection); err != nil {
		return 0, err
	}
	var n int
	if err := o.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE collection = ?
	`, collection).Scan(&n); err != nil {
		return 0, wrapErr("count", collection, "", err)
	}
	return n, nil
}

func (o ops) countByIndex(ctx context.Context, q queryir.Query) (int, error) {
	if err := o.checkQuery("count by index", q); err != nil {
		return 0, err
	}
	query, params, err := o.s.compiler.CompileCount(q)
	if err != nil {
		return 0, &Error{Code: CodeInvalid, Op: "count by index", Collection: q.Collection, Err: err}
	}
	var n int
	if err := o.q.QueryRowContext(ctx, query, params...).Scan(&n); err != nil {
		return 0, wrapErr("count by index", q.Collection, "", err)
	}
	return n, nil
}

// Get returns the document stored under key, or an error matching
// ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, key string) (ir.Document, error) {
	r, err := s.reader("get", collection)
	if err != nil {
		return nil, err
	}
	return r.get(ctx, collection, key)
}

// GetAll returns every record of a collection ordered by key.
// Returns an empty slice (not nil) if the collection is empty.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	r, err := s.reader("get all", collection)
	if err != nil {
		return nil, err
	}
	return r.getAll(ctx, collection)
}

// GetByIndex returns the records matched by q, ordered by (indexed value,
// key).
func (s *Store) GetByIndex(ctx context.Context, q queryir.Query) ([]Record, error) {
	r, err := s.reader("get by index", q.Collection)
	if err != nil {
		return nil, err
	}
	return r.getByIndex(ctx, q)
}

// KeysByIndex is like GetByIndex but returns only the keys.
func (s *Store) KeysByIndex(ctx context.Context, q queryir.Query) ([]string, error) {
	r, err := s.reader("keys by index", q.Collection)
	if err != nil {
		return nil, err
	}
	return r.keysByIndex(ctx, q)
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	r, err := s.reader("count", collection)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, collection)
}

// CountByIndex returns the number of records matched by q.
func (s *Store) CountByIndex(ctx context.Context, q queryir.Query) (int, error) {
	r, err := s.reader("count by index", q.Collection)
	if err != nil {
		return 0, err
	}
	return r.countByIndex(ctx, q)
}
