package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/wardsync/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - records, record_index and collections tables
// 2 - Added idx_record_index_key for per-record index maintenance
const currentSchemaVersion = 2

// Phase is the machine-readable lifecycle state of a Store.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// Status is a snapshot of the store lifecycle. Err is set only in
// PhaseFailed.
type Status struct {
	Phase Phase
	Err   error
}

// Index declares a secondary index over a top-level document field.
type Index struct {
	Name  string
	Field string
}

// Collection declares a named collection and its indexes.
type Collection struct {
	Name    string
	Indexes []Index
}

func (c Collection) index(name string) (Index, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// signature is persisted so Init can detect changed index declarations.
func (c Collection) signature() string {
	parts := make([]string, len(c.Indexes))
	for i, idx := range c.Indexes {
		parts[i] = idx.Name + "=" + idx.Field
	}
	return strings.Join(parts, ",")
}

// initAttempt is shared by every caller that joins one Init run.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Store is the durable local store.
type Store struct {
	path        string
	collections map[string]Collection
	order       []string
	compiler    *querysql.SQLCompiler

	mu      sync.Mutex
	phase   Phase
	attempt *initAttempt
	db      *sql.DB
}

// New creates a store for the database at path with the given collections.
// The database is not touched until Init.
func New(path string, collections ...Collection) (*Store, error) {
	s := &Store{
		path:        path,
		collections: make(map[string]Collection, len(collections)),
		compiler:    querysql.NewSQLCompiler(),
		phase:       PhaseNotStarted,
	}
	for _, c := range collections {
		if c.Name == "" {
			return nil, &Error{Code: CodeInvalid, Op: "new", Err: fmt.Errorf("collection name is required")}
		}
		if _, dup := s.collections[c.Name]; dup {
			return nil, &Error{Code: CodeInvalid, Op: "new", Collection: c.Name, Err: fmt.Errorf("duplicate collection")}
		}
		seen := map[string]bool{}
		for _, idx := range c.Indexes {
			if idx.Name == "" || idx.Field == "" || seen[idx.Name] {
				return nil, &Error{Code: CodeInvalid, Op: "new", Collection: c.Name, Err: fmt.Errorf("invalid index %q", idx.Name)}
			}
			seen[idx.Name] = true
		}
		s.collections[c.Name] = c
		s.order = append(s.order, c.Name)
	}
	return s, nil
}

// Init opens the database and prepares the schema.
//
// Init is idempotent: once ready it returns nil immediately. Callers that
// arrive while an attempt is running wait for it and receive its outcome.
// After a failed attempt the next call starts a new one.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseReady:
		s.mu.Unlock()
		return nil
	case PhaseInProgress:
		attempt := s.attempt
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &initAttempt{done: make(chan struct{})}
	s.attempt = attempt
	s.phase = PhaseInProgress
	s.mu.Unlock()

	db, err := s.open(ctx)

	s.mu.Lock()
	if err != nil {
		s.phase = PhaseFailed
		attempt.err = err
		slog.Error("store init failed", "path", s.path, "error", err)
	} else {
		s.phase = PhaseReady
		s.db = db
		slog.Debug("store ready", "path", s.path, "collections", len(s.collections))
	}
	close(attempt.done)
	s.mu.Unlock()
	return err
}

// Status returns the current lifecycle phase.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Phase: s.phase}
	if s.phase == PhaseFailed && s.attempt != nil {
		st.Err = s.attempt.err
	}
	return st
}

// IsReady reports whether Init has succeeded.
func (s *Store) IsReady() bool {
	return s.Status().Phase == PhaseReady
}

// Collections returns the declared collections in declaration order.
func (s *Store) Collections() []Collection {
	out := make([]Collection, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.collections[name])
	}
	return out
}

// Close closes the database connection. The store returns to
// PhaseNotStarted and may be initialized again.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	if s.phase == PhaseReady {
		s.phase = PhaseNotStarted
	}
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// DB returns the underlying sql.DB, or nil before Init.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

func (s *Store) handle(op, collection string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseReady || s.db == nil {
		return nil, &Error{Code: CodeNotInitialized, Op: op, Collection: collection}
	}
	return s.db, nil
}

// open performs one Init attempt.
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, wrapErr("init", "", "", fmt.Errorf("failed to open database: %w", err))
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapErr("init", "", "", fmt.Errorf("failed to connect to database: %w", err))
	}

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, wrapErr("init", "", "", fmt.Errorf("failed to apply pragmas: %w", err))
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, wrapErr("init", "", "", fmt.Errorf("failed to apply schema: %w", err))
	}

	if err := s.syncIndexes(ctx, db); err != nil {
		db.Close()
		return nil, wrapErr("init", "", "", fmt.Errorf("failed to rebuild indexes: %w", err))
	}

	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Version 1 is fully described by schema.sql.
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 adds the (collection, key) lookup index used when a record's
// index rows are replaced or removed.
func migrateToV2(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_record_index_key
		ON record_index(collection, key)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// syncIndexes rebuilds the index rows of every declared collection whose
// index signature differs from the one recorded in the database.
func (s *Store) syncIndexes(ctx context.Context, db *sql.DB) error {
	for _, name := range s.order {
		c := s.collections[name]
		sig := c.signature()

		var stored string
		err := db.QueryRowContext(ctx, `SELECT indexes FROM collections WHERE name = ?`, name).Scan(&stored)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return fmt.Errorf("read collection %s: %w", name, err)
		case stored == sig:
			continue
		}

		if err := s.rebuildIndexes(ctx, db, c); err != nil {
			return err
		}
		slog.Info("rebuilt collection indexes", "collection", name, "indexes", sig)
	}
	return nil
}

func (s *Store) rebuildIndexes(ctx context.Context, db *sql.DB, c Collection) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuild %s: begin tx: %w", c.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_index WHERE collection = ?`, c.Name); err != nil {
		return fmt.Errorf("rebuild %s: clear: %w", c.Name, err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT key, doc FROM records WHERE collection = ? ORDER BY key COLLATE BINARY ASC`, c.Name)
	if err != nil {
		return fmt.Errorf("rebuild %s: scan: %w", c.Name, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", c.Name, err)
	}

	for _, r := range records {
		if err := insertIndexRows(ctx, tx, c, r.Key, r.Doc); err != nil {
			return fmt.Errorf("rebuild %s: %w", c.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, indexes) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET indexes = excluded.indexes
	`, c.Name, c.signature()); err != nil {
		return fmt.Errorf("rebuild %s: record signature: %w", c.Name, err)
	}

	return tx.Commit()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db := s.DB()
	if db == nil {
		return ErrNotInitialized
	}
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
