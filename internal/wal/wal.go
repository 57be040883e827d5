package wal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
)

// Collection is the reserved store collection holding WAL entries.
const Collection = "_wal"

// DefaultMaxRetries is the retry budget of an entry.
const DefaultMaxRetries = 5

const (
	indexStatus     = "status"
	indexEntity     = "entity"
	indexOrder      = "order"
	indexState      = "state_order"
	indexIdempotent = "idempotency_key"
	indexSeq        = "seq"
)

// StoreCollection returns the store declaration for the WAL collection. It
// must be passed to store.New alongside the application collections.
func StoreCollection() store.Collection {
	return store.Collection{
		Name: Collection,
		Indexes: []store.Index{
			{Name: indexStatus, Field: "status"},
			{Name: indexEntity, Field: "entity_key"},
			{Name: indexOrder, Field: "order_key"},
			{Name: indexState, Field: "state_order"},
			{Name: indexIdempotent, Field: "idempotency_key"},
			{Name: indexSeq, Field: "seq"},
		},
	}
}

// IDGenerator produces entry ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 entry ids.
//
// Uses github.com/google/uuid package for RFC 4122 compliant UUIDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Retention bounds the log for AutoCleanup. Zero fields disable the
// corresponding step.
type Retention struct {
	MaxAge     time.Duration
	MaxEntries int
}

// DefaultRetention keeps synced history for 7 days and at most 10000
// entries.
func DefaultRetention() Retention {
	return Retention{MaxAge: 7 * 24 * time.Hour, MaxEntries: 10000}
}

// WAL is the write-ahead log over a store.
type WAL struct {
	st         *store.Store
	clock      schedule.Clock
	ids        IDGenerator
	maxRetries int
	retention  Retention
	seq        sequence
}

// Option configures a WAL.
type Option func(*WAL)

// WithMaxRetries sets the retry budget. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(w *WAL) {
		if n >= 1 {
			w.maxRetries = n
		}
	}
}

// WithClock sets the time source for entry timestamps and retention.
func WithClock(c schedule.Clock) Option {
	return func(w *WAL) { w.clock = c }
}

// WithIDGenerator sets the entry id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *WAL) { w.ids = g }
}

// WithRetention sets the AutoCleanup policy.
func WithRetention(r Retention) Option {
	return func(w *WAL) { w.retention = r }
}

// New creates a WAL over st. The store must declare StoreCollection.
func New(st *store.Store, opts ...Option) *WAL {
	w := &WAL{
		st:         st,
		clock:      schedule.SystemClock{},
		ids:        UUIDv7Generator{},
		maxRetries: DefaultMaxRetries,
		retention:  DefaultRetention(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// MaxRetries returns the configured retry budget.
func (w *WAL) MaxRetries() int {
	return w.maxRetries
}

// Store returns the underlying store.
func (w *WAL) Store() *store.Store {
	return w.st
}

// record is the stored form of an entry: the entry itself plus the derived
// fields that back the WAL's indexes.
type record struct {
	ir.MutationEntry
	Entity     string `json:"entity_key"`
	OrderKey   string `json:"order_key"`
	StateOrder string `json:"state_order"`
}

// orderKey renders (timestamp, seq) so that string order equals stamp order.
// Both are non-negative; AddTx rejects negative timestamps.
func orderKey(timestamp, seq int64) string {
	return fmt.Sprintf("%019d.%019d", timestamp, seq)
}

// retentionState is the status class used by the state_order index.
// Terminal failures get their own class so retention can target them.
func retentionState(e ir.MutationEntry) string {
	if e.Status == ir.StatusFailed && e.Terminal {
		return "terminal"
	}
	return string(e.Status)
}

func stateRange(state string) queryir.Range {
	return queryir.Range{Min: state + "/", Max: state + "/~"}
}

func encodeRecord(e ir.MutationEntry) (ir.Document, error) {
	order := orderKey(e.Timestamp, e.Seq)
	rec := record{
		MutationEntry: e,
		Entity:        e.EntityKey(),
		OrderKey:      order,
		StateOrder:    retentionState(e) + "/" + order,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	return ir.DecodeDocument(data)
}

func decodeRecord(doc ir.Document) (ir.MutationEntry, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return ir.MutationEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec record
	if err := dec.Decode(&rec); err != nil {
		return ir.MutationEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return rec.MutationEntry, nil
}

func decodeRecords(records []store.Record) ([]ir.MutationEntry, error) {
	entries := make([]ir.MutationEntry, 0, len(records))
	for _, r := range records {
		e, err := decodeRecord(r.Doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sortEntries(entries []ir.MutationEntry) {
	slices.SortFunc(entries, func(a, b ir.MutationEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

func putEntry(ctx context.Context, tx *store.Tx, e ir.MutationEntry) error {
	doc, err := encodeRecord(e)
	if err != nil {
		return err
	}
	return tx.Put(ctx, Collection, e.ID, doc)
}

func getEntry(ctx context.Context, tx *store.Tx, id string) (ir.MutationEntry, error) {
	doc, err := tx.Get(ctx, Collection, id)
	if err != nil {
		return ir.MutationEntry{}, err
	}
	return decodeRecord(doc)
}

// Add appends a mutation in its own transaction and returns the entry id.
// See AddTx.
func (w *WAL) Add(ctx context.Context, m ir.MutationEntry) (string, error) {
	var id string
	err := w.st.Update(ctx, func(tx *store.Tx) error {
		var err error
		id, err = w.AddTx(ctx, tx, m)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddTx appends a mutation inside an existing store transaction, so the
// caller can write the entity and its WAL entry atomically.
//
// AddTx generates an id if absent, forces status pending with a zero retry
// count, stamps the creation timestamp when unset, assigns seq and computes
// the idempotency key unless the caller supplied one. When a supplied key
// matches an entry that is still unsynced, no new entry is written and the
// existing id is returned.
func (w *WAL) AddTx(ctx context.Context, tx *store.Tx, m ir.MutationEntry) (string, error) {
	if m.Collection == "" || m.EntityID == "" {
		return "", fmt.Errorf("add: %w: collection and entity id are required", ErrInvalidEntry)
	}
	if !m.Operation.Valid() {
		return "", fmt.Errorf("add: %w: unknown operation %q", ErrInvalidEntry, m.Operation)
	}

	if m.IdempotencyKey != "" {
		existing, ok, err := w.findUnsyncedByKey(ctx, tx, m.IdempotencyKey)
		if err != nil {
			return "", fmt.Errorf("add: %w", err)
		}
		if ok {
			slog.Debug("duplicate mutation suppressed",
				"event", "wal_add_duplicate",
				"id", existing.ID,
				"idempotency_key", m.IdempotencyKey)
			return existing.ID, nil
		}
	}

	seq, err := w.seq.next(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("add: %w", err)
	}

	now := schedule.NowMillis(w.clock)
	e := m
	if e.ID == "" {
		e.ID = w.ids.Generate()
	}
	if e.Timestamp == 0 {
		e.Timestamp = now
	}
	if e.Timestamp < 0 {
		return "", fmt.Errorf("add: %w: negative timestamp %d", ErrInvalidEntry, e.Timestamp)
	}
	e.Seq = seq
	e.Status = ir.StatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.Terminal = false
	e.NextAttemptAt = 0
	e.UpdatedAt = now
	e.Payload = m.Payload.Clone()
	if e.IdempotencyKey == "" {
		key, err := ir.IdempotencyKey(e)
		if err != nil {
			return "", fmt.Errorf("add: %w", err)
		}
		e.IdempotencyKey = key
	}

	if err := putEntry(ctx, tx, e); err != nil {
		return "", fmt.Errorf("add: %w", err)
	}

	slog.Debug("mutation appended",
		"event", "wal_add",
		"id", e.ID,
		"entity", e.EntityKey(),
		"operation", e.Operation,
		"seq", e.Seq)
	return e.ID, nil
}

func (w *WAL) findUnsyncedByKey(ctx context.Context, tx *store.Tx, key string) (ir.MutationEntry, bool, error) {
	records, err := tx.GetByIndex(ctx, queryir.Query{
		Collection: Collection,
		Index:      indexIdempotent,
		Where:      queryir.Equals{Value: key},
	})
	if err != nil {
		return ir.MutationEntry{}, false, err
	}
	entries, err := decodeRecords(records)
	if err != nil {
		return ir.MutationEntry{}, false, err
	}
	for _, e := range entries {
		if e.Unsynced() {
			return e, true, nil
		}
	}
	return ir.MutationEntry{}, false, nil
}

// Get returns one entry, or an error matching ErrNotFound.
func (w *WAL) Get(ctx context.Context, id string) (ir.MutationEntry, error) {
	doc, err := w.st.Get(ctx, Collection, id)
	if err != nil {
		return ir.MutationEntry{}, fmt.Errorf("get %s: %w", id, err)
	}
	return decodeRecord(doc)
}
