// Package store provides the durable local store: SQLite-backed documents
// scoped by named collections, with declared secondary indexes.
//
// # Lifecycle
//
// New only validates configuration. Init opens the database, applies pragmas
// and migrations and rebuilds index rows whose declaration changed. Every
// other operation fails with ErrNotInitialized until Init has succeeded;
// nothing blocks waiting for readiness. Status reports the current phase and
// the cause of a failed Init.
//
// # Collections and indexes
//
// A Collection declares the top-level document fields it indexes. Index rows
// live in the record_index side table and are rewritten in the same
// transaction as the document, so an index can never disagree with the data.
// Only scalar field values are indexed (see queryir.IndexValue).
//
// # Transactions
//
// PutMany and DeleteMany are all-or-nothing. Update runs an arbitrary set of
// operations across collections in one transaction; the WAL uses it to append
// a mutation entry atomically with the entity write.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
//
// Because the pool holds one connection, code running inside an Update
// callback must use the *Tx it was given, never the Store.
package store
