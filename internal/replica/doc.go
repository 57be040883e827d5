// Package replica is the application-facing side of wardsync.
//
// A Replica owns one local store, its write-ahead log and the background
// machinery that reconciles both with a remote backend:
//
//	local write -> store + WAL (one transaction) -> engine -> remote
//	remote change -> listener -> conflict resolver -> store
//
// Open runs the boot sequence: initialise the store, recover entries left
// in flight by a crash, run retention best-effort, then start the
// connectivity monitor and the sync engine and request a first drain.
//
// Every local mutation takes the entity lock and writes the entity and its
// WAL entry in a single SQLite transaction. A failed append rolls the entity
// write back, so the store never holds a change the log does not.
//
// A Replica opened without a remote adapter is local only: reads, writes
// and WAL inspection work, while Drain and Subscribe fail with ErrNoRemote.
package replica
