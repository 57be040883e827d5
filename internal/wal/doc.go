// Package wal implements the write-ahead log of local mutations awaiting
// delivery to the remote backend (the outbox).
//
// Entries live in the reserved "_wal" store collection. Every entry carries a
// creation stamp (timestamp in Unix ms, plus a WAL-assigned seq that breaks
// ties within one millisecond), and all ordered scans use (timestamp, seq).
//
// # Status machine
//
//	pending -> syncing -> synced                      (synced is final)
//	syncing -> failed (retryable) -> pending          (after backoff)
//	syncing -> failed (terminal)                      (permanent error or retries exhausted)
//
// UpdateStatus enforces exactly these edges and returns ErrInvalidTransition
// otherwise. Retry is the manual resync path and may revive a terminal entry.
//
// # Retention
//
// ClearSynced and EnforceMaxSize only ever delete synced entries and terminal
// failures, in that order. Pending, syncing and retryable failed entries are
// never deleted, even when the log is over its size limit.
package wal
