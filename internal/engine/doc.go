// Package engine implements the outbox processor that drains the WAL
// against the remote backend.
//
// ARCHITECTURE:
//
// Single Drain In Flight:
// At most one drain cycle runs at a time. A trigger that arrives while a
// drain is active is a no-op reported as Skipped, never a second cycle.
//
// Per-Entity Order:
// The outbox is grouped by entity in (timestamp, seq) order. An entity's
// entries are delivered one after another; when one fails transiently or is
// still inside its backoff window the rest of that entity waits for a later
// cycle, so an older mutation is never applied after a newer one. Different
// entities do not block each other.
//
// Entry Processing:
//  1. Under the entity lock, re-read the entry and move it to syncing.
//  2. Release the lock and call the remote.
//  3. Re-acquire the lock and re-check the entry is still syncing before
//     recording the outcome. A late completion that lost a race with
//     retention or a manual resync is dropped.
//
// Triggers:
// Boot, a connectivity transition to connected, and a timer armed only while
// the outbox is non-empty. Automatic triggers are gated on connectivity;
// an explicit Drain is not.
//
// CRITICAL PATTERNS:
//
// Remote calls are never made while holding an entity lock.
// Exactly-once effect relies on the remote deduplicating by idempotency key;
// the engine only guarantees at-least-once delivery.
package engine
