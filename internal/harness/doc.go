// Package harness runs replica scenarios described in YAML and checks them
// against assertions and golden traces.
//
// A scenario drives one replica backed by an in-memory remote, with a fake
// clock and sequential ids, so the same file always produces the same trace.
//
// # Scenario Format
//
//	name: offline_reconnect
//	description: "Mutations made offline reach the remote in order"
//	start: 1000               # fake clock start, Unix ms
//	collections:
//	  patients: { unit: unitId }
//	steps:
//	  - do: offline
//	  - do: create
//	    collection: patients
//	    id: p1
//	    doc: { name: Ada }
//	  - do: update
//	    collection: patients
//	    id: p1
//	    doc: { bed: "3A" }
//	  - do: drain
//	    expect:
//	      result: { retried: 1, waiting: 1 }
//	  - do: online
//	  - do: advance
//	    by: 1s
//	  - do: drain
//	assertions:
//	  - type: trace_order
//	    events:
//	      - { type: remote, action: create, id: p1 }
//	      - { type: remote, id: p1, args: { bed: "3A" } }
//	  - type: wal_state
//	    expect: { synced: 2 }
//
// # Steps
//
//   - create, update, delete, restore: local writes through the replica
//   - enqueue: append a WAL entry directly, optionally with an explicit
//     idempotency key
//   - drain: run one sync cycle
//   - offline, online: toggle the remote
//   - advance: move the fake clock by a duration
//   - remote_change: deliver a remote change event to the conflict resolver
//   - seed: fill the WAL with entries in given states
//   - enforce_max_size, cleanup: apply retention
//
// # Assertion Types
//
//   - trace_contains: an event matching the pattern is in the trace
//   - trace_order: events matching the patterns appear in the given order
//   - trace_count: exactly N events match the pattern
//   - local_state: a document in the local store has the expected fields
//   - remote_state: a document in the remote has the expected fields
//   - wal_state: the WAL status counts match
//
// Every step is recorded in the trace as a "step" event, followed by one
// "remote" event per mutation the remote applied during that step.
package harness
