package ir

import "fmt"

// Operation is the kind of local mutation recorded in the WAL.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Status is the delivery state of a MutationEntry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// MutationEntry is a single WAL record.
//
// An entry is created by a local mutation and afterwards changed only by the
// sync engine (status and retry bookkeeping), boot recovery, explicit resync,
// and the retention policy. The listener side never touches it.
type MutationEntry struct {
	ID             string    `json:"id"`
	Collection     string    `json:"collection"`
	EntityID       string    `json:"entity_id"`
	Operation      Operation `json:"operation"`
	Payload        Document  `json:"payload"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         Status    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	Timestamp      int64     `json:"timestamp"` // creation, Unix ms
	Seq            int64     `json:"seq"`       // tie-breaker within a millisecond
	LastError      string    `json:"last_error,omitempty"`

	// Terminal marks a failed entry that must not be retried automatically.
	Terminal bool `json:"terminal,omitempty"`

	// NextAttemptAt is the backoff deadline (Unix ms) of a retryable failure.
	NextAttemptAt int64 `json:"next_attempt_at,omitempty"`

	UpdatedAt int64 `json:"updated_at"`
}

// EntityKey returns the serialization key for the entry's entity.
func (e MutationEntry) EntityKey() string {
	return EntityKey(e.Collection, e.EntityID)
}

// Unsynced reports whether the entry still represents work the remote has not
// observed: pending, in flight, or failed but retryable.
func (e MutationEntry) Unsynced() bool {
	switch e.Status {
	case StatusPending, StatusSyncing:
		return true
	case StatusFailed:
		return !e.Terminal
	}
	return false
}

// Before reports whether e sorts before other in WAL order.
func (e MutationEntry) Before(other MutationEntry) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp < other.Timestamp
	}
	if e.Seq != other.Seq {
		return e.Seq < other.Seq
	}
	return e.ID < other.ID
}

func (e MutationEntry) String() string {
	return fmt.Sprintf("%s[%s %s/%s %s]", e.ID, e.Operation, e.Collection, e.EntityID, e.Status)
}

// EntityKey joins a collection and entity id into the key used for per-entity
// serialization and WAL lookups.
func EntityKey(collection, entityID string) string {
	return collection + "/" + entityID
}

// ChangeType classifies a remote document change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// RemoteChangeEvent is one remote document change delivered by a listener.
type RemoteChangeEvent struct {
	Collection      string     `json:"collection"`
	DocID           string     `json:"doc_id"`
	Data            Document   `json:"data,omitempty"`
	ChangeType      ChangeType `json:"change_type"`
	SourceTimestamp int64      `json:"source_timestamp"` // Unix ms
}

// EntityKey returns the serialization key for the event's entity.
func (ev RemoteChangeEvent) EntityKey() string {
	return EntityKey(ev.Collection, ev.DocID)
}

// ConnectivityState is the verified reachability of the remote backend.
type ConnectivityState string

const (
	Disconnected ConnectivityState = "disconnected"
	Connected    ConnectivityState = "connected"
)
