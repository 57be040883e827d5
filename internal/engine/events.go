package engine

import (
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
)

// EventType distinguishes engine outcomes.
type EventType string

const (
	// EventSynced means the remote acknowledged an entry.
	EventSynced EventType = "synced"

	// EventRetryScheduled means a transient failure was recorded and the
	// entry will be retried after NextAttemptAt.
	EventRetryScheduled EventType = "retry_scheduled"

	// EventFailed means the entry became a terminal failure that needs a
	// manual resync. This is the user-visible error.
	EventFailed EventType = "failed"

	// EventLateCompletion means a remote completion arrived after the
	// entry left syncing and was discarded.
	EventLateCompletion EventType = "late_completion"
)

// Event is one reported outcome.
type Event struct {
	Type          EventType    `json:"type"`
	EntryID       string       `json:"entry_id"`
	Collection    string       `json:"collection"`
	EntityID      string       `json:"entity_id"`
	Operation     ir.Operation `json:"operation"`
	RetryCount    int          `json:"retry_count,omitempty"`
	NextAttemptAt int64        `json:"next_attempt_at,omitempty"`
	Code          remote.Code  `json:"code,omitempty"`
	Error         string       `json:"error,omitempty"`
}

func newEvent(t EventType, e ir.MutationEntry) Event {
	return Event{
		Type:       t,
		EntryID:    e.ID,
		Collection: e.Collection,
		EntityID:   e.EntityID,
		Operation:  e.Operation,
		RetryCount: e.RetryCount,
	}
}

// Observer receives engine events synchronously on the draining goroutine.
type Observer func(Event)

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	// Skipped is set when another drain was already in flight.
	Skipped bool `json:"skipped"`

	Synced  int `json:"synced"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Late    int `json:"late"`

	// Waiting counts entities left for a later cycle because their head
	// entry is inside its backoff window or was just deferred.
	Waiting int `json:"waiting"`
}
