package replica

import (
	"github.com/roach88/wardsync/internal/engine"
	"github.com/roach88/wardsync/internal/ir"
)

// EventType classifies replica events.
type EventType string

const (
	// EventConnectivity reports a verified connectivity flip.
	EventConnectivity EventType = "connectivity"

	// EventSyncFailed reports a mutation that became a terminal failure
	// and needs a manual resync.
	EventSyncFailed EventType = "sync_failed"

	// EventListenerError reports a realtime subscription error.
	EventListenerError EventType = "listener_error"
)

// Event is a status notification for the user interface.
type Event struct {
	Type  EventType            `json:"type"`
	State ir.ConnectivityState `json:"state,omitempty"`
	Sync  *engine.Event        `json:"sync,omitempty"`
	Key   string               `json:"key,omitempty"`
	Error string               `json:"error,omitempty"`
	At    int64                `json:"at"`
}

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 64
