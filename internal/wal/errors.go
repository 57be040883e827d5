package wal

import (
	"errors"
	"fmt"

	"github.com/roach88/wardsync/internal/store"
)

var (
	// ErrInvalidTransition is returned for a status change outside the
	// entry state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMaxRetriesExceeded is returned by IncrementRetry when the entry has
	// used its last retry and became a terminal failure.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrInvalidEntry is returned by Add for a malformed mutation.
	ErrInvalidEntry = errors.New("invalid mutation entry")

	// ErrSuperseded is returned by Retry when a newer entry of the same
	// entity has already synced. It matches ErrInvalidTransition.
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer synced entry", ErrInvalidTransition)

	// ErrNotFound matches a missing entry.
	ErrNotFound = store.ErrNotFound
)
