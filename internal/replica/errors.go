package replica

import "errors"

var (
	// ErrNoRemote is returned by sync operations of a local-only replica.
	ErrNoRemote = errors.New("replica has no remote")

	// ErrExists is returned by Create for a live entity.
	ErrExists = errors.New("entity already exists")

	// ErrDeleted is returned when updating an entity that is in the trash.
	ErrDeleted = errors.New("entity is deleted")

	// ErrNotDeleted is returned when restoring an entity that is not in the
	// trash.
	ErrNotDeleted = errors.New("entity is not deleted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("replica closed")
)
