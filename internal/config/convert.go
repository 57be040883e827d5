package config

import (
	"slices"

	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/replica"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/wal"
)

// StoreCollections returns the collection declarations, sorted by name,
// with indexes sorted by name.
func (c Config) StoreCollections() []store.Collection {
	out := make([]store.Collection, 0, len(c.Collections))
	for _, name := range c.CollectionNames() {
		cc := c.Collections[name]
		coll := store.Collection{Name: name}
		for _, idx := range sortedKeys(cc.Indexes) {
			coll.Indexes = append(coll.Indexes, store.Index{Name: idx, Field: cc.Indexes[idx]})
		}
		out = append(out, coll)
	}
	return out
}

// Replica returns the replica settings.
func (c Config) Replica() replica.Config {
	return replica.Config{
		Path:        c.Store.Path,
		Collections: c.StoreCollections(),
		MaxRetries:  c.WAL.MaxRetries,
		Retention: wal.Retention{
			MaxAge:     c.WAL.MaxAge.Value(),
			MaxEntries: c.WAL.MaxEntries,
		},
		Backoff: schedule.Backoff{
			Base:   c.Sync.BackoffBase.Value(),
			Max:    c.Sync.BackoffMax.Value(),
			Jitter: c.Sync.BackoffJitter,
		},
		SyncInterval:   c.Sync.Interval.Value(),
		AttemptTimeout: c.Sync.AttemptTimeout.Value(),
		ProbeInterval:  c.Connectivity.Interval.Value(),
		ProbeTimeout:   c.Connectivity.Timeout.Value(),
	}
}

// Query returns the remote query of a subscription.
func (s SubscriptionConfig) Query() remote.Query {
	q := remote.Query{Collection: s.Collection, Field: s.Field, Deleted: s.Deleted}
	if s.Field != "" {
		q.Value = s.Value
	}
	return q
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
