package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/store"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "wardsync.db", cfg.Store.Path)
	assert.Equal(t, "", cfg.Remote.URL)
	assert.Equal(t, 5, cfg.WAL.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.WAL.MaxAge.Value())
	assert.Equal(t, 10000, cfg.WAL.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval.Value())
	assert.Equal(t, time.Second, cfg.Sync.BackoffBase.Value())
	assert.Equal(t, 5*time.Minute, cfg.Sync.BackoffMax.Value())
	assert.Equal(t, 15*time.Second, cfg.Connectivity.Interval.Value())
	assert.Equal(t, "@every 1h", cfg.Cleanup.Schedule)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Collections)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "ward.cue"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/wardsync/ward.db", cfg.Store.Path)
	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, 8, cfg.WAL.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Sync.Interval.Value())
	assert.InDelta(t, 0.2, cfg.Sync.BackoffJitter, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Sync.AttemptTimeout.Value(), "unset fields keep defaults")

	assert.Equal(t, []string{"patients", "units"}, cfg.CollectionNames())
	assert.Equal(t, []store.Collection{
		{Name: "patients", Indexes: []store.Index{{Name: "bed", Field: "bed"}, {Name: "unit", Field: "unitId"}}},
		{Name: "units"},
	}, cfg.StoreCollections())

	assert.Equal(t, []string{"patients_icu", "trash_icu", "units"}, cfg.SubscriptionKeys())
	assert.Equal(t, remote.Query{Collection: "patients", Field: "unitId", Value: "icu"}, cfg.Subscriptions["patients_icu"].Query())
	assert.True(t, cfg.Subscriptions["trash_icu"].Query().Deleted)
	assert.Equal(t, remote.Query{Collection: "units"}, cfg.Subscriptions["units"].Query())

	rc := cfg.Replica()
	assert.Equal(t, cfg.Store.Path, rc.Path)
	assert.Equal(t, 8, rc.MaxRetries)
	assert.Equal(t, 2*time.Second, rc.Backoff.Base)
	assert.Equal(t, 7*24*time.Hour, rc.Retention.MaxAge)
	assert.Len(t, rc.Collections, 2)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad duration", `sync: interval: "soon"`, "interval"},
		{"unknown field", `sync: speed: 3`, "speed"},
		{"retries below one", `wal: max_retries: 0`, "max_retries"},
		{"log level", `log: level: "loud"`, "level"},
		{"reserved collection", `collections: "_wal": {}`, "_wal"},
		{"subscription collection", `subscriptions: x: collection: "beds"`, "unknown collection"},
		{"value without field", "collections: units: {}\nsubscriptions: x: {collection: \"units\", value: \"a\"}", "value requires field"},
		{"backoff order", `sync: {backoff_base: "10m", backoff_max: "1m"}`, "backoff_base"},
		{"cron", `cleanup: schedule: "every tuesday"`, "cleanup.schedule"},
		{"syntax", `store: {`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes("test.cue", []byte(tt.src))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadErrorPosition(t *testing.T) {
	_, err := LoadBytes("ward.cue", []byte("store: path: 3\n"))
	require.Error(t, err)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	require.True(t, le.Pos.IsValid(), "type conflict must carry a position")
	assert.Equal(t, "ward.cue", le.Pos.Filename())
	assert.Equal(t, 1, le.Pos.Line())
	assert.Contains(t, err.Error(), "ward.cue:1:")
}

func TestLoadErrorPosition_NestedField(t *testing.T) {
	src := "store: path: \"/tmp/w.db\"\nwal: max_retries: \"many\"\n"
	_, err := LoadBytes("ward.cue", []byte(src))
	require.Error(t, err)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	require.True(t, le.Pos.IsValid())
	assert.Equal(t, "ward.cue", le.Pos.Filename())
	assert.Equal(t, 2, le.Pos.Line())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
}
