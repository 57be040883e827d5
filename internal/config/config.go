// Package config loads wardsync configuration from CUE.
//
// The embedded schema (#Config) constrains every field and carries the
// defaults. A user file is unified with it, must be concrete after
// unification, and is decoded into Config:
//
//	store: path: "/var/lib/wardsync/ward.db"
//	remote: url: "https://sync.example.org"
//	collections: patients: indexes: unit: "unitId"
//	subscriptions: patients_icu: {collection: "patients", field: "unitId", value: "icu"}
package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/robfig/cron/v3"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFile is the file the CLI looks for when --config is not given.
const DefaultFile = "wardsync.cue"

// Duration is a Go duration string validated at load time.
type Duration string

// Value returns the parsed duration. Load guarantees it parses.
func (d Duration) Value() time.Duration {
	v, _ := time.ParseDuration(string(d))
	return v
}

// Config is the decoded configuration.
type Config struct {
	Store         StoreConfig                   `json:"store"`
	Remote        RemoteConfig                  `json:"remote"`
	WAL           WALConfig                     `json:"wal"`
	Sync          SyncConfig                    `json:"sync"`
	Connectivity  ConnectivityConfig            `json:"connectivity"`
	Cleanup       CleanupConfig                 `json:"cleanup"`
	Log           LogConfig                     `json:"log"`
	Collections   map[string]CollectionConfig   `json:"collections"`
	Subscriptions map[string]SubscriptionConfig `json:"subscriptions"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type RemoteConfig struct {
	URL           string   `json:"url"`
	Token         string   `json:"token"`
	Timeout       Duration `json:"timeout"`
	ReconnectBase Duration `json:"reconnect_base"`
	ReconnectMax  Duration `json:"reconnect_max"`
}

type WALConfig struct {
	MaxRetries int      `json:"max_retries"`
	MaxAge     Duration `json:"max_age"`
	MaxEntries int      `json:"max_entries"`
}

type SyncConfig struct {
	Interval       Duration `json:"interval"`
	AttemptTimeout Duration `json:"attempt_timeout"`
	BackoffBase    Duration `json:"backoff_base"`
	BackoffMax     Duration `json:"backoff_max"`
	BackoffJitter  float64  `json:"backoff_jitter"`
}

type ConnectivityConfig struct {
	Interval Duration `json:"interval"`
	Timeout  Duration `json:"timeout"`
}

type CleanupConfig struct {
	Schedule string `json:"schedule"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CollectionConfig maps index names to document fields.
type CollectionConfig struct {
	Indexes map[string]string `json:"indexes"`
}

// SubscriptionConfig scopes one realtime subscription.
type SubscriptionConfig struct {
	Collection string `json:"collection"`
	Field      string `json:"field,omitempty"`
	Value      string `json:"value,omitempty"`
	Deleted    bool   `json:"deleted"`
}

// LoadError is a configuration error with its CUE source position when
// one is known.
type LoadError struct {
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := LoadBytes("default", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes validates CUE source named filename.
func LoadBytes(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, cueError(err, "schema.cue", cue.Value{})
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, cueError(err, filename, cue.Value{})
	}

	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(err, filename, user)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, cueError(err, filename, user)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// check enforces what the schema cannot express.
func (c Config) check() error {
	durations := []struct {
		name string
		d    Duration
	}{
		{"remote.timeout", c.Remote.Timeout},
		{"remote.reconnect_base", c.Remote.ReconnectBase},
		{"remote.reconnect_max", c.Remote.ReconnectMax},
		{"wal.max_age", c.WAL.MaxAge},
		{"sync.interval", c.Sync.Interval},
		{"sync.attempt_timeout", c.Sync.AttemptTimeout},
		{"sync.backoff_base", c.Sync.BackoffBase},
		{"sync.backoff_max", c.Sync.BackoffMax},
		{"connectivity.interval", c.Connectivity.Interval},
		{"connectivity.timeout", c.Connectivity.Timeout},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(string(d.d)); err != nil {
			return &LoadError{Message: fmt.Sprintf("%s: %v", d.name, err)}
		}
	}
	if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
		return &LoadError{Message: fmt.Sprintf("cleanup.schedule: %v", err)}
	}
	if c.Sync.BackoffBase.Value() > c.Sync.BackoffMax.Value() {
		return &LoadError{Message: "sync.backoff_base must not exceed sync.backoff_max"}
	}
	for _, key := range c.SubscriptionKeys() {
		sub := c.Subscriptions[key]
		if _, ok := c.Collections[sub.Collection]; !ok {
			return &LoadError{Message: fmt.Sprintf("subscriptions.%s: unknown collection %q", key, sub.Collection)}
		}
		if sub.Field == "" && sub.Value != "" {
			return &LoadError{Message: fmt.Sprintf("subscriptions.%s: value requires field", key)}
		}
	}
	return nil
}

// CollectionNames returns the configured collections in sorted order.
func (c Config) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SubscriptionKeys returns the configured subscription keys in sorted
// order.
func (c Config) SubscriptionKeys() []string {
	keys := make([]string, 0, len(c.Subscriptions))
	for key := range c.Subscriptions {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// cueError extracts the first CUE error with its position. Positions in
// the user file win over schema positions; when the error carries none, the
// position of the offending field in user is used.
func cueError(err error, filename string, user cue.Value) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Message: first.Error()}

	var fallback token.Pos
	for _, e := range errs {
		for _, p := range errors.Positions(e) {
			if !p.IsValid() {
				continue
			}
			if p.Filename() == filename {
				le.Pos = p
				return le
			}
			if !fallback.IsValid() {
				fallback = p
			}
		}
	}
	if p := fieldPos(user, first.Path()); p.IsValid() {
		le.Pos = p
		return le
	}
	le.Pos = fallback
	return le
}

// fieldPos returns the source position of the value at path in v.
func fieldPos(v cue.Value, path []string) token.Pos {
	if !v.Exists() || len(path) == 0 {
		return token.NoPos
	}
	sels := make([]cue.Selector, 0, len(path))
	for _, name := range path {
		sels = append(sels, cue.Str(name))
	}
	return v.LookupPath(cue.MakePath(sels...)).Pos()
}
