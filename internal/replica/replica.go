package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/wardsync/internal/conflict"
	"github.com/roach88/wardsync/internal/connectivity"
	"github.com/roach88/wardsync/internal/engine"
	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/keylock"
	"github.com/roach88/wardsync/internal/listener"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/wal"
)

// Config describes a replica. Zero durations and counts fall back to the
// defaults of the package that consumes them.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Collections are the application collections. The WAL collection is
	// added automatically.
	Collections []store.Collection

	MaxRetries int
	Retention  wal.Retention
	Backoff    schedule.Backoff

	SyncInterval   time.Duration
	AttemptTimeout time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration

	// Manual disables the background engine loop and probing. Drains then
	// happen only through Drain.
	Manual bool

	EventBuffer int

	Clock schedule.Clock
	IDs   wal.IDGenerator
}

// journal is the part of the WAL that local writes append through.
type journal interface {
	AddTx(ctx context.Context, tx *store.Tx, m ir.MutationEntry) (string, error)
}

// Replica is an offline-capable local copy of the application data.
//
// Thread-safety: all methods are safe for concurrent use.
type Replica struct {
	cfg   Config
	clock schedule.Clock
	ids   wal.IDGenerator

	st      *store.Store
	log     *wal.WAL
	journal journal
	locks   *keylock.Map

	remote    remote.Adapter
	monitor   *connectivity.Monitor
	engine    *engine.Engine
	resolver  *conflict.Resolver
	listeners *listener.Manager

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	mu     sync.Mutex
	closed bool
	events chan Event
}

// Open boots a replica. adapter may be nil for a local-only replica.
func Open(ctx context.Context, cfg Config, adapter remote.Adapter) (*Replica, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("open replica: path is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = wal.UUIDv7Generator{}
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	collections := append([]store.Collection{wal.StoreCollection()}, cfg.Collections...)
	st, err := store.New(cfg.Path, collections...)
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}

	walOpts := []wal.Option{wal.WithClock(clock), wal.WithMaxRetries(cfg.MaxRetries)}
	if cfg.Retention != (wal.Retention{}) {
		walOpts = append(walOpts, wal.WithRetention(cfg.Retention))
	}
	if cfg.IDs != nil {
		walOpts = append(walOpts, wal.WithIDGenerator(cfg.IDs))
	}
	log := wal.New(st, walOpts...)

	r := &Replica{
		cfg:     cfg,
		clock:   clock,
		ids:     ids,
		st:      st,
		log:     log,
		journal: log,
		locks:   &keylock.Map{},
		remote:  adapter,
		events:  make(chan Event, buffer),
	}

	if _, err := log.RecoverInterrupted(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("open replica: %w", err)
	}
	if res, err := log.AutoCleanup(ctx); err != nil {
		slog.Warn("boot cleanup failed", "event", "replica_boot_cleanup_error", "error", err)
	} else if res.Cleared+res.Enforced > 0 {
		slog.Info("boot cleanup", "event", "replica_boot_cleanup", "cleared", res.Cleared, "enforced", res.Enforced)
	}

	if adapter != nil {
		r.startSync(ctx)
	}
	slog.Info("replica open",
		"event", "replica_open",
		"path", cfg.Path,
		"collections", len(cfg.Collections),
		"remote", adapter != nil,
		"manual", cfg.Manual)
	return r, nil
}

func (r *Replica) startSync(ctx context.Context) {
	cfg := r.cfg
	r.monitor = connectivity.New(r.remote,
		connectivity.WithClock(r.clock),
		connectivity.WithInterval(cfg.ProbeInterval),
		connectivity.WithProbeTimeout(cfg.ProbeTimeout),
	)

	engineOpts := []engine.Option{
		engine.WithClock(r.clock),
		engine.WithInterval(cfg.SyncInterval),
		engine.WithAttemptTimeout(cfg.AttemptTimeout),
		engine.WithGate(r.monitor),
		engine.WithObserver(r.onSyncEvent),
	}
	if cfg.Backoff.Base > 0 {
		engineOpts = append(engineOpts, engine.WithBackoff(cfg.Backoff))
	}
	r.engine = engine.New(r.log, r.remote, r.locks, engineOpts...)
	r.resolver = conflict.New(r.st, r.log, r.locks)
	r.listeners = listener.New(r.remote, r.resolver,
		listener.WithHealth(r.monitor),
		listener.WithErrorHandler(r.onListenerError),
	)

	r.unsubscribe = r.monitor.Subscribe(r.onConnectivity)
	if cfg.Manual {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.engine.Run(runCtx)
	}()
	r.monitor.Start()
	r.engine.Trigger("boot")
}

// Close stops background work and closes the store. It is idempotent.
func (r *Replica) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.listeners != nil {
		r.listeners.UnsubscribeAll()
	}
	if r.monitor != nil {
		r.unsubscribe()
		r.monitor.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	close(r.events)
	r.mu.Unlock()

	slog.Info("replica closed", "event", "replica_close", "path", r.cfg.Path)
	return r.st.Close()
}

// Events returns the status event stream. It is closed by Close. Events
// are dropped when the consumer falls behind by more than the buffer.
func (r *Replica) Events() <-chan Event {
	return r.events
}

func (r *Replica) emit(ev Event) {
	ev.At = schedule.NowMillis(r.clock)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		slog.Warn("replica event dropped", "event", "replica_event_dropped", "type", ev.Type)
	}
}

func (r *Replica) onConnectivity(state ir.ConnectivityState) {
	r.engine.OnConnectivity(state)
	r.emit(Event{Type: EventConnectivity, State: state})
}

func (r *Replica) onSyncEvent(ev engine.Event) {
	if ev.Type != engine.EventFailed {
		return
	}
	r.emit(Event{Type: EventSyncFailed, Sync: &ev, Error: ev.Error})
}

func (r *Replica) onListenerError(key string, err error) {
	r.emit(Event{Type: EventListenerError, Key: key, Error: err.Error()})
}

func (r *Replica) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Store returns the underlying local store for read-only inspection.
func (r *Replica) Store() *store.Store {
	return r.st
}

// WAL returns the write-ahead log.
func (r *Replica) WAL() *wal.WAL {
	return r.log
}
