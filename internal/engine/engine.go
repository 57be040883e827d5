package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/keylock"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/wal"
)

const (
	// DefaultInterval is the periodic drain period while the outbox is
	// non-empty.
	DefaultInterval = 30 * time.Second

	// DefaultAttemptTimeout bounds one remote call.
	DefaultAttemptTimeout = 30 * time.Second
)

// Gate reports whether automatic drains may run.
type Gate interface {
	Connected() bool
}

// Engine is the outbox processor.
//
// Thread-safety model:
//   - Drain(), Trigger(), OnConnectivity(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	log            *wal.WAL
	remote         remote.Applier
	locks          *keylock.Map
	clock          schedule.Clock
	backoff        schedule.Backoff
	interval       time.Duration
	attemptTimeout time.Duration
	gate           Gate
	observer       Observer

	draining atomic.Bool
	triggers chan string
	timer    *schedule.Task
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for backoff deadlines and the drain timer.
func WithClock(c schedule.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithBackoff sets the retry policy.
func WithBackoff(b schedule.Backoff) Option {
	return func(e *Engine) { e.backoff = b }
}

// WithInterval sets the periodic drain period.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithAttemptTimeout bounds each remote call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.attemptTimeout = d
		}
	}
}

// WithGate gates automatic triggers, normally on the connectivity monitor.
func WithGate(g Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithObserver receives every engine event.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an engine. locks must be shared with every other writer of
// the same entities.
func New(log *wal.WAL, applier remote.Applier, locks *keylock.Map, opts ...Option) *Engine {
	e := &Engine{
		log:            log,
		remote:         applier,
		locks:          locks,
		clock:          schedule.SystemClock{},
		backoff:        schedule.DefaultBackoff(),
		interval:       DefaultInterval,
		attemptTimeout: DefaultAttemptTimeout,
		triggers:       make(chan string, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.timer = schedule.NewTask(e.clock, func() { e.Trigger("timer") })
	return e
}

// Trigger requests an automatic drain from the Run loop. It never blocks;
// triggers arriving while one is queued coalesce.
func (e *Engine) Trigger(reason string) {
	select {
	case e.triggers <- reason:
	default:
	}
}

// OnConnectivity triggers a drain when the remote becomes reachable. It is
// meant to be subscribed to the connectivity monitor.
func (e *Engine) OnConnectivity(state ir.ConnectivityState) {
	if state == ir.Connected {
		e.Trigger("reconnect")
	}
}

// Run processes triggers until ctx is cancelled.
//
// ERROR HANDLING: a failed drain is logged and the loop continues; the
// entries involved stay in the WAL and the timer retries them.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("sync engine starting", "event", "engine_start", "interval", e.interval)
	defer e.timer.Stop()

	e.rearm(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopping", "event", "engine_stop")
			return ctx.Err()
		case reason := <-e.triggers:
			if e.gate != nil && !e.gate.Connected() {
				slog.Debug("drain trigger ignored while disconnected", "event", "engine_gated", "reason", reason)
				continue
			}
			res, err := e.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("drain failed", "event", "engine_drain_error", "reason", reason, "error", err)
				continue
			}
			if !res.Skipped {
				slog.Debug("drain finished",
					"event", "engine_drain",
					"reason", reason,
					"synced", res.Synced,
					"retried", res.Retried,
					"failed", res.Failed,
					"waiting", res.Waiting)
			}
		}
	}
}

// rearm keeps the drain timer armed exactly while the outbox is non-empty,
// at the earlier of the interval and the soonest backoff deadline.
func (e *Engine) rearm(ctx context.Context) {
	pending, err := e.log.GetPending(ctx)
	if err != nil {
		slog.Warn("cannot schedule next drain", "event", "engine_rearm_error", "error", err)
		e.timer.Schedule(e.interval)
		return
	}
	if len(pending) == 0 {
		e.timer.Stop()
		return
	}

	now := schedule.NowMillis(e.clock)
	next := e.interval
	for _, p := range pending {
		if p.NextAttemptAt > now {
			if d := time.Duration(p.NextAttemptAt-now) * time.Millisecond; d < next {
				next = d
			}
		}
	}
	e.timer.Schedule(next)
}

// NextDrain reports when the timer will trigger next, if armed.
func (e *Engine) NextDrain() (time.Time, bool) {
	return e.timer.Pending()
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}
