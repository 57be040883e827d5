// Package connectivity decides whether the remote backend is really
// reachable.
//
// Platform online/offline signals are only hints: Hint schedules a
// verification probe and never moves the state by itself. The state changes
// on evidence only, a probe result or a listener report. While disconnected
// the monitor probes on a fixed interval; while connected it does not probe
// at all and relies on listener traffic for liveness.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/schedule"
)

const (
	// DefaultInterval is the probe period while disconnected.
	DefaultInterval = 15 * time.Second

	// DefaultProbeTimeout bounds one probe.
	DefaultProbeTimeout = 5 * time.Second
)

// Monitor tracks the verified connectivity state.
//
// Thread-safety: Monitor is safe for concurrent use. Subscriber callbacks
// run one at a time in transition order; they must not call back into the
// Monitor synchronously.
type Monitor struct {
	prober   remote.Prober
	clock    schedule.Clock
	interval time.Duration
	timeout  time.Duration
	task     *schedule.Task

	// notifyMu is held across a state change and its notifications, so
	// subscribers observe flips in the order they happened.
	notifyMu sync.Mutex

	mu      sync.Mutex
	state   ir.ConnectivityState
	running bool
	probing bool
	again   bool
	subs    map[int]func(ir.ConnectivityState)
	nextSub int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe period while disconnected.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock sets the clock that schedules probes.
func WithClock(c schedule.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// New creates a monitor in the disconnected state. Nothing is probed until
// Start.
func New(prober remote.Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		clock:    schedule.SystemClock{},
		interval: DefaultInterval,
		timeout:  DefaultProbeTimeout,
		state:    ir.Disconnected,
		subs:     make(map[int]func(ir.ConnectivityState)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.task = schedule.NewTask(m.clock, m.scheduledProbe)
	return m
}

// Start begins probing with an immediate first probe.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.task.Schedule(0)
	slog.Debug("connectivity monitor started", "event", "connectivity_start", "interval", m.interval)
}

// Stop cancels any scheduled probe. State and subscriptions are kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.task.Stop()
}

// State returns the current state.
func (m *Monitor) State() ir.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the state is connected.
func (m *Monitor) Connected() bool {
	return m.State() == ir.Connected
}

// Subscribe registers fn for state flips and returns its cancel function.
// Repeated identical signals produce no call.
func (m *Monitor) Subscribe(fn func(ir.ConnectivityState)) (cancel func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Hint records an unverified platform signal (for example the OS reporting
// the network came back). It only schedules an immediate verification probe.
func (m *Monitor) Hint() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}
	slog.Debug("connectivity hint, verifying", "event", "connectivity_hint")
	m.task.Schedule(0)
}

// ReportSuccess records listener evidence that the remote is reachable.
func (m *Monitor) ReportSuccess() {
	m.transition(ir.Connected, nil)
}

// ReportFailure records a listener error.
func (m *Monitor) ReportFailure(err error) {
	m.transition(ir.Disconnected, err)
}

// ProbeNow runs one probe synchronously and applies its result.
func (m *Monitor) ProbeNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(ctx)
	if err != nil {
		m.transition(ir.Disconnected, err)
		return err
	}
	m.transition(ir.Connected, nil)
	return nil
}

func (m *Monitor) scheduledProbe() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if m.probing {
		m.again = true
		m.mu.Unlock()
		return
	}
	m.probing = true
	m.mu.Unlock()

	for {
		_ = m.ProbeNow(context.Background())

		m.mu.Lock()
		if !m.again {
			m.probing = false
			m.mu.Unlock()
			break
		}
		m.again = false
		m.mu.Unlock()
	}
	m.rearm()
}

// rearm keeps the periodic probe armed exactly while disconnected.
func (m *Monitor) rearm() {
	m.mu.Lock()
	running := m.running
	disconnected := m.state == ir.Disconnected
	m.mu.Unlock()

	if running && disconnected {
		m.task.ScheduleEarlier(m.interval)
		return
	}
	if _, pending := m.task.Pending(); pending && !disconnected {
		m.task.Stop()
	}
}

func (m *Monitor) transition(to ir.ConnectivityState, cause error) {
	m.notifyMu.Lock()

	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return
	}
	m.state = to
	subs := make([]func(ir.ConnectivityState), 0, len(m.subs))
	for id := 1; id <= m.nextSub; id++ {
		if fn, ok := m.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if cause != nil {
		slog.Info("connectivity changed", "event", "connectivity_transition", "from", from, "to", to, "cause", cause)
	} else {
		slog.Info("connectivity changed", "event", "connectivity_transition", "from", from, "to", to)
	}
	for _, fn := range subs {
		fn(to)
	}
	m.notifyMu.Unlock()

	m.rearm()
}
