// Package schedule provides the time source, one-shot tasks and the retry
// backoff policy used by the sync engine and the connectivity monitor.
//
// Everything time-dependent takes a Clock so tests can drive it with
// testutil.FakeClock instead of sleeping.
package schedule

import (
	"sync"
	"time"
)

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// stopped before it fired.
	Stop() bool
}

// Clock is an injectable time source.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// NowMillis returns the clock's current time in Unix milliseconds, the unit
// of every timestamp the WAL and resolver store.
func NowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// Task runs a function once at a scheduled time. Scheduling again replaces
// any pending run. A Task is safe for concurrent use.
type Task struct {
	clock Clock
	fn    func()

	mu    sync.Mutex
	timer Timer
	due   time.Time
}

// NewTask creates an idle task.
func NewTask(clock Clock, fn func()) *Task {
	return &Task{clock: clock, fn: fn}
}

// Schedule arms the task to run after d, replacing any pending run.
func (t *Task) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arm(d)
}

// ScheduleEarlier arms the task to run after d unless a run is already
// pending at or before that time.
func (t *Task) ScheduleEarlier(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && !t.due.After(t.clock.Now().Add(d)) {
		return
	}
	t.arm(d)
}

func (t *Task) arm(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	t.due = t.clock.Now().Add(d)
	var timer Timer
	timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.timer != timer {
			// Replaced or stopped after the underlying timer fired.
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		t.fn()
	})
	t.timer = timer
}

// Stop cancels a pending run.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Pending reports whether a run is scheduled, and when.
func (t *Task) Pending() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.due, t.timer != nil
}
