package schedule_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/testutil"
)

func TestBackoff_DoublesUntilCapped(t *testing.T) {
	b := schedule.Backoff{Base: time.Second, Max: 30 * time.Second}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for retry, d := range want {
		assert.Equal(t, d, b.Delay(retry), "retry %d", retry)
	}
	assert.Equal(t, 30*time.Second, b.Delay(1000), "no overflow for large retry counts")
	assert.Equal(t, time.Second, b.Delay(-1))
}

func TestBackoff_Defaults(t *testing.T) {
	var b schedule.Backoff
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 5*time.Minute, b.Delay(20))
	assert.Equal(t, schedule.DefaultBackoff().Delay(3), b.Delay(3))
}

func TestBackoff_JitterShortensOnly(t *testing.T) {
	b := schedule.Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.5, Rand: func() float64 { return 0.5 }}
	assert.Equal(t, 750*time.Millisecond, b.Delay(0))

	b.Rand = func() float64 { return 0 }
	assert.Equal(t, 4*time.Second, b.Delay(2))
}

func TestNowMillis(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(1234))
	assert.Equal(t, int64(1234), schedule.NowMillis(clock))
}

func TestTask_RunsOnceAtDeadline(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(0))
	var runs atomic.Int32
	task := schedule.NewTask(clock, func() { runs.Add(1) })

	task.Schedule(10 * time.Second)
	due, pending := task.Pending()
	assert.True(t, pending)
	assert.Equal(t, time.UnixMilli(10_000), due)

	clock.Advance(9 * time.Second)
	assert.Equal(t, int32(0), runs.Load())

	clock.Advance(time.Second)
	assert.Equal(t, int32(1), runs.Load())
	_, pending = task.Pending()
	assert.False(t, pending)

	clock.Advance(time.Hour)
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_ScheduleReplaces(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(0))
	var runs atomic.Int32
	task := schedule.NewTask(clock, func() { runs.Add(1) })

	task.Schedule(5 * time.Second)
	task.Schedule(20 * time.Second)

	clock.Advance(10 * time.Second)
	assert.Equal(t, int32(0), runs.Load(), "first schedule was replaced")
	clock.Advance(10 * time.Second)
	assert.Equal(t, int32(1), runs.Load())
}

func TestTask_ScheduleEarlierKeepsSoonerRun(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(0))
	var runs atomic.Int32
	task := schedule.NewTask(clock, func() { runs.Add(1) })

	task.ScheduleEarlier(5 * time.Second)
	task.ScheduleEarlier(20 * time.Second)
	clock.Advance(5 * time.Second)
	assert.Equal(t, int32(1), runs.Load())

	task.ScheduleEarlier(20 * time.Second)
	task.ScheduleEarlier(2 * time.Second)
	clock.Advance(2 * time.Second)
	assert.Equal(t, int32(2), runs.Load(), "a sooner deadline replaces a later one")
}

func TestTask_Stop(t *testing.T) {
	clock := testutil.NewFakeClock(time.UnixMilli(0))
	var runs atomic.Int32
	task := schedule.NewTask(clock, func() { runs.Add(1) })

	task.Schedule(time.Second)
	task.Stop()
	clock.Advance(time.Minute)
	assert.Equal(t, int32(0), runs.Load())
}
