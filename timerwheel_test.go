package rtcore

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pinnedTestTask returns a Task (and the Waker wrapping it) whose schedule()
// calls never touch a Runtime: wake/schedule is observable purely via the
// pinnedWake channel, which is exactly what BlockOn's driver loop consumes in
// production.
func pinnedTestTask(id uint64) (*Task, chan struct{}) {
	tk := newTestTask(id)
	tk.pinnedWake = make(chan struct{}, 1)
	return tk, tk.pinnedWake
}

func drainSignal(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTimerWheelInsertAndFireAdvancesToReady(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	base := w.now
	tk, wake := pinnedTestTask(1)

	id := w.Insert(base.Add(5*time.Millisecond), tk.waker)
	assert.NotZero(t, id)
	assert.Equal(t, 1, w.Len())
	assert.False(t, drainSignal(wake), "must not fire before its deadline")

	w.Advance(base.Add(4 * time.Millisecond))
	assert.False(t, drainSignal(wake), "must not fire one tick early")

	w.Advance(base.Add(6 * time.Millisecond))
	assert.True(t, drainSignal(wake), "must fire once its deadline has elapsed")
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, taskRunnable, tk.st.sched())
}

func TestTimerWheelCancelPreventsFire(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	base := w.now
	tk, wake := pinnedTestTask(1)

	id := w.Insert(base.Add(5*time.Millisecond), tk.waker)
	require.True(t, w.Cancel(id))
	assert.False(t, w.Cancel(id), "cancelling twice must report false the second time")

	w.Advance(base.Add(10 * time.Millisecond))
	assert.False(t, drainSignal(wake), "a cancelled timer must never fire")
	assert.Equal(t, taskIdle, tk.st.sched())
}

func TestTimerWheelCancelUnknownIDReturnsFalse(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	assert.False(t, w.Cancel(999999))
}

func TestTimerWheelNextDeadlineReportsEarliest(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	base := w.now

	_, ok := w.NextDeadline()
	assert.False(t, ok, "an empty wheel has no next deadline")

	tkLate, _ := pinnedTestTask(1)
	tkSoon, _ := pinnedTestTask(2)
	w.Insert(base.Add(50*time.Millisecond), tkLate.waker)
	w.Insert(base.Add(5*time.Millisecond), tkSoon.waker)

	d, ok := w.NextDeadline()
	require.True(t, ok)
	assert.InDelta(t, 5*time.Millisecond, d, float64(time.Millisecond))
}

func TestTimerWheelCascadesAcrossLevels(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	base := w.now
	// A deadline far enough out to land above level 0 (64ms) so firing it
	// requires at least one cross-level cascade.
	farDeadline := base.Add(200 * time.Millisecond)
	tk, wake := pinnedTestTask(1)
	w.Insert(farDeadline, tk.waker)

	level := w.levelFor(farDeadline.Sub(base))
	assert.Greater(t, level, 0, "a 200ms deadline at 1ms resolution must not land on level 0")

	// Advance in small increments, simulating a worker loop ticking the
	// wheel forward, past the deadline.
	now := base
	for now.Before(farDeadline.Add(time.Millisecond)) {
		now = now.Add(time.Millisecond)
		w.Advance(now)
	}
	assert.True(t, drainSignal(wake))
	assert.Equal(t, 0, w.Len())
}

func TestTimerWheelManyRandomDeadlinesAllFire(t *testing.T) {
	w := NewTimerWheel(time.Millisecond)
	base := w.now
	rng := rand.New(rand.NewSource(42))

	const n = 500
	type entry struct {
		tk  *Task
		ch  chan struct{}
		dur time.Duration
	}
	entries := make([]entry, n)
	for i := range entries {
		dur := time.Duration(rng.Intn(500)) * time.Millisecond
		tk, ch := pinnedTestTask(uint64(i + 1))
		entries[i] = entry{tk: tk, ch: ch, dur: dur}
		w.Insert(base.Add(dur), tk.waker)
	}
	assert.Equal(t, n, w.Len())

	// Advance the whole window in small steps so every entry is swept.
	now := base
	for i := 0; i < 600; i++ {
		now = now.Add(time.Millisecond)
		w.Advance(now)
	}

	for i, e := range entries {
		assert.Truef(t, drainSignal(e.ch), "entry %d (deadline +%s) never fired", i, e.dur)
	}
	assert.Equal(t, 0, w.Len())
}

func TestTimerWheelReinsertAfterLevelDrop(t *testing.T) {
	// An entry inserted far out that, once cascaded down to level 0, must
	// still fire at its original deadline, not early.
	w := NewTimerWheel(time.Millisecond)
	base := w.now
	tk, wake := pinnedTestTask(1)
	deadline := base.Add(150 * time.Millisecond)
	w.Insert(deadline, tk.waker)

	// Advance to just before the deadline; must still be pending.
	w.Advance(deadline.Add(-2 * time.Millisecond))
	assert.False(t, drainSignal(wake))

	w.Advance(deadline.Add(2 * time.Millisecond))
	assert.True(t, drainSignal(wake))
}

func TestTimerWheelDefaultsTickWhenNonPositive(t *testing.T) {
	w := NewTimerWheel(0)
	assert.Equal(t, time.Millisecond, w.levels[0].resolution)
	w2 := NewTimerWheel(-time.Second)
	assert.Equal(t, time.Millisecond, w2.levels[0].resolution)
}
