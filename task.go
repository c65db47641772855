package rtcore

import "sync/atomic"

// taskVTable is the type-erased operation set for a Task's underlying
// Future, generated once per concrete Future type at spawn time. This
// mirrors source's compile-time monomorphization with closures instead of
// function pointers into a shared byte buffer: each Task still avoids
// forcing callers through a common interface at every poll, since the
// closures close over the concrete Future directly.
type taskVTable struct {
	poll func(cx *Context) PollState
	drop func()
}

// Task is a heap-allocated, reference-counted handle wrapping a type-erased
// Future, its output slot (held inside the vtable closures, not here), its
// Waker, and the scheduler it belongs to.
//
// Invariants: RUNNING and COMPLETE are mutually exclusive; at most one
// worker observes RUNNING at a time; the RUNNABLE->RUNNING transition is
// atomic and performed by exactly one worker; after COMPLETE the Future has
// been dropped but the output lives until the JoinHandle reads it; the
// reference count reaches zero only after both the scheduler and the
// JoinHandle have released their reference.
type Task struct {
	id         uint64
	st         *taskState
	refs       atomic.Int32
	rt         *Runtime
	vt         taskVTable
	waker      *Waker
	joinWaiter atomic.Pointer[Waker]
	panicVal   atomic.Pointer[PanicError]

	// pinnedWake is non-nil only for a task driven directly by BlockOn on
	// the calling goroutine: schedule() signals this channel instead of
	// handing the task to the pool, since no worker loop owns it.
	pinnedWake chan struct{}
}

func newTask(rt *Runtime, id uint64, vt taskVTable) *Task {
	t := &Task{id: id, st: newTaskState(), rt: rt, vt: vt}
	t.refs.Store(2) // one ref for the scheduler, one for the JoinHandle
	t.waker = &Waker{task: t}
	return t
}

// ID returns the task's monotonic 64-bit identifier, used for debugging and
// join correlation.
func (t *Task) ID() uint64 { return t.id }

func (t *Task) addRef() { t.refs.Add(1) }

func (t *Task) release() {
	if t.refs.Add(-1) == 0 && t.rt != nil {
		t.rt.jointable.forget(t.id)
	}
}

// schedule performs the IDLE->RUNNABLE CAS (enqueuing on success) or the
// RUNNING->RUNNING_NOTIFIED CAS (deferring re-enqueue until the in-flight
// poll finishes). A lost CAS against RUNNABLE/COMPLETE/CANCELLED requires
// no further action.
func (t *Task) schedule(fromWorker bool) {
	if t.pinnedWake != nil {
		if t.st.tryTransition(taskIdle, taskRunnable) {
			select {
			case t.pinnedWake <- struct{}{}:
			default:
			}
			return
		}
		t.st.tryTransition(taskRunning, taskRunningNotified)
		return
	}
	if t.st.tryTransition(taskIdle, taskRunnable) {
		t.rt.enqueueTask(t, fromWorker)
		return
	}
	t.st.tryTransition(taskRunning, taskRunningNotified)
}

// requestCancel sets the CANCELLED flag and wakes the task so cancellation
// is observed at the next poll boundary. There is no forced interruption of
// a poll already in progress.
func (t *Task) requestCancel() {
	t.st.setFlag(taskFlagCancelled)
	t.schedule(currentWorker() != nil)
}

func (t *Task) isCancelled() bool { return t.st.isCancelled() }

// markCancelledForShutdown sets the CANCELLED flag without rescheduling;
// used by a worker draining its queues during shutdown, where the task is
// about to be run() directly rather than requeued.
func (t *Task) markCancelledForShutdown() { t.st.setFlag(taskFlagCancelled) }

// run executes one poll cycle: CAS RUNNABLE->RUNNING, invoke poll, then
// resolve the RUNNING->{IDLE, RUNNABLE, COMPLETE} transition depending on
// the outcome and whether a wake arrived mid-poll.
func (t *Task) run() {
	if !t.st.tryTransition(taskRunnable, taskRunning) {
		return
	}

	if t.isCancelled() {
		t.complete()
		return
	}

	cx := &Context{waker: t.waker, cancelled: t.isCancelled}
	ready, panicked := t.pollOnce(cx)

	if panicked || ready {
		t.complete()
		return
	}

	if t.st.tryTransition(taskRunning, taskIdle) {
		return
	}
	// Lost the race above: a wake arrived during poll, moving us to
	// RUNNING_NOTIFIED. Re-enqueue rather than park.
	if t.st.tryTransition(taskRunningNotified, taskRunnable) {
		t.rt.enqueueTask(t, true)
	}
}

func (t *Task) pollOnce(cx *Context) (ready, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			t.panicVal.Store(&PanicError{Value: r})
			logEvent(t.rt.logger(), LevelError, "task", "poll panicked", int64(t.id), 0, t.rt.id, nil)
		}
	}()
	return t.vt.poll(cx) == Ready, false
}

func (t *Task) complete() {
	for {
		cur := t.st.v.Load()
		next := (cur &^ taskSchedMask) | uint32(taskComplete)
		if t.st.v.CompareAndSwap(cur, next) {
			break
		}
	}
	t.vt.drop()
	if w := t.joinWaiter.Load(); w != nil {
		w.WakeByRef()
	}
	t.release()
}

// setJoinWaiter stores the Waker a JoinHandle should invoke on completion.
// Only one JoinHandle is supported per Task, matching the single-owner
// JoinHandle model described for spawn/JoinHandle.
func (t *Task) setJoinWaiter(w *Waker) {
	t.joinWaiter.Store(w)
	if t.st.isTerminal() {
		w.WakeByRef()
	}
}
