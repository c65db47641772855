package rtcore

import "runtime"

// joinResult is the typed output slot a spawned Future's poll closure
// writes into on Ready; JoinHandle reads it back out once the task
// reaches a terminal state. Kept separate from JoinHandle itself so the
// poll closure can close over it without also capturing the handle.
type joinResult[T any] struct {
	value T
	ready bool
}

// JoinResult is what a JoinHandle's Poll yields: either a value or the
// reason one never arrived.
type JoinResult[T any] struct {
	Value T
	Err   *JoinError
}

// JoinHandle is itself a Future: polling it returns Ready once the spawned
// task completes, is cancelled, or panics. Exactly one JoinHandle exists
// per spawned task (matching Task's refcount-of-2 invariant: one reference
// for the scheduler, one for the JoinHandle).
type JoinHandle[T any] struct {
	task   *Task
	result *joinResult[T]
	waker  *Waker
}

// Spawn enqueues fut as a new task on s (a *Runtime or a *Handle) and
// returns a JoinHandle for its eventual output. Spawn never blocks: if the
// caller is already running on one of s's workers, the task goes straight
// onto that worker's fast path; otherwise it goes through the injection
// queue and wakes a worker.
func Spawn[T any](s Spawner, fut Future[T]) (*JoinHandle[T], error) {
	rt := s.runtimeRef()
	if rt.shuttingDown() {
		return nil, ErrSpawnAfterShutdown
	}

	result := &joinResult[T]{}
	vt := taskVTable{
		poll: func(cx *Context) PollState {
			v, st := fut.Poll(cx)
			if st == Ready {
				result.value = v
				result.ready = true
			}
			return st
		},
		drop: func() {},
	}

	id := rt.nextTaskID.Add(1)
	t := newTask(rt, id, vt)
	rt.jointable.register(t)

	jh := &JoinHandle[T]{task: t, result: result}
	runtime.SetFinalizer(jh, func(h *JoinHandle[T]) {
		h.task.release()
	})

	fromWorker := currentWorker() != nil
	t.schedule(fromWorker)
	return jh, nil
}

// Poll implements Future[JoinResult[T]]. The first poll (or any poll using
// a different waker than the last) installs cx's waker as the task's join
// waiter, so a still-pending task wakes this Future's caller on
// completion.
func (h *JoinHandle[T]) Poll(cx *Context) (JoinResult[T], PollState) {
	w := cx.Waker()
	if h.waker == nil || !h.waker.WillWake(w) {
		h.waker = w.Clone()
		h.task.setJoinWaiter(h.waker)
	}

	if !h.task.st.isTerminal() {
		return JoinResult[T]{}, Pending
	}

	if h.task.isCancelled() {
		return JoinResult[T]{Err: &JoinError{Kind: JoinCancelled}}, Ready
	}
	if p := h.task.panicVal.Load(); p != nil {
		return JoinResult[T]{Err: &JoinError{Kind: JoinPanicked, Cause: p}}, Ready
	}
	if !h.result.ready {
		// Terminal without a recorded value and without cancellation/panic
		// only happens if the Future returned Ready without this closure
		// observing it, which cannot occur through the poll path above;
		// treated as detached for safety rather than returning a zero Value
		// silently.
		return JoinResult[T]{Err: &JoinError{Kind: JoinDetached}}, Ready
	}
	return JoinResult[T]{Value: h.result.value}, Ready
}

// Abort requests cancellation: the task's next poll boundary observes the
// CANCELLED flag and drops its Future without further polling. Idempotent.
func (h *JoinHandle[T]) Abort() {
	h.task.requestCancel()
}

// ID returns the underlying task's identifier, for correlation with
// Runtime.Tasks() diagnostics.
func (h *JoinHandle[T]) ID() uint64 {
	return h.task.ID()
}

// BlockOn pins fut to the calling goroutine as a task of its own, driving
// it directly (bypassing the injection queue and every worker's local
// deque entirely) until it completes. Other tasks already spawned onto rt
// keep running on the worker pool throughout. Returns ErrNestedBlockOn if
// the caller is already a worker goroutine of any Runtime.
func BlockOn[T any](rt *Runtime, fut Future[T]) (T, error) {
	var zero T
	if currentWorker() != nil {
		return zero, ErrNestedBlockOn
	}

	result := &joinResult[T]{}
	vt := taskVTable{
		poll: func(cx *Context) PollState {
			v, st := fut.Poll(cx)
			if st == Ready {
				result.value = v
				result.ready = true
			}
			return st
		},
		drop: func() {},
	}
	t := newTask(rt, 0, vt)
	t.pinnedWake = make(chan struct{}, 1)
	t.schedule(false) // IDLE -> RUNNABLE, ready for the loop below to pick up

	for {
		if !t.st.tryTransition(taskRunnable, taskRunning) {
			<-t.pinnedWake
			continue
		}

		cx := &Context{waker: t.waker, cancelled: t.isCancelled}
		ready, panicked := t.pollOnce(cx)

		if panicked {
			perr := t.panicVal.Load()
			t.complete()
			return zero, &JoinError{Kind: JoinPanicked, Cause: perr}
		}
		if ready {
			t.complete()
			return result.value, nil
		}

		if t.st.tryTransition(taskRunning, taskIdle) {
			<-t.pinnedWake
			continue
		}
		// Lost the race: a wake arrived mid-poll, moving us to
		// RUNNING_NOTIFIED. Re-poll immediately rather than waiting.
		t.st.tryTransition(taskRunningNotified, taskRunnable)
	}
}
