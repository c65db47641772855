package rtcore

// Waker lets any party — the reactor, the timer wheel, another task, user
// code — resume a parked Task. It is cheap to clone and safe to call from
// any goroutine at any time, including concurrently with itself; multiple
// wakes while RUNNING collapse into at most one re-poll via the task's
// NOTIFIED bit.
type Waker struct {
	task *Task
}

// Clone returns a new Waker referring to the same task, incrementing its
// reference count. Call this before retaining a Waker beyond the lifetime
// of the Context it came from.
func (w *Waker) Clone() *Waker {
	w.task.addRef()
	return &Waker{task: w.task}
}

// WakeByRef schedules the task for a re-poll without consuming this Waker;
// it remains valid for further calls. A wake on an already-COMPLETE or
// CANCELLED task is a no-op.
func (w *Waker) WakeByRef() {
	w.task.schedule(currentWorker() != nil)
}

// Wake schedules the task for a re-poll and releases this Waker's
// reference, mirroring a move-semantics wake. Do not use w after calling
// Wake.
func (w *Waker) Wake() {
	w.WakeByRef()
	w.task.release()
}

// Drop releases this Waker's reference without waking the task.
func (w *Waker) Drop() {
	w.task.release()
}

// WillWake reports whether calling w.Wake() would wake the same task as
// other.Wake(). Futures use this to skip re-cloning a Waker they already
// hold an equivalent one for.
func (w *Waker) WillWake(other *Waker) bool {
	if other == nil {
		return false
	}
	return w.task == other.task
}
