package rtcore

// PollState is the outcome of a single Future.Poll invocation.
type PollState int

const (
	// Pending indicates the Future cannot make progress until woken. The
	// Future is responsible for having arranged, before returning, for
	// some party to call cx.Waker().Wake() when progress becomes possible.
	Pending PollState = iota
	// Ready indicates the Future produced its final output.
	Ready
)

func (s PollState) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Pending"
}

// Future is a lazy computation producing Output when driven to completion
// by repeated calls to Poll. A Future is exclusively owned by the Task it
// is spawned into and is never polled concurrently with itself.
type Future[Output any] interface {
	// Poll advances the Future. It must not block. Returning Pending
	// carries the implicit contract that the Future has arranged for
	// cx.Waker() (or a clone of it) to be invoked when the Future should
	// be polled again; failing to do so parks the task forever.
	Poll(cx *Context) (Output, PollState)
}

// FutureFunc adapts a plain poll function to the Future interface, for
// Futures with no state of their own beyond a closure.
type FutureFunc[Output any] func(cx *Context) (Output, PollState)

// Poll implements Future.
func (f FutureFunc[Output]) Poll(cx *Context) (Output, PollState) {
	return f(cx)
}

// Context is passed to every Future.Poll invocation. It carries the Waker
// the Future must clone and retain if it returns Pending, and the
// cancellation signal the Future should observe cooperatively.
type Context struct {
	waker     *Waker
	cancelled func() bool
}

// Waker returns the Waker associated with the task currently being polled.
// It is always a real, task-bound Waker — rtcore has no no-op Waker, so a
// Future that stores it and later calls Wake is always guaranteed a
// re-poll.
func (c *Context) Waker() *Waker {
	return c.waker
}

// Cancelled reports whether the task being polled has been asked to cancel.
// Observing this is a cooperative courtesy: a Future may check it and
// return Ready/unwind early, but nothing forces a poll in progress to stop.
func (c *Context) Cancelled() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}
