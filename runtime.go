package rtcore

import (
	"sync"
	"sync/atomic"
	"time"
)

// runtimeIDCounter hands out Runtime.id values, used only for log
// correlation when a process hosts more than one Runtime.
var runtimeIDCounter atomic.Int64

// Runtime owns a fixed pool of Workers, the shared InjectionQueue, and
// (optionally) the Reactor and TimerWheel. It is the top-level entry point:
// construct one with Build, Spawn work onto it, and ShutdownTimeout it when
// done.
type Runtime struct {
	id   int64
	opts *runtimeOptions

	workers  []*Worker
	injector *injectionQueue
	reactor  *Reactor    // nil when built with WithIO(false)
	timers   *TimerWheel // nil when built with WithTime(false)

	jointable  *jointable
	nextTaskID atomic.Uint64

	shutdownFlag atomic.Bool
	wg           sync.WaitGroup

	searchers       atomic.Int32
	reactorPollBusy atomic.Bool

	parkedMu    sync.Mutex
	parkedStack []*Worker
}

// Build constructs a Runtime and starts its worker pool. The returned
// Runtime is immediately ready to accept Spawn calls.
func Build(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		id:          runtimeIDCounter.Add(1),
		opts:        cfg,
		injector:    newInjectionQueue(),
		jointable:   newJointable(),
		parkedStack: make([]*Worker, 0, cfg.workerThreads),
	}

	if cfg.enableIO {
		reactor, err := newReactor(rt.logger())
		if err != nil {
			return nil, WrapError("runtime build: reactor", err)
		}
		rt.reactor = reactor
	}
	if cfg.enableTime {
		rt.timers = NewTimerWheel(time.Millisecond)
	}

	rt.workers = make([]*Worker, cfg.workerThreads)
	for i := range rt.workers {
		rt.workers[i] = newWorker(rt, i, cfg.queueCapacity)
	}

	rt.wg.Add(len(rt.workers))
	for _, w := range rt.workers {
		go w.run()
	}

	logEvent(rt.logger(), LevelInfo, "worker", "runtime started", 0, 0, rt.id, nil)
	return rt, nil
}

func (rt *Runtime) logger() Logger {
	if rt.opts != nil && rt.opts.logger != nil {
		return rt.opts.logger
	}
	return getGlobalLogger()
}

func (rt *Runtime) shuttingDown() bool {
	return rt.shutdownFlag.Load()
}

func (rt *Runtime) workerDone() {
	rt.wg.Done()
}

// enqueueTask routes t onto the fastest queue available to the caller: the
// current worker's LIFO slot/local deque if this call originates from a
// worker belonging to rt, otherwise the shared injection queue followed by
// an unpark to guarantee liveness.
func (rt *Runtime) enqueueTask(t *Task, fromWorker bool) {
	if fromWorker {
		if cw := currentWorker(); cw != nil && cw.rt == rt {
			if rt.opts.lifoSlotEnable {
				cw.setLIFO(t)
			} else if !cw.local.pushBottom(t) {
				rt.injector.push(t)
				rt.unparkOne()
			}
			return
		}
	}
	rt.injector.push(t)
	rt.unparkOne()
}

func (rt *Runtime) beginSearching() bool {
	limit := int32(len(rt.workers)) - 1
	if limit < 1 {
		return false
	}
	for {
		cur := rt.searchers.Load()
		if cur >= limit {
			return false
		}
		if rt.searchers.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (rt *Runtime) endSearching() {
	rt.searchers.Add(-1)
}

func (rt *Runtime) acquireReactorPoll() bool {
	return rt.reactorPollBusy.CompareAndSwap(false, true)
}

func (rt *Runtime) releaseReactorPoll() {
	rt.reactorPollBusy.Store(false)
}

func (rt *Runtime) pushParked(w *Worker) {
	rt.parkedMu.Lock()
	rt.parkedStack = append(rt.parkedStack, w)
	rt.parkedMu.Unlock()
}

// popParked removes w from the parked stack if it is still there (it may
// already have been popped by unparkOne/unparkAll).
func (rt *Runtime) popParked(w *Worker) {
	rt.parkedMu.Lock()
	defer rt.parkedMu.Unlock()
	for i := len(rt.parkedStack) - 1; i >= 0; i-- {
		if rt.parkedStack[i] == w {
			rt.parkedStack = append(rt.parkedStack[:i], rt.parkedStack[i+1:]...)
			return
		}
	}
}

// unparkOne wakes the most recently parked worker (LIFO, for cache
// locality), matching the teacher's preference for waking the freshest
// sleeper rather than round-robining.
func (rt *Runtime) unparkOne() {
	rt.parkedMu.Lock()
	n := len(rt.parkedStack)
	if n == 0 {
		rt.parkedMu.Unlock()
		return
	}
	w := rt.parkedStack[n-1]
	rt.parkedStack = rt.parkedStack[:n-1]
	rt.parkedMu.Unlock()
	w.unpark()
}

func (rt *Runtime) unparkAll() {
	rt.parkedMu.Lock()
	stack := rt.parkedStack
	rt.parkedStack = nil
	rt.parkedMu.Unlock()
	for _, w := range stack {
		w.unpark()
	}
}

// ShutdownTimeout sets the shutdown flag, unparks every worker so they
// observe it, and waits up to timeout for all worker goroutines to drain
// their queues (cancelling remaining tasks rather than polling them) and
// exit. Returns ErrShutdownTimeout if workers are still running when
// timeout elapses.
func (rt *Runtime) ShutdownTimeout(timeout time.Duration) error {
	rt.shutdownFlag.Store(true)
	rt.unparkAll()
	if rt.reactor != nil {
		_ = rt.reactor.WakeUp()
	}

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logEvent(rt.logger(), LevelWarn, "shutdown", "shutdown timed out waiting for workers", 0, 0, rt.id, nil)
		return ErrShutdownTimeout
	}

	if rt.reactor != nil {
		_ = rt.reactor.Close()
	}
	logEvent(rt.logger(), LevelInfo, "shutdown", "runtime shut down", 0, 0, rt.id, nil)
	return nil
}

// Tasks returns a diagnostic snapshot of every task still tracked by the
// join table (both running/runnable and recently-terminal, until the next
// scavenge pass collects them).
func (rt *Runtime) Tasks() []TaskInfo {
	return rt.jointable.snapshot()
}

// Handle returns a cheap, clonable reference usable to Spawn from any
// goroutine, including after the originating goroutine that called Build
// has exited.
func (rt *Runtime) Handle() *Handle {
	return &Handle{rt: rt}
}

// RegisterTimer inserts a one-shot deadline into the runtime's timer wheel
// and returns its handle; cancel_timer corresponds to CancelTimer. Exposed
// for reactor-adjacent I/O wrappers (e.g. a deadline future) built as user
// code atop the core.
func (rt *Runtime) RegisterTimer(deadline time.Time, waker *Waker) (uint64, error) {
	if rt.timers == nil {
		return 0, WrapError("runtime register timer", ErrConfigInvalid)
	}
	return rt.timers.Insert(deadline, waker), nil
}

// CancelTimer cancels a previously registered timer. Idempotent: cancelling
// an already-fired or already-cancelled handle returns false without error.
func (rt *Runtime) CancelTimer(handle uint64) bool {
	if rt.timers == nil {
		return false
	}
	return rt.timers.Cancel(handle)
}

// ReactorHandle exposes the runtime's I/O reactor for source registration by
// higher-level I/O wrappers. Returns nil if built with WithIO(false).
func (rt *Runtime) ReactorHandle() *Reactor {
	return rt.reactor
}
