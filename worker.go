package rtcore

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// maintenanceInterval is the tick count between forced checks of the
// injection queue/reactor even when local work keeps a worker busy; the
// value mirrors the teacher's periodic full-tick fallback out of its
// fast path.
const maintenanceInterval = 61

// injectionDrainBatch bounds how many tasks a single injection drain pulls
// onto a worker's local deque at once.
const injectionDrainBatch = 32

// jointableScavengeBatch bounds how many jointable slots a single
// maintenance tick scavenges, keeping each tick's pause bounded regardless
// of how many tasks have completed since the last pass.
const jointableScavengeBatch = 32

// maxParkInterval bounds how long a worker ever blocks in park() even with
// no timer deadline pending, so a shutdown request is always noticed within
// one interval rather than risking an indefinite wait on wakeCh alone.
const maxParkInterval = time.Second

// workerRegistry maps a running goroutine's ID to the Worker it is
// executing, letting spawn/wake/cancel code on that same goroutine
// recognize it is already on a worker without threading a context value
// through every call site.
var workerRegistry sync.Map // uint64 goroutine ID -> *Worker

// getGoroutineID parses the current goroutine's numeric ID out of a stack
// trace header. There is no public API for this; runtime.Stack is the
// standard workaround.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// currentWorker returns the Worker running on the calling goroutine, or nil
// if the caller is not a worker goroutine (e.g. a user goroutine calling
// Handle.Spawn, or a BlockOn caller, which drives its pinned task without
// registering as a worker).
func currentWorker() *Worker {
	v, ok := workerRegistry.Load(getGoroutineID())
	if !ok {
		return nil
	}
	return v.(*Worker)
}

// Worker drives one OS-thread-equivalent goroutine of the scheduler: a
// LIFO slot, a local work-stealing deque, and fallback to the shared
// injection queue, peer theft, and the reactor/timer wheel in that order.
type Worker struct {
	idx   int
	rt    *Runtime
	local *workStealingDeque
	lifo  atomic.Pointer[Task]

	ticks uint64

	wakeCh chan struct{}
}

func newWorker(rt *Runtime, idx int, capacity int) *Worker {
	return &Worker{
		idx:    idx,
		rt:     rt,
		local:  newWorkStealingDeque(capacity),
		wakeCh: make(chan struct{}, 1),
	}
}

// run is the worker's fixed loop (maintenance tick, LIFO slot, local
// deque, injection drain, steal, reactor poll + timer advance, park),
// executed on the calling goroutine until shutdown drains it dry.
func (w *Worker) run() {
	workerRegistry.Store(getGoroutineID(), w)
	defer workerRegistry.Delete(getGoroutineID())
	defer w.rt.workerDone()

	for {
		w.maintenanceTick()

		if t := w.takeLIFO(); t != nil {
			w.runTask(t)
			continue
		}
		if t := w.local.popBottom(); t != nil {
			w.runTask(t)
			continue
		}
		if batch := w.drainInjection(); len(batch) > 0 {
			w.adoptBatch(batch)
			continue
		}
		if t := w.trySteal(); t != nil {
			w.runTask(t)
			continue
		}

		deadline := w.nextDeadline()
		w.pollReactor(deadline)
		w.advanceTimers()

		if w.hasWork() {
			continue
		}
		if w.rt.shuttingDown() {
			return
		}
		w.park(deadline)
	}
}

// runTask executes t, cancelling rather than polling it if shutdown has
// begun, matching the "drain by cancelling" contract.
func (w *Worker) runTask(t *Task) {
	if w.rt.shuttingDown() {
		t.markCancelledForShutdown()
	}
	t.run()
}

func (w *Worker) takeLIFO() *Task {
	return w.lifo.Swap(nil)
}

// setLIFO installs t as the fast-path slot, displacing whatever was there
// onto the local deque (or the injection queue, if the deque is full) so
// the previous occupant is never lost.
func (w *Worker) setLIFO(t *Task) {
	old := w.lifo.Swap(t)
	if old == nil {
		return
	}
	if !w.local.pushBottom(old) {
		w.rt.injector.push(old)
	}
}

func (w *Worker) maintenanceTick() {
	w.ticks++
	if w.ticks%maintenanceInterval != 0 {
		return
	}
	if batch := w.drainInjection(); len(batch) > 0 {
		w.adoptBatch(batch)
	}
	if w.rt.reactor != nil {
		w.pollReactor(0)
	}
	w.rt.jointable.scavenge(jointableScavengeBatch)
}

func (w *Worker) drainInjection() []*Task {
	buf := make([]*Task, injectionDrainBatch)
	n := w.rt.injector.popBatch(buf)
	return buf[:n]
}

func (w *Worker) adoptBatch(batch []*Task) {
	for _, t := range batch {
		if !w.local.pushBottom(t) {
			w.rt.injector.push(t)
		}
	}
}

// trySteal registers as a searcher (bounded so at least one worker remains
// free to own the reactor poll), then walks peers from a random starting
// index, stealing half of the first non-empty deque it finds.
func (w *Worker) trySteal() *Task {
	if !w.rt.beginSearching() {
		return nil
	}
	defer w.rt.endSearching()

	peers := w.rt.workers
	n := len(peers)
	if n <= 1 {
		return nil
	}
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		peer := peers[idx]
		if peer == w {
			continue
		}
		if t := peer.local.stealBatch(w.local); t != nil {
			return t
		}
	}
	return nil
}

func (w *Worker) nextDeadline() time.Duration {
	if w.rt.timers != nil {
		if d, ok := w.rt.timers.NextDeadline(); ok && d < maxParkInterval {
			return d
		}
	}
	return maxParkInterval
}

// pollReactor acquires the single-poller flag via CAS and, on success,
// blocks the backend for up to timeout; on failure (another worker already
// owns the poll) it returns immediately so the caller falls through to
// park instead of double-polling.
func (w *Worker) pollReactor(timeout time.Duration) {
	if w.rt.reactor == nil {
		return
	}
	if !w.rt.acquireReactorPoll() {
		return
	}
	defer w.rt.releaseReactorPoll()
	if _, err := w.rt.reactor.Poll(timeout); err != nil {
		logEvent(w.rt.logger(), LevelWarn, "worker", "reactor poll error", 0, 0, w.rt.id, err)
	}
}

func (w *Worker) advanceTimers() {
	if w.rt.timers == nil {
		return
	}
	w.rt.timers.Advance(time.Now())
}

func (w *Worker) hasWork() bool {
	if w.lifo.Load() != nil {
		return true
	}
	if !w.local.isEmpty() {
		return true
	}
	return !w.rt.injector.isEmpty()
}

// park blocks until woken via unpark or timeout elapses, registering itself
// on the runtime's LIFO parked stack first so a subsequent wake targets the
// most recently parked worker for cache locality.
func (w *Worker) park(timeout time.Duration) {
	w.rt.pushParked(w)
	defer w.rt.popParked(w)

	if timeout <= 0 || timeout > maxParkInterval {
		timeout = maxParkInterval
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.wakeCh:
	case <-timer.C:
	}
}

// unpark wakes this worker if it is currently parked; a no-op otherwise
// (send-or-drop on a buffered channel of size 1).
func (w *Worker) unpark() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}
