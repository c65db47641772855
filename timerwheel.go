package rtcore

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

const (
	wheelLevels     = 4
	wheelSlotsPerLv = 64
)

// timerEntry is one scheduled wake, intrusively linked into its wheel
// slot's list and simultaneously tracked in the wheel's deadline-ordered
// index for fast NextDeadline queries.
type timerEntry struct {
	id        uint64
	deadline  time.Time
	waker     *Waker
	cancelled atomic.Bool
	next      *timerEntry // intrusive singly-linked slot list
	heapIdx   int         // index into TimerWheel.index, maintained by heap.Interface
}

// timerIndex is a container/heap min-heap over *timerEntry keyed by
// deadline. The wheel's slot lists give O(1) insert and O(bucket) sweep;
// this parallel heap gives O(log n) "what's the very next deadline" and
// O(log n) removal when an entry expires or is found cancelled during a
// sweep — the same tool the teacher reaches for (container/heap) applied
// to the piece of this component (deadline ordering) that is still
// heap-shaped even once the bulk of the structure is wheel-shaped.
type timerIndex []*timerEntry

func (h timerIndex) Len() int            { return len(h) }
func (h timerIndex) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerIndex) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIdx = i; h[j].heapIdx = j }
func (h *timerIndex) Push(x any) {
	e := x.(*timerEntry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *timerIndex) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// wheelLevel is one of the four cascading levels: 64 slots each holding an
// intrusive list of entries whose deadline falls in that slot's bucket at
// this level's resolution.
type wheelLevel struct {
	resolution time.Duration
	slots      [wheelSlotsPerLv]*timerEntry
	cursor     int
}

// TimerWheel is a four-level, 64-slot-per-level hierarchical timer wheel.
// Level 0 has the finest resolution; each subsequent level's resolution is
// wheelSlotsPerLv times coarser. Linking an entry into its slot list is
// O(1), but Insert and Cancel also update the deadline heap (timerIndex),
// so each costs O(log n) in the number of outstanding timers.
type TimerWheel struct {
	mu       sync.Mutex
	levels   [wheelLevels]wheelLevel
	index    timerIndex
	byID     map[uint64]*timerEntry
	now      time.Time
	nextID   atomic.Uint64
	baseTick time.Duration
}

// NewTimerWheel creates a wheel whose level-0 resolution is tick.
func NewTimerWheel(tick time.Duration) *TimerWheel {
	if tick <= 0 {
		tick = time.Millisecond
	}
	w := &TimerWheel{
		byID:     make(map[uint64]*timerEntry),
		now:      time.Now(),
		baseTick: tick,
	}
	res := tick
	for i := 0; i < wheelLevels; i++ {
		w.levels[i].resolution = res
		res *= wheelSlotsPerLv
	}
	return w
}

// levelFor picks the highest level whose resolution is <= delta, per the
// insertion rule: "choose level = highest index whose resolution is <=
// deadline - now".
func (w *TimerWheel) levelFor(delta time.Duration) int {
	for l := wheelLevels - 1; l >= 0; l-- {
		if w.levels[l].resolution <= delta {
			return l
		}
	}
	return 0
}

// slotFor counts whole resolutions from the wheel clock to deadline, on
// from the level's cursor. Above level 0 it uses one slot less, since a
// slot there is cascaded down when the level below wraps, at the start of
// the span it covers.
func (w *TimerWheel) slotFor(level int, deadline time.Time) int {
	lv := &w.levels[level]
	delta := deadline.Sub(w.now)
	if delta < 0 {
		delta = 0
	}
	off := int64(delta / lv.resolution)
	if level > 0 && off > 0 {
		off--
	}
	if off >= wheelSlotsPerLv {
		off = wheelSlotsPerLv - 1
	}
	return (lv.cursor + int(off)) % wheelSlotsPerLv
}

// Insert schedules waker to be woken at deadline and returns an id usable
// with Cancel.
func (w *TimerWheel) Insert(deadline time.Time, waker *Waker) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := &timerEntry{id: w.nextID.Add(1), deadline: deadline, waker: waker}
	delta := deadline.Sub(w.now)
	if delta < 0 {
		delta = 0
	}
	level := w.levelFor(delta)
	slot := w.slotFor(level, deadline)

	e.next = w.levels[level].slots[slot]
	w.levels[level].slots[slot] = e
	w.byID[e.id] = e
	heap.Push(&w.index, e)
	return e.id
}

// Cancel marks id cancelled. Expiry sees the flag and skips invocation;
// physical removal from the slot list happens lazily at the next sweep
// that visits the entry's bucket, avoiding list-surgery races with a
// concurrent Advance.
func (w *TimerWheel) Cancel(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return false
	}
	e.cancelled.Store(true)
	delete(w.byID, id)
	if e.heapIdx >= 0 {
		heap.Remove(&w.index, e.heapIdx)
	}
	if e.waker != nil {
		e.waker.Drop()
		e.waker = nil
	}
	return true
}

// Advance moves the wheel's clock forward by the whole ticks elapsed up to
// now, waking every entry whose deadline has elapsed and cascading any
// level-0 full rotation down from level 1, and so on up the chain.
func (w *TimerWheel) Advance(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !now.After(w.now) {
		return
	}

	ticks := int64(now.Sub(w.now) / w.baseTick)
	if ticks <= 0 {
		return
	}

	const maxStepsPerAdvance = wheelSlotsPerLv * wheelLevels * 4
	if ticks > maxStepsPerAdvance {
		ticks = maxStepsPerAdvance // large idle gaps: the rest is swept by later calls
	}
	// The clock moves by whole ticks only, keeping it in step with the
	// cursors; a sub-tick remainder carries over to the next call.
	w.now = w.now.Add(time.Duration(ticks) * w.baseTick)

	for i := int64(0); i < ticks; i++ {
		w.tickLevel(0, now)
	}
}

// tickLevel advances one level's cursor by a single slot, draining that
// slot (waking due entries, re-inserting the rest) and cascading into the
// next level up when the cursor completes a full rotation.
func (w *TimerWheel) tickLevel(level int, now time.Time) {
	if level >= wheelLevels {
		return
	}
	lv := &w.levels[level]
	slot := lv.cursor
	entry := lv.slots[slot]
	lv.slots[slot] = nil
	lv.cursor = (lv.cursor + 1) % wheelSlotsPerLv

	for entry != nil {
		next := entry.next
		entry.next = nil
		w.settle(entry, now)
		entry = next
	}

	if lv.cursor == 0 {
		// Completed a full rotation: cascade the next level's current
		// slot down, and keep going up while each level above wraps too.
		for up := level + 1; up < wheelLevels; up++ {
			ulv := &w.levels[up]
			uslot := ulv.cursor
			cascaded := ulv.slots[uslot]
			ulv.slots[uslot] = nil
			ulv.cursor = (ulv.cursor + 1) % wheelSlotsPerLv
			for cascaded != nil {
				next := cascaded.next
				cascaded.next = nil
				w.reinsertLocked(cascaded)
				cascaded = next
			}
			if ulv.cursor != 0 {
				break
			}
		}
	}
}

// settle either wakes an expired/cancelled entry (dropping it from the
// index and byID table) or re-inserts it into the slot its remaining
// delta now maps to.
func (w *TimerWheel) settle(e *timerEntry, now time.Time) {
	if e.cancelled.Load() {
		delete(w.byID, e.id)
		if e.heapIdx >= 0 {
			heap.Remove(&w.index, e.heapIdx)
		}
		return
	}
	if !e.deadline.After(now) {
		delete(w.byID, e.id)
		if e.heapIdx >= 0 {
			heap.Remove(&w.index, e.heapIdx)
		}
		e.waker.Wake()
		return
	}
	w.reinsertLocked(e)
}

// reinsertLocked places an entry (already tracked in byID/index) into the
// slot its current delta-to-deadline maps to, without creating a new id.
func (w *TimerWheel) reinsertLocked(e *timerEntry) {
	delta := e.deadline.Sub(w.now)
	if delta < 0 {
		delta = 0
	}
	level := w.levelFor(delta)
	slot := w.slotFor(level, e.deadline)
	e.next = w.levels[level].slots[slot]
	w.levels[level].slots[slot] = e
}

// NextDeadline reports how long until the earliest outstanding entry
// would fire (Cancel removes an entry from the index at once), so a worker can pass an exact
// timeout to the reactor rather than busy-polling the wheel.
func (w *TimerWheel) NextDeadline() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.index) == 0 {
		return 0, false
	}
	delta := w.index[0].deadline.Sub(w.now)
	if delta < 0 {
		delta = 0
	}
	return delta, true
}

// Len returns the number of outstanding entries, for diagnostics. A
// cancelled entry is no longer counted, even before a sweep unlinks it.
func (w *TimerWheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID)
}
