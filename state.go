package rtcore

import "sync/atomic"

// taskState is the atomic state word of a Task. Only the low bits encode
// the schedule state; CANCELLED, JOIN_WAITING and JOIN_INTEREST are
// independent flags that can be set regardless of the schedule state.
//
// Schedule state machine:
//
//	IDLE    --schedule (CAS)--> RUNNABLE        (enqueued to some run queue)
//	RUNNABLE --dequeue (CAS)--> RUNNING         (worker begins poll)
//	RUNNING --Pending return--> IDLE            (task parks; waker outstanding)
//	RUNNING --wake during run-> RUNNING|NOTIFIED (re-run after current poll)
//	RUNNING|NOTIFIED --poll finishes--> RUNNABLE (re-enqueued)
//	RUNNING --Ready return----> COMPLETE        (result written)
//	any     --cancel----------> CANCELLED bit set (observed at next poll boundary)
//
// A wake on COMPLETE or CANCELLED is a no-op. PERFORMANCE: transitions are
// pure CAS with no validation of the source state beyond what the caller
// already knows to be possible; see FastState in the teacher's design note.
type taskSchedState uint32

const (
	taskIdle taskSchedState = iota
	taskRunnable
	taskRunning
	taskRunningNotified
	taskComplete
)

const (
	taskFlagCancelled    uint32 = 1 << 8
	taskFlagJoinWaiting  uint32 = 1 << 9
	taskFlagJoinInterest uint32 = 1 << 10
)

const taskSchedMask uint32 = 0xff

// taskState is cache-line padded to avoid false sharing between a Task's
// state word and neighboring fields on a different core's cache line.
type taskState struct {
	_ [cacheLineSize]byte
	v atomic.Uint32
	_ [cacheLineSize - 4]byte
}

func newTaskState() *taskState {
	s := &taskState{}
	s.v.Store(uint32(taskIdle))
	return s
}

func (s *taskState) sched() taskSchedState {
	return taskSchedState(s.v.Load() & taskSchedMask)
}

func (s *taskState) flags() uint32 {
	return s.v.Load() &^ taskSchedMask
}

// tryTransition performs a pure CAS from one schedule state to another,
// preserving whatever flag bits are currently set.
func (s *taskState) tryTransition(from, to taskSchedState) bool {
	for {
		cur := s.v.Load()
		if taskSchedState(cur&taskSchedMask) != from {
			return false
		}
		next := (cur &^ taskSchedMask) | uint32(to)
		if s.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// transitionAny attempts from-to for each candidate in validFrom, in order,
// stopping at the first success.
func (s *taskState) transitionAny(validFrom []taskSchedState, to taskSchedState) bool {
	for _, from := range validFrom {
		if s.tryTransition(from, to) {
			return true
		}
	}
	return false
}

// setFlag ORs flag into the state word without touching the schedule bits.
func (s *taskState) setFlag(flag uint32) {
	for {
		cur := s.v.Load()
		if cur&flag != 0 {
			return
		}
		if s.v.CompareAndSwap(cur, cur|flag) {
			return
		}
	}
}

func (s *taskState) hasFlag(flag uint32) bool {
	return s.v.Load()&flag != 0
}

func (s *taskState) isCancelled() bool {
	return s.hasFlag(taskFlagCancelled)
}

func (s *taskState) isTerminal() bool {
	sched := s.sched()
	return sched == taskComplete
}

// runState is the Worker/Runtime lifecycle state machine, generalized from
// the teacher's single-loop FastState to describe one worker's run loop.
//
//	Awake (0) → Running (3)        [Worker.run start]
//	Running (3) → Sleeping (2)     [park, CAS]
//	Running (3) → Terminating (4)  [Shutdown]
//	Sleeping (2) → Running (3)     [wake, CAS]
//	Sleeping (2) → Terminating (4) [Shutdown]
//	Terminating (4) → Terminated (1) [drain complete]
//	Terminated (1) → (terminal)
//
// NOTE: values are ordered to mirror the teacher's original numbering
// (Terminated=1, Sleeping=2) rather than declaration order.
type runState uint32

const (
	runAwake       runState = 0
	runTerminated  runState = 1
	runSleeping    runState = 2
	runRunning     runState = 3
	runTerminating runState = 4
)

func (s runState) String() string {
	switch s {
	case runAwake:
		return "awake"
	case runRunning:
		return "running"
	case runSleeping:
		return "sleeping"
	case runTerminating:
		return "terminating"
	case runTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding over
// runState values. No Worker or Runtime holds one: the worker loop tracks
// shutdown through Runtime's shutdown flag. PERFORMANCE: pure atomic CAS, no
// transition validation in the hot path.
type fastState struct {
	_ [cacheLineSize]byte
	v atomic.Uint32
	_ [cacheLineSize - 4]byte
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(runAwake))
	return s
}

func (s *fastState) Load() runState {
	return runState(s.v.Load())
}

func (s *fastState) Store(state runState) {
	s.v.Store(uint32(state))
}

func (s *fastState) TryTransition(from, to runState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) TransitionAny(validFrom []runState, to runState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsTerminal() bool {
	return s.Load() == runTerminated
}

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case runAwake, runRunning, runSleeping:
		return true
	default:
		return false
	}
}
