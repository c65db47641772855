package rtcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStateTransitions(t *testing.T) {
	s := newTaskState()
	require.Equal(t, taskIdle, s.sched())

	require.True(t, s.tryTransition(taskIdle, taskRunnable))
	require.False(t, s.tryTransition(taskIdle, taskRunnable), "stale CAS must fail")
	require.Equal(t, taskRunnable, s.sched())

	require.True(t, s.tryTransition(taskRunnable, taskRunning))
	require.True(t, s.tryTransition(taskRunning, taskRunningNotified))
	require.True(t, s.tryTransition(taskRunningNotified, taskRunnable))
	require.True(t, s.tryTransition(taskRunnable, taskRunning))

	for {
		cur := s.v.Load()
		next := (cur &^ taskSchedMask) | uint32(taskComplete)
		if s.v.CompareAndSwap(cur, next) {
			break
		}
	}
	require.True(t, s.isTerminal())
}

func TestTaskStateFlagsIndependentOfSchedBits(t *testing.T) {
	s := newTaskState()
	s.setFlag(taskFlagCancelled)
	assert.True(t, s.isCancelled())
	assert.Equal(t, taskIdle, s.sched(), "setting a flag must not disturb the schedule bits")

	require.True(t, s.tryTransition(taskIdle, taskRunnable))
	assert.True(t, s.isCancelled(), "schedule transitions must preserve flags")

	s.setFlag(taskFlagJoinWaiting)
	assert.True(t, s.hasFlag(taskFlagJoinWaiting))
	assert.True(t, s.hasFlag(taskFlagCancelled))
}

func TestTaskStateSetFlagIdempotent(t *testing.T) {
	s := newTaskState()
	s.setFlag(taskFlagCancelled)
	before := s.v.Load()
	s.setFlag(taskFlagCancelled)
	assert.Equal(t, before, s.v.Load())
}

func TestTransitionAnyTriesInOrder(t *testing.T) {
	s := newTaskState()
	require.True(t, s.tryTransition(taskIdle, taskRunnable))
	ok := s.transitionAny([]taskSchedState{taskRunning, taskRunnable}, taskRunning)
	assert.True(t, ok)
	assert.Equal(t, taskRunning, s.sched())

	ok = s.transitionAny([]taskSchedState{taskRunnable, taskIdle}, taskComplete)
	assert.False(t, ok, "neither candidate source state matches current RUNNING")
}

func TestFastStateLifecycle(t *testing.T) {
	s := newFastState()
	assert.Equal(t, runAwake, s.Load())
	assert.True(t, s.CanAcceptWork())

	require.True(t, s.TryTransition(runAwake, runRunning))
	require.True(t, s.TryTransition(runRunning, runSleeping))
	require.False(t, s.TryTransition(runRunning, runSleeping), "stale CAS must fail")
	assert.True(t, s.CanAcceptWork())

	require.True(t, s.TransitionAny([]runState{runRunning, runSleeping}, runTerminating))
	require.True(t, s.TryTransition(runTerminating, runTerminated))
	assert.True(t, s.IsTerminal())
	assert.False(t, s.CanAcceptWork())
}

func TestRunStateString(t *testing.T) {
	cases := map[runState]string{
		runAwake:       "awake",
		runRunning:     "running",
		runSleeping:    "sleeping",
		runTerminating: "terminating",
		runTerminated:  "terminated",
		runState(99):   "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
