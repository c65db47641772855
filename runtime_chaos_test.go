package rtcore

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chaosFuture randomly interleaves Pending returns (self-waking after a
// jittered delay), panics, and eventual completion, so a single run exercises
// the poll/complete/panic/cancel paths all at once under concurrent load.
type chaosFuture struct {
	rng       *rand.Rand
	remaining int
	panicAt   int
}

func (f *chaosFuture) Poll(cx *Context) (int, PollState) {
	if f.remaining == f.panicAt {
		f.remaining--
		panic("chaos")
	}
	if f.remaining <= 0 {
		return 1, Ready
	}
	f.remaining--
	delay := time.Duration(f.rng.Intn(200)) * time.Microsecond
	w := cx.Waker().Clone()
	if delay == 0 {
		w.Wake()
	} else {
		go func() {
			time.Sleep(delay)
			w.Wake()
		}()
	}
	return 0, Pending
}

// TestChaosManyConcurrentTasksWithRandomPanicsAndCancels spawns a large mixed
// batch of tasks — some that complete normally after jittered self-wakes,
// some that panic partway through, some aborted mid-flight from another
// goroutine — all driven concurrently across a small worker pool, and checks
// every JoinHandle eventually reaches a terminal outcome consistent with what
// was asked of it.
func TestChaosManyConcurrentTasksWithRandomPanicsAndCancels(t *testing.T) {
	rt := newTestRuntime(t, WithWorkerThreads(4), WithQueueCapacity(128))

	const n = 600
	type kase struct {
		jh     *JoinHandle[int]
		abort  bool
		panics bool
	}
	rng := rand.New(rand.NewSource(1234))
	kases := make([]*kase, n)

	for i := 0; i < n; i++ {
		mode := i % 3
		f := &chaosFuture{rng: rand.New(rand.NewSource(int64(i))), remaining: rng.Intn(10) + 1}
		if mode == 1 {
			f.panicAt = f.remaining / 2
			if f.panicAt == f.remaining {
				f.panicAt--
			}
		} else {
			f.panicAt = -1
		}
		jh, err := Spawn[int](rt, f)
		require.NoError(t, err)
		kases[i] = &kase{jh: jh, abort: mode == 2, panics: mode == 1}
	}

	var wg sync.WaitGroup
	var (
		completedOK   atomic.Int64
		completedErr  atomic.Int64
	)
	for _, k := range kases {
		wg.Add(1)
		go func(k *kase) {
			defer wg.Done()
			if k.abort {
				// Abort concurrently with the task's own self-driven polling.
				time.Sleep(time.Duration(rand.Intn(100)) * time.Microsecond)
				k.jh.Abort()
			}
			v, err := BlockOn[JoinResult[int]](rt, k.jh)
			require.NoError(t, err)
			if v.Err != nil {
				completedErr.Add(1)
				switch {
				case k.panics:
					assert.Equal(t, JoinPanicked, v.Err.Kind)
				case k.abort:
					assert.Equal(t, JoinCancelled, v.Err.Kind)
				default:
					t.Errorf("task completed with unexpected error: %v", v.Err)
				}
			} else {
				completedOK.Add(1)
				assert.Equal(t, 1, v.Value)
			}
		}(k)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("chaos batch did not drain within the deadline")
	}

	assert.EqualValues(t, n, completedOK.Load()+completedErr.Load())
}

// TestChaosShutdownRaceWithOngoingSpawns hammers Spawn from many goroutines
// while ShutdownTimeout is concurrently in progress, verifying Spawn always
// either succeeds (task later cancelled/drained) or fails cleanly with
// ErrSpawnAfterShutdown — never panics, never hangs.
func TestChaosShutdownRaceWithOngoingSpawns(t *testing.T) {
	rt, err := Build(WithWorkerThreads(4), WithIO(false), WithTime(false))
	require.NoError(t, err)

	const spawners = 16
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < spawners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := Spawn[struct{}](rt.Handle(), immediateFuture[struct{}]{})
				if err != nil {
					assert.ErrorIs(t, err, ErrSpawnAfterShutdown)
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	shutdownErr := rt.ShutdownTimeout(2 * time.Second)
	close(stop)
	wg.Wait()

	assert.NoError(t, shutdownErr)
}
