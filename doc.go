// Package rtcore is a general-purpose asynchronous runtime: a multi-threaded
// work-stealing task scheduler integrated with a cross-platform event-driven
// I/O reactor and a hierarchical timer wheel.
//
// # Architecture
//
// A [Runtime] owns a fixed pool of [Worker] threads, a [Reactor], and a
// [TimerWheel]. User code submits lazy computations ([Future] values) via
// [Spawn] (fire-and-forget, observed through a [JoinHandle]) or [BlockOn]
// (drive one Future to completion on the calling thread while the pool
// keeps running spawned work). Each Future is wrapped in a
// [Task] and scheduled cooperatively: a worker polls it until it either
// completes or returns Pending, at which point it suspends until some
// external party — the reactor, the timer wheel, another task — invokes its
// [Waker].
//
// # Scheduling
//
// Workers consult, in order: their LIFO slot, their local work-stealing
// deque, the global injection queue, then attempt to steal from a peer,
// then poll the reactor (blocking up to the next timer deadline), then park.
// This is the classic Tokio scheduling order, generalized from the teacher
// event loop's single-consumer design.
//
// # Platform Support
//
// I/O polling uses platform-native mechanisms selected at compile time via
// build tags:
//   - Linux: epoll
//   - Darwin: kqueue
//   - Windows: IOCP (I/O Completion Ports)
//
// # Thread Safety
//
//   - [Spawn] is safe to call with any [Spawner] from any goroutine.
//   - [Waker.Wake] is safe to call from any goroutine, at any time.
//   - A [Future]'s poll method is never called concurrently with itself.
//
// # Usage
//
//	rt, err := rtcore.Build(rtcore.WithWorkerThreads(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.ShutdownTimeout(5 * time.Second)
//
//	handle, err := rtcore.Spawn[int](rt, myFuture)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := rtcore.BlockOn[rtcore.JoinResult[int]](rt, handle)
package rtcore
