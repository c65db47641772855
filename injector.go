package rtcore

import "sync"

// injectorChunkSize is the number of tasks per node in the injection
// queue's chunked linked list. 128 * 8 bytes/pointer + overhead is roughly
// one kilobyte per chunk.
const injectorChunkSize = 128

var injectorChunkPool = sync.Pool{
	New: func() any { return &injectorChunk{} },
}

// injectorChunk is a fixed-size node in the injection queue's linked list.
// readPos/pos cursors give O(1) push/pop without shifting.
type injectorChunk struct {
	tasks   [injectorChunkSize]*Task
	next    *injectorChunk
	readPos int
	pos     int
}

func newInjectorChunk() *injectorChunk {
	c := injectorChunkPool.Get().(*injectorChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

func returnInjectorChunk(c *injectorChunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = nil
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	injectorChunkPool.Put(c)
}

// injectionQueue is the global MPSC queue every worker falls back to after
// its local deque and LIFO slot are empty, and the target for tasks woken
// from off-runtime goroutines (where there is no local deque to push
// into). It is a chunked linked list guarded by a single mutex: push and
// pop take the lock once per task, while popBatch takes it once for a
// whole batch.
type injectionQueue struct {
	mu     sync.Mutex
	head   *injectorChunk
	tail   *injectorChunk
	length int
}

func newInjectionQueue() *injectionQueue {
	return &injectionQueue{}
}

// push appends a task to the queue.
func (q *injectionQueue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tail == nil {
		q.tail = newInjectorChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.tasks) {
		newTail := newInjectorChunk()
		q.tail.next = newTail
		q.tail = newTail
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
}

// pop removes and returns one task, or nil if the queue is empty.
func (q *injectionQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *injectionQueue) popLocked() *Task {
	if q.head == nil {
		return nil
	}

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return nil
		}
		old := q.head
		q.head = q.head.next
		returnInjectorChunk(old)
	}

	if q.head.readPos >= q.head.pos {
		return nil
	}

	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnInjectorChunk(old)
		}
	}

	return t
}

// popBatch drains up to len(dst) tasks in FIFO order, returning the number
// written into dst. This is the "drain_some" a worker uses when refilling
// its local deque from the global queue, so it doesn't re-take the mutex
// per task.
func (q *injectionQueue) popBatch(dst []*Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for n < len(dst) {
		t := q.popLocked()
		if t == nil {
			break
		}
		dst[n] = t
		n++
	}
	return n
}

// size returns the current queue length. Valid for diagnostics only under
// concurrent use.
func (q *injectionQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

func (q *injectionQueue) isEmpty() bool {
	return q.size() == 0
}
