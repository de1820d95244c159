package emit

import "sync"

// Queue is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, so producers never block on a slow consumer.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	pushed  int64
	popped  int64
	resizes int
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Depth   int
	Pushed  int64
	Popped  int64
	Resizes int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds an item, growing the buffer if needed.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop removes and returns an item, blocking until one is available or the
// queue is closed. Returns false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 && q.closed {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++

	return item, true
}

// Close marks the queue closed. Push returns false afterwards; Pop drains
// remaining items then reports closed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns current counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:   q.count,
		Pushed:  q.pushed,
		Popped:  q.popped,
		Resizes: q.resizes,
	}
}

// grow doubles the buffer capacity (caller must hold the lock).
func (q *Queue[T]) grow() {
	newCap := q.capacity * 2
	newBuf := make([]T, newCap)

	for i := 0; i < q.count; i++ {
		newBuf[i] = q.buf[(q.head+i)%q.capacity]
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCap
	q.resizes++
}
