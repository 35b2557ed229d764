package journal

import "sync"

// Queue is a FIFO ring buffer that doubles its capacity when 70% full, up
// to a hard limit. Push never blocks; when the limit is reached new items
// are rejected.
type Queue[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int
	limit int

	// ready has capacity 1 and is signalled on every push.
	ready chan struct{}

	pushed  int64
	dropped int64
	popped  int64
	resizes int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len      int   `json:"len"`
	Capacity int   `json:"capacity"`
	Pushed   int64 `json:"pushed"`
	Dropped  int64 `json:"dropped"`
	Popped   int64 `json:"popped"`
	Resizes  int   `json:"resizes"`
}

// NewQueue creates a queue with the given initial capacity and limit.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. Returns false if the queue is at its limit.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.limit {
		q.dropped++
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.limit {
		q.grow()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled after pushes. A receive does not guarantee the queue
// is non-empty, only that it may be.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// PopBatch removes and returns up to n items (all items when n <= 0).
func (q *Queue[T]) PopBatch(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = q.buf[q.head]
		q.buf[q.head] = zero // Release reference
		q.head = (q.head + 1) % len(q.buf)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Dropped:  q.dropped,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

// grow doubles the capacity, capped at the limit. Must be called with
// q.mu held.
func (q *Queue[T]) grow() {
	size := min(len(q.buf)*2, q.limit)
	next := make([]T, size)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
	q.resizes++
}
