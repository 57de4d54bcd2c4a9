package buffer

import "sync"

// Queue is a FIFO of buffers linked through their headers. Every operation
// runs under the guard supplied at construction, which is the critical region
// shared with interrupt-side code.
type Queue[H any] struct {
	head     *Buffer[H]
	tail     *Buffer[H]
	size     int
	capacity int
	guard    sync.Locker
}

// NewQueue creates an empty queue. A capacity of 0 means unbounded. A nil
// guard is allowed for queues that are only touched from one goroutine.
func NewQueue[H any](capacity int, guard sync.Locker) *Queue[H] {
	if guard == nil {
		guard = nopLocker{}
	}
	return &Queue[H]{capacity: capacity, guard: guard}
}

// Len returns the number of queued buffers
func (q *Queue[H]) Len() int {
	q.guard.Lock()
	defer q.guard.Unlock()
	return q.size
}

// Capacity returns the configured capacity, 0 when unbounded
func (q *Queue[H]) Capacity() int {
	return q.capacity
}

// Append adds b at the tail
func (q *Queue[H]) Append(b *Buffer[H]) error {
	if b == nil {
		return nil
	}
	q.guard.Lock()
	defer q.guard.Unlock()

	if q.capacity > 0 && q.size == q.capacity {
		return ErrQueueFull
	}

	b.next = nil
	if q.tail == nil {
		q.head = b
	} else {
		q.tail.next = b
	}
	q.tail = b
	q.size++
	return nil
}

// Remove unlinks and returns the first buffer accepted by match, or the head
// when match is nil. It returns nil when nothing matches.
func (q *Queue[H]) Remove(match func(*Buffer[H]) bool) *Buffer[H] {
	q.guard.Lock()
	defer q.guard.Unlock()

	prev, b := q.find(match)
	if b == nil {
		return nil
	}

	if prev == nil {
		q.head = b.next
	} else {
		prev.next = b.next
	}
	if q.tail == b {
		q.tail = prev
	}
	b.next = nil
	q.size--
	return b
}

// Read returns the buffer Remove would return without unlinking it
func (q *Queue[H]) Read(match func(*Buffer[H]) bool) *Buffer[H] {
	q.guard.Lock()
	defer q.guard.Unlock()

	_, b := q.find(match)
	return b
}

// Flush removes every buffer and hands it back to pool
func (q *Queue[H]) Flush(pool *Pool[H]) {
	for b := q.Remove(nil); b != nil; b = q.Remove(nil) {
		pool.Free(b)
	}
}

// find walks the chain; callers hold the guard
func (q *Queue[H]) find(match func(*Buffer[H]) bool) (prev, b *Buffer[H]) {
	for b = q.head; b != nil; prev, b = b, b.next {
		if match == nil || match(b) {
			return prev, b
		}
	}
	return nil, nil
}

// chainLen counts reachable nodes; tests use it to check the size invariant
func (q *Queue[H]) chainLen() int {
	q.guard.Lock()
	defer q.guard.Unlock()

	n := 0
	for b := q.head; b != nil; b = b.next {
		n++
	}
	return n
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
