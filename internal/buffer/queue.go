package buffer

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Queue is a FIFO that grows as needed. It accepts any number of producers
// and a single consumer. A positive limit caps the number of queued items;
// Send drops and counts items past the cap.
type Queue[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	limit  int
	closed bool
	ready  chan struct{}

	// Stats
	totalReceived int64
	totalSent     int64
	dropped       int64
	peak          int
}

// Stats contains queue statistics.
type Stats struct {
	Count         int
	Peak          int
	Limit         int
	TotalReceived int64
	TotalSent     int64
	Dropped       int64
}

// New creates a queue. limit <= 0 means unbounded.
func New[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{
		q:     queue.New(),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Send appends an item. Returns false if the queue is closed or full.
func (b *Queue[T]) Send(item T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if b.limit > 0 && b.q.Length() >= b.limit {
		b.dropped++
		b.mu.Unlock()
		return false
	}

	b.add(item)
	b.mu.Unlock()

	b.notify()
	return true
}

// Force appends an item even when the queue is at its limit. It is for items
// that must not be lost, such as replies a caller is waiting on. Returns
// false only if the queue is closed.
func (b *Queue[T]) Force(item T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.add(item)
	b.mu.Unlock()

	b.notify()
	return true
}

// Ready returns a channel that receives a value whenever items may be
// available or the queue was closed. One signal can cover many items, so a
// consumer must drain until TryReceive reports empty.
func (b *Queue[T]) Ready() <-chan struct{} {
	return b.ready
}

// TryReceive removes and returns the head item without blocking.
func (b *Queue[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pop()
}

// Receive blocks until an item is available, the queue is closed and empty,
// or ctx is done.
func (b *Queue[T]) Receive(ctx context.Context) (T, bool) {
	for {
		b.mu.Lock()
		item, ok := b.pop()
		closed := b.closed
		b.mu.Unlock()

		if ok {
			return item, true
		}
		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-b.ready:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *Queue[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.q.Length()
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, _ := b.pop()
		result = append(result, item)
	}
	return result
}

// Close stops accepting items. Queued items remain receivable.
func (b *Queue[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify()
}

// Len returns the number of queued items.
func (b *Queue[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Stats returns queue statistics.
func (b *Queue[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:         b.q.Length(),
		Peak:          b.peak,
		Limit:         b.limit,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		Dropped:       b.dropped,
	}
}

// add must be called with the lock held.
func (b *Queue[T]) add(item T) {
	b.q.Add(item)
	b.totalReceived++
	if n := b.q.Length(); n > b.peak {
		b.peak = n
	}
}

// pop must be called with the lock held.
func (b *Queue[T]) pop() (T, bool) {
	if b.q.Length() == 0 {
		var zero T
		return zero, false
	}
	item, _ := b.q.Remove().(T)
	b.totalSent++
	return item, true
}

func (b *Queue[T]) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
