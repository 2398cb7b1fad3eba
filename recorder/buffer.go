package recorder

import "sync"

// Buffer is a thread-safe FIFO that grows instead of blocking
// producers. The stream dispatch goroutine must never stall on a slow
// database, so Push always succeeds while the buffer is open.
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	tail   int
	count  int
	closed bool

	pushed int64
	popped int64
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[T]{items: make([]T, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item, growing the buffer when it runs out of room.
// Returns false once the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == len(b.items) {
		b.grow()
	}

	b.items[b.tail] = item
	b.tail = (b.tail + 1) % len(b.items)
	b.count++
	b.pushed++

	b.cond.Signal()
	return true
}

// grow doubles capacity, compacting the ring into the new slice.
// Callers must hold the lock.
func (b *Buffer[T]) grow() {
	next := make([]T, len(b.items)*2)
	for i := 0; i < b.count; i++ {
		next[i] = b.items[(b.head+i)%len(b.items)]
	}
	b.items = next
	b.head = 0
	b.tail = b.count
}

// Pop removes the oldest item, blocking until one is available.
// Returns false when the buffer is closed and drained.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.count--
	b.popped++

	return item, true
}

// TryPop removes the oldest item without blocking.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.count--
	b.popped++

	return item, true
}

// Close wakes all blocked receivers. Items already buffered can still
// be drained with Pop or TryPop.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
