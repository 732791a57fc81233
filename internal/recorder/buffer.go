package recorder

import "sync"

// ringBuffer is a FIFO that doubles its capacity at 70% full, up to limit.
// Once limit items are queued, push refuses new items.
type ringBuffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	tail     int
	count    int
	capacity int
	limit    int
	closed   bool

	pushed  int64
	popped  int64
	refused int64
	resizes int
}

func newRingBuffer[T any](initial, limit int) *ringBuffer[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &ringBuffer[T]{
		buf:      make([]T, initial),
		capacity: initial,
		limit:    limit,
	}
}

// push appends item. It reports false when the buffer is closed or holds
// limit items.
func (b *ringBuffer[T]) push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.count >= b.limit {
		b.refused++
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.capacity < b.limit {
		b.grow()
	}
	if b.count == b.capacity {
		b.refused++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.pushed++
	return true
}

// drain removes up to max items (all when max <= 0) in FIFO order.
func (b *ringBuffer[T]) drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
	}
	b.count -= n
	b.popped += int64(n)
	return out
}

func (b *ringBuffer[T]) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *ringBuffer[T]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ringBuffer[T]) stats() bufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Pushed:   b.pushed,
		Popped:   b.popped,
		Refused:  b.refused,
		Resizes:  b.resizes,
	}
}

type bufferStats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Refused  int64
	Resizes  int
}

// grow doubles capacity, capped at limit. Caller holds mu.
func (b *ringBuffer[T]) grow() {
	capacity := b.capacity * 2
	if capacity > b.limit {
		capacity = b.limit
	}
	buf := make([]T, capacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(buf, b.buf[b.head:b.tail])
		} else {
			n := copy(buf, b.buf[b.head:])
			copy(buf[n:], b.buf[:b.tail])
		}
	}

	b.buf = buf
	b.head = 0
	b.tail = b.count
	b.capacity = capacity
	b.resizes++
}
