// Package rb provides a growable single-owner generic ring buffer.
package rb

// RingBuffer is a growable generic FIFO ring buffer.
//
// It is NOT safe for concurrent use: it is meant to be owned by a single
// goroutine for its entire lifetime, which makes any locking around it
// unnecessary. The capacity is always a power of two, so the physical slot
// of a logical index is computed with a mask instead of a modulo.
type RingBuffer[T any] struct {
	buffer []T

	// head is the index of the next slot to push into, tail the index of
	// the next slot to pop from. Both are free-running: only the difference
	// head-tail and the masked values are ever used, so wrapping around the
	// maximum uint64 is harmless.
	head uint64
	tail uint64

	capacity uint64
	capMask  uint64

	// floorCapacity is the initial capacity. Shrink never goes below it.
	floorCapacity uint64
}

// NewRingBuffer returns a new ring buffer.
// The capacity is rounded up to the next power of two.
func NewRingBuffer[T any](capacity uint64) *RingBuffer[T] {
	parsedCapacity := roundToPowerOf2(capacity)

	return &RingBuffer[T]{
		buffer: make([]T, parsedCapacity),

		capacity:      parsedCapacity,
		capMask:       parsedCapacity - 1,
		floorCapacity: parsedCapacity,
	}
}

// IsEmpty states whether the buffer is empty.
func (rb *RingBuffer[T]) IsEmpty() bool {
	return rb.head == rb.tail
}

// IsFull states whether the buffer is full.
// A full buffer grows on the next push, it never rejects an item.
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.head-rb.tail == rb.capacity
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() uint64 {
	return rb.head - rb.tail
}

// Cap returns the current capacity of the buffer.
func (rb *RingBuffer[T]) Cap() uint64 {
	return rb.capacity
}

// PushBack appends an item at the back of the buffer,
// doubling the capacity first if the buffer is full.
func (rb *RingBuffer[T]) PushBack(item T) {
	if rb.IsFull() {
		rb.resize(rb.capacity << 1)
	}

	rb.buffer[rb.head&rb.capMask] = item
	rb.head++
}

// PopFront removes and returns the item at the front of the buffer.
// It returns false if the buffer is empty.
func (rb *RingBuffer[T]) PopFront() (T, bool) {
	var zero T

	if rb.IsEmpty() {
		return zero, false
	}

	itemIndex := rb.tail & rb.capMask
	item := rb.buffer[itemIndex]

	// Clear the slot to release any resource the item references
	rb.buffer[itemIndex] = zero

	rb.tail++

	return item, true
}

// Shrink halves the capacity of the buffer.
// It is a no-op if the live items would not fit in half the capacity
// or if halving would go below the initial capacity.
// It returns whether the buffer was shrunk.
func (rb *RingBuffer[T]) Shrink() bool {
	newCapacity := rb.capacity >> 1

	if newCapacity < rb.floorCapacity || rb.Len() > newCapacity {
		return false
	}

	rb.resize(newCapacity)

	return true
}

// resize moves the live items into a buffer of the given capacity,
// preserving their order, and normalizes the indexes (tail=0, head=length).
// The live range may wrap past the last physical slot, in which case the
// copy is split in two contiguous segments.
func (rb *RingBuffer[T]) resize(newCapacity uint64) {
	newBuffer := make([]T, newCapacity)

	length := rb.Len()
	start := rb.tail & rb.capMask

	copied := copy(newBuffer, rb.buffer[start:min(start+length, rb.capacity)])
	if uint64(copied) < length {
		copy(newBuffer[copied:], rb.buffer[:length-uint64(copied)])
	}

	rb.buffer = newBuffer

	rb.tail = 0
	rb.head = length

	rb.capacity = newCapacity
	rb.capMask = newCapacity - 1
}
