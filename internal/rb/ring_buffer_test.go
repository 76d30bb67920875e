package rb

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

// checkInvariants verifies the structural invariants of the buffer:
// power-of-two capacity and 0 <= head-tail <= capacity.
func checkInvariants[T any](t *testing.T, buffer *RingBuffer[T]) {
	t.Helper()

	assert.Zero(t, buffer.capacity&(buffer.capacity-1))
	assert.Equal(t, buffer.capacity-1, buffer.capMask)
	assert.LessOrEqual(t, buffer.head-buffer.tail, buffer.capacity)
}

func Test_roundToPowerOf2(t *testing.T) {
	assert := assert.New(t)

	suite := []struct {
		capacity uint64
		expected uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{5, 8},
		{100, 128},
		{1 << 20, 1 << 20},
		{(1 << 20) + 1, 1 << 21},
	}

	for _, tCase := range suite {
		t.Run(fmt.Sprintf("%d", tCase.capacity), func(_ *testing.T) {
			assert.Equal(tCase.expected, roundToPowerOf2(tCase.capacity))
		})
	}
}

func Test_RingBufferGrowth(t *testing.T) {
	assert := assert.New(t)

	buffer := NewRingBuffer[int](4)
	assert.Equal(uint64(4), buffer.Cap())
	assert.True(buffer.IsEmpty())

	// Pushing one item past the capacity must trigger exactly one doubling
	for val := range 5 {
		buffer.PushBack(val)
		checkInvariants(t, buffer)
	}

	assert.Equal(uint64(8), buffer.Cap())
	assert.Equal(uint64(5), buffer.Len())
	assert.False(buffer.IsFull())

	for val := range 5 {
		item, ok := buffer.PopFront()
		assert.True(ok)
		assert.Equal(val, item)
		checkInvariants(t, buffer)
	}

	assert.True(buffer.IsEmpty())

	_, ok := buffer.PopFront()
	assert.False(ok)
}

func Test_RingBufferWrappedGrowth(t *testing.T) {
	assert := assert.New(t)

	buffer := NewRingBuffer[int](4)

	// Rotate the buffer so the live range wraps past the last physical slot,
	// then force a growth. The two-segment copy has to preserve the order.
	buffer.PushBack(-2)
	buffer.PushBack(-1)
	_, _ = buffer.PopFront()
	_, _ = buffer.PopFront()

	for val := range 5 {
		buffer.PushBack(val)
	}

	assert.Equal(uint64(8), buffer.Cap())
	checkInvariants(t, buffer)

	for val := range 5 {
		item, ok := buffer.PopFront()
		assert.True(ok)
		assert.Equal(val, item)
	}
}

func Test_RingBufferManyCycles(t *testing.T) {
	assert := assert.New(t)

	const cycles = 100_000

	buffer := NewRingBuffer[int](2)

	// Alternate push/pop so the indexes run far past the capacity many
	// times over. Only the masked values matter.
	for val := range cycles {
		buffer.PushBack(val)

		item, ok := buffer.PopFront()
		assert.True(ok)
		assert.Equal(val, item)
		assert.True(buffer.IsEmpty())
	}

	assert.Equal(uint64(2), buffer.Cap())
}

func Test_RingBufferRandomizedFIFO(t *testing.T) {
	assert := assert.New(t)

	const operations = 50_000

	buffer := NewRingBuffer[int](8)
	rng := rand.New(rand.NewPCG(42, 24))

	nextPush := 0
	nextPop := 0

	for range operations {
		if rng.IntN(3) != 0 {
			buffer.PushBack(nextPush)
			nextPush++
		} else if item, ok := buffer.PopFront(); ok {
			assert.Equal(nextPop, item)
			nextPop++
		}

		checkInvariants(t, buffer)
	}

	for {
		item, ok := buffer.PopFront()
		if !ok {
			break
		}

		assert.Equal(nextPop, item)
		nextPop++
	}

	assert.Equal(nextPush, nextPop)
}

func Test_RingBufferShrink(t *testing.T) {
	assert := assert.New(t)

	buffer := NewRingBuffer[int](4)

	const items = 64

	for val := range items {
		buffer.PushBack(val)
	}
	assert.Equal(uint64(64), buffer.Cap())

	// The live items do not fit in half the capacity yet
	assert.False(buffer.Shrink())

	for val := range items - 4 {
		item, ok := buffer.PopFront()
		assert.True(ok)
		assert.Equal(val, item)
	}

	assert.True(buffer.Shrink())
	assert.Equal(uint64(32), buffer.Cap())
	checkInvariants(t, buffer)

	// The remaining items survive the shrink in order
	for val := items - 4; val < items; val++ {
		item, ok := buffer.PopFront()
		assert.True(ok)
		assert.Equal(val, item)
	}

	// Never below the initial capacity
	for buffer.Shrink() {
	}
	assert.Equal(uint64(4), buffer.Cap())
}

func Test_RingBufferSlotClearing(t *testing.T) {
	assert := assert.New(t)

	buffer := NewRingBuffer[*int](2)

	val := 1
	buffer.PushBack(&val)

	item, ok := buffer.PopFront()
	assert.True(ok)
	assert.Equal(&val, item)

	// The popped slot must not retain the pointer
	assert.Nil(buffer.buffer[0])
}
