package elastico

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ChannelFIFO(t *testing.T) {
	assert := assert.New(t)

	const items = 1000

	sender, receiver := New[int](nil)

	go func() {
		for val := range items {
			assert.NoError(sender.Send(val))
		}
		assert.NoError(sender.Close())
	}()

	// Receive one at a time, slower than the producer
	for val := range items {
		item, ok := receiver.Receive()
		assert.True(ok)
		assert.Equal(val, item)

		if val%250 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	_, ok := receiver.Receive()
	assert.False(ok)
}

func Test_ChannelCloseWithoutSends(t *testing.T) {
	assert := assert.New(t)

	sender, receiver := New[string](nil)

	assert.NoError(sender.Close())

	_, ok := receiver.Receive()
	assert.False(ok)

	_, ok = receiver.Receive()
	assert.False(ok)
}

func Test_ChannelSendAfterClose(t *testing.T) {
	assert := assert.New(t)

	sender, receiver := New[int](nil)

	for val := range 10 {
		assert.NoError(sender.Send(val))
	}
	assert.NoError(sender.Close())

	// The pending send is a usage error and delivers nothing
	assert.ErrorIs(sender.Send(10), ErrClosed)

	received := 0
	for item := range receiver.C() {
		assert.Equal(received, item)
		received++
	}

	assert.Equal(10, received)
}

func Test_ChannelDoubleClose(t *testing.T) {
	assert := assert.New(t)

	sender, _ := New[int](nil)

	assert.NoError(sender.Close())
	assert.ErrorIs(sender.Close(), ErrClosed)
}

func Test_ChannelConcurrentNoLoss(t *testing.T) {
	assert := assert.New(t)

	const items = 10_000

	cfg := NewConfig()
	cfg.Name = "no_loss"
	cfg.PortCapacity = 8
	cfg.InitialCapacity = 4
	cfg.ShrinkEnabled = true
	cfg.ShrinkCooldown = 128

	sender, receiver := New[int](cfg)

	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		for val := range items {
			assert.NoError(sender.Send(val))
		}
		assert.NoError(sender.Close())
	}()

	received := 0
	for item, ok := receiver.Receive(); ok; item, ok = receiver.Receive() {
		assert.Equal(received, item)
		received++
	}

	wg.Wait()

	assert.Equal(items, received)
}

func Test_ChannelBurstThenDrain(t *testing.T) {
	assert := assert.New(t)

	const items = 5000

	cfg := NewConfig()
	cfg.Name = "burst"
	cfg.InitialCapacity = 2

	sender, receiver := New[int](cfg)

	// The whole burst is accepted before a single receive happens:
	// the buffer must grow through several doublings
	for val := range items {
		assert.NoError(sender.Send(val))
	}
	assert.NoError(sender.Close())

	received := 0
	for item := range receiver.C() {
		assert.Equal(received, item)
		received++
	}

	assert.Equal(items, received)
}

func Test_ConfigAnomalies(t *testing.T) {
	assert := assert.New(t)

	cfg := NewConfig()
	cfg.Name = ""
	cfg.PortCapacity = -1
	cfg.InitialCapacity = 100
	cfg.BatchLimit = 0

	sender, receiver := New[int](cfg)

	// Anomalous values fall back to defaults instead of failing
	assert.Equal(DefaultConfigName, cfg.Name)
	assert.Equal(DefaultConfigPortCapacity, cfg.PortCapacity)
	assert.Equal(uint64(128), cfg.InitialCapacity)
	assert.Equal(DefaultConfigBatchLimit, cfg.BatchLimit)

	assert.NoError(sender.Send(1))
	assert.NoError(sender.Close())

	item, ok := receiver.Receive()
	assert.True(ok)
	assert.Equal(1, item)
}
