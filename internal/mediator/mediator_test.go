package mediator

import (
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/elastico/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func newTestMediator(portCapacity int, cfg *Config) (chan int, chan int, *Mediator[int]) {
	in := make(chan int, portCapacity)
	out := make(chan int, portCapacity)

	tel := telemetry.NewTelemetry("mediator", "test")

	return in, out, New(tel, in, out, cfg)
}

func defaultTestConfig() *Config {
	return &Config{
		InitialCapacity: 16,
		BatchLimit:      1024,
		ShrinkCooldown:  4096,
	}
}

func Test_MediatorFIFO(t *testing.T) {
	assert := assert.New(t)

	const items = 1000

	in, out, med := newTestMediator(8, defaultTestConfig())
	go med.Run()

	go func() {
		for val := range items {
			in <- val
		}
		close(in)
	}()

	// A slow consumer forces the buffer to absorb the backlog
	received := 0
	for val := range out {
		assert.Equal(received, val)
		received++

		if received%100 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	assert.Equal(items, received)
}

func Test_MediatorCloseEmpty(t *testing.T) {
	assert := assert.New(t)

	in, out, med := newTestMediator(8, defaultTestConfig())
	go med.Run()

	close(in)

	_, ok := <-out
	assert.False(ok)

	// Closure is observed by every subsequent receive
	_, ok = <-out
	assert.False(ok)
}

func Test_MediatorDrainOnClose(t *testing.T) {
	assert := assert.New(t)

	const items = 500

	in, out, med := newTestMediator(1, defaultTestConfig())
	go med.Run()

	for val := range items {
		in <- val
	}
	close(in)

	// Every accepted item must still be delivered, in order
	for val := range items {
		item, ok := <-out
		assert.True(ok)
		assert.Equal(val, item)
	}

	_, ok := <-out
	assert.False(ok)
}

func Test_MediatorAlternatingEmpty(t *testing.T) {
	assert := assert.New(t)

	const rounds = 2000

	in, out, med := newTestMediator(1, &Config{
		InitialCapacity: 2,
		BatchLimit:      4,
		ShrinkCooldown:  16,
	})
	go med.Run()

	// Ping-pong so the buffer alternates between empty and non-empty
	for val := range rounds {
		in <- val

		item, ok := <-out
		assert.True(ok)
		assert.Equal(val, item)
	}

	close(in)

	_, ok := <-out
	assert.False(ok)
}

func Test_MediatorConcurrentNoLoss(t *testing.T) {
	assert := assert.New(t)

	const items = 50_000

	in, out, med := newTestMediator(64, &Config{
		InitialCapacity: 4,
		BatchLimit:      256,
		ShrinkEnabled:   true,
		ShrinkCooldown:  512,
	})
	go med.Run()

	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		for val := range items {
			in <- val
		}
		close(in)
	}()

	received := 0
	for val := range out {
		assert.Equal(received, val)
		received++
	}

	wg.Wait()

	assert.Equal(items, received)
	assert.Equal(int64(items), med.metrics.acceptedItems.Load())
	assert.Equal(int64(items), med.metrics.deliveredItems.Load())
}

func Test_MediatorFairness(t *testing.T) {
	assert := assert.New(t)

	const batchLimit = 8

	in, out, med := newTestMediator(1, &Config{
		InitialCapacity: 4,
		BatchLimit:      batchLimit,
		ShrinkCooldown:  4096,
	})
	go med.Run()

	// Flood the inbound side from a goroutine that never stops on its own.
	// The consumer must observe progress even while the producer is saturating
	// its port: the batch limit forces the mediator back into the two-way wait.
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)

		val := 0
		for {
			select {
			case <-stopCh:
				close(in)
				return
			case in <- val:
				val++
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	for expected := range 10_000 {
		select {
		case item, ok := <-out:
			assert.True(ok)
			assert.Equal(expected, item)

		case <-deadline:
			t.Fatal("consumer starved by a flooding producer")
		}
	}

	close(stopCh)
	<-doneCh

	for range out {
	}
}

func Test_MediatorGrowthAndShrink(t *testing.T) {
	assert := assert.New(t)

	const items = 4096

	in, out, med := newTestMediator(1, &Config{
		InitialCapacity: 4,
		BatchLimit:      1024,
		ShrinkEnabled:   true,
		ShrinkCooldown:  8,
	})
	go med.Run()

	// Fill without draining to force repeated growth
	for val := range items {
		in <- val
	}

	for val := range items {
		item, ok := <-out
		assert.True(ok)
		assert.Equal(val, item)
	}

	close(in)
	_, ok := <-out
	assert.False(ok)

	assert.Positive(med.metrics.growthEvents.Load())
	assert.Positive(med.metrics.shrinkEvents.Load())
}
