// Package mediator implements the goroutine that owns the elastic buffer
// of a channel and shuttles items between its two side ports.
package mediator

import (
	"github.com/FerroO2000/elastico/internal/rb"
	"github.com/FerroO2000/elastico/internal/telemetry"
)

// Config contains the configuration of a mediator.
// It is assembled by the channel constructor from an already
// validated channel configuration.
type Config struct {
	// InitialCapacity is the starting capacity of the elastic buffer.
	InitialCapacity uint64

	// BatchLimit caps how many consecutive non-blocking operations the
	// mediator may perform in one direction before re-entering the fair
	// two-way wait. It bounds the latency of the other direction.
	BatchLimit int

	// ShrinkEnabled states whether the elastic buffer may be shrunk
	// after sustained draining.
	ShrinkEnabled bool

	// ShrinkCooldown is the minimum number of popped items between
	// two shrink attempts.
	ShrinkCooldown int
}

// Mediator is the single goroutine that owns the elastic buffer.
//
// It multiplexes two blocking endpoints: the inbound port, fed by the
// producer, and the outbound port, drained by the consumer. The buffer is
// never shared: all exclusion is structural, so it needs no locking.
type Mediator[T any] struct {
	tel *telemetry.Telemetry

	in  <-chan T
	out chan<- T

	buffer *rb.RingBuffer[T]

	batchLimit int

	shrinkEnabled   bool
	shrinkCooldown  int
	popsSinceResize int

	metrics *metrics
}

// New returns a new mediator bound to the given ports.
func New[T any](tel *telemetry.Telemetry, in <-chan T, out chan<- T, cfg *Config) *Mediator[T] {
	m := &Mediator[T]{
		tel: tel,

		in:  in,
		out: out,

		buffer: rb.NewRingBuffer[T](cfg.InitialCapacity),

		batchLimit: cfg.BatchLimit,

		shrinkEnabled:  cfg.ShrinkEnabled,
		shrinkCooldown: cfg.ShrinkCooldown,

		metrics: newMetrics(tel),
	}

	m.metrics.init()
	m.metrics.setBufferCapacity(int64(m.buffer.Cap()))

	return m
}

// Run shuttles items from the inbound port to the outbound port until the
// inbound port is closed and every accepted item has been delivered.
// It closes the outbound port exactly once before returning.
//
// Termination is driven solely by the producer closing the inbound port;
// there is no independent cancellation, since aborting mid-flight would
// break the delivery guarantee for already accepted items.
func (m *Mediator[T]) Run() {
	defer close(m.out)

	m.tel.LogInfo("running")

	inputOpen := true
	outputEnabled := false
	var staged T

	for inputOpen || outputEnabled {
		if !outputEnabled {
			// Nothing staged and the buffer is empty:
			// only the inbound port is awaited.
			item, ok := <-m.in
			if !ok {
				inputOpen = false
				continue
			}

			staged = item
			outputEnabled = true
			m.metrics.incrementAcceptedItems()

			inputOpen = m.collectInbound()
			continue
		}

		if !inputOpen {
			// Input is closed: drain the staged item and the buffer.
			m.out <- staged
			m.metrics.incrementDeliveredItems()

			staged, outputEnabled = m.nextStaged()
			continue
		}

		// The staged item is fully determined before the select: the send
		// branch must never compute its payload in place, as the payload
		// expression is evaluated before a branch is chosen.
		select {
		case item, ok := <-m.in:
			if !ok {
				inputOpen = false
				continue
			}

			m.store(item)
			inputOpen = m.collectInbound()

		case m.out <- staged:
			m.metrics.incrementDeliveredItems()

			staged, outputEnabled = m.nextStaged()
			if outputEnabled {
				staged, outputEnabled = m.flushOutbound(staged)
			}
		}
	}

	m.tel.LogInfo("input port closed and buffer drained, stopping")
}

// store pushes an item into the elastic buffer, tracking growth.
func (m *Mediator[T]) store(item T) {
	capBefore := m.buffer.Cap()

	m.buffer.PushBack(item)

	if capAfter := m.buffer.Cap(); capAfter != capBefore {
		m.popsSinceResize = 0
		m.metrics.incrementGrowthEvents()
		m.metrics.setBufferCapacity(int64(capAfter))
	}

	m.metrics.incrementAcceptedItems()
	m.metrics.setBufferedItems(int64(m.buffer.Len()))
}

// nextStaged pops the next item to be offered on the outbound port.
// It returns false when the buffer is empty and nothing is staged.
func (m *Mediator[T]) nextStaged() (T, bool) {
	item, ok := m.buffer.PopFront()
	if !ok {
		return item, false
	}

	m.popsSinceResize++
	m.maybeShrink()

	m.metrics.setBufferedItems(int64(m.buffer.Len()))

	return item, true
}

// maybeShrink halves the elastic buffer after sustained draining.
// The policy is bounded by a cooldown so a single drain burst cannot
// trigger repeated resizes.
func (m *Mediator[T]) maybeShrink() {
	if !m.shrinkEnabled || m.popsSinceResize < m.shrinkCooldown {
		return
	}

	if m.buffer.Len() > m.buffer.Cap()>>2 {
		return
	}

	if m.buffer.Shrink() {
		m.popsSinceResize = 0
		m.metrics.incrementShrinkEvents()
		m.metrics.setBufferCapacity(int64(m.buffer.Cap()))
	}
}

// collectInbound opportunistically drains the inbound port without
// blocking, so a burst of sends is absorbed with a single wakeup of the
// two-way wait. The batch limit bounds how long the outbound direction
// can go unserved. It returns whether the inbound port is still open.
func (m *Mediator[T]) collectInbound() bool {
	for range m.batchLimit {
		select {
		case item, ok := <-m.in:
			if !ok {
				return false
			}

			m.store(item)

		default:
			return true
		}
	}

	return true
}

// flushOutbound offers buffered items on the outbound port while it is
// immediately ready, symmetric to collectInbound. It returns the item
// left staged for the next wait, if any.
func (m *Mediator[T]) flushOutbound(staged T) (T, bool) {
	for range m.batchLimit {
		select {
		case m.out <- staged:
			m.metrics.incrementDeliveredItems()

			next, ok := m.nextStaged()
			if !ok {
				var zero T
				return zero, false
			}

			staged = next

		default:
			return staged, true
		}
	}

	return staged, true
}
