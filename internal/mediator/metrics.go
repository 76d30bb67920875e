package mediator

import (
	"sync/atomic"

	"github.com/FerroO2000/elastico/internal/telemetry"
)

// metrics holds the counters exposed by a mediator. The loop goroutine is
// the only writer; atomics are needed because the observable callbacks
// read them from the metric reader's goroutine.
type metrics struct {
	tel *telemetry.Telemetry

	acceptedItems  atomic.Int64
	deliveredItems atomic.Int64
	growthEvents   atomic.Int64
	shrinkEvents   atomic.Int64

	bufferedItems  atomic.Int64
	bufferCapacity atomic.Int64
}

func newMetrics(tel *telemetry.Telemetry) *metrics {
	return &metrics{
		tel: tel,
	}
}

func (m *metrics) init() {
	m.tel.NewCounter("accepted_items", func() int64 { return m.acceptedItems.Load() })
	m.tel.NewCounter("delivered_items", func() int64 { return m.deliveredItems.Load() })
	m.tel.NewCounter("growth_events", func() int64 { return m.growthEvents.Load() })
	m.tel.NewCounter("shrink_events", func() int64 { return m.shrinkEvents.Load() })

	m.tel.NewUpDownCounter("buffered_items", func() int64 { return m.bufferedItems.Load() })
	m.tel.NewUpDownCounter("buffer_capacity", func() int64 { return m.bufferCapacity.Load() })
}

func (m *metrics) incrementAcceptedItems() {
	m.acceptedItems.Add(1)
}

func (m *metrics) incrementDeliveredItems() {
	m.deliveredItems.Add(1)
}

func (m *metrics) incrementGrowthEvents() {
	m.growthEvents.Add(1)
}

func (m *metrics) incrementShrinkEvents() {
	m.shrinkEvents.Add(1)
}

func (m *metrics) setBufferedItems(amount int64) {
	m.bufferedItems.Store(amount)
}

func (m *metrics) setBufferCapacity(amount int64) {
	m.bufferCapacity.Store(amount)
}
