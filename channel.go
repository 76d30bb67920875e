package elastico

import (
	"errors"
	"sync/atomic"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/mediator"
	"github.com/FerroO2000/elastico/internal/telemetry"
)

// ErrClosed is returned when sending on, or closing,
// an already closed channel.
var ErrClosed = errors.New("elastic channel: channel is closed")

// Default values for the channel configuration.
const (
	DefaultConfigName            = "channel"
	DefaultConfigPortCapacity    = 128
	DefaultConfigInitialCapacity = 16
	DefaultConfigBatchLimit      = 1024
	DefaultConfigShrinkCooldown  = 4096
)

// Config contains the configuration for an elastic channel.
type Config struct {
	// Name identifies the channel in logs and metrics.
	Name string

	// PortCapacity is the capacity of the two bounded side ports.
	// The ports only decouple the scheduling of the producer/consumer
	// from the mediator goroutine: their size affects throughput,
	// not correctness, and they are never the elastic buffer itself.
	PortCapacity int

	// InitialCapacity is the starting capacity of the elastic buffer.
	// It must be a power of two.
	InitialCapacity uint64

	// BatchLimit caps how many consecutive items the mediator may move in
	// one direction before giving the other direction a chance. Lower
	// values trade throughput for latency of the opposite direction.
	BatchLimit int

	// ShrinkEnabled states whether the elastic buffer may be shrunk
	// back after sustained draining. When disabled, the buffer only
	// ever grows.
	ShrinkEnabled bool

	// ShrinkCooldown is the minimum number of delivered items between
	// two shrinks. It is only used if ShrinkEnabled is true.
	ShrinkCooldown int
}

// NewConfig returns the default configuration for an elastic channel.
func NewConfig() *Config {
	return &Config{
		Name:            DefaultConfigName,
		PortCapacity:    DefaultConfigPortCapacity,
		InitialCapacity: DefaultConfigInitialCapacity,
		BatchLimit:      DefaultConfigBatchLimit,
		ShrinkEnabled:   false,
		ShrinkCooldown:  DefaultConfigShrinkCooldown,
	}
}

// Validate checks the configuration.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Name", &c.Name, DefaultConfigName)

	config.CheckNotNegative(ac, "PortCapacity", &c.PortCapacity, DefaultConfigPortCapacity)
	config.CheckNotZero(ac, "PortCapacity", &c.PortCapacity, DefaultConfigPortCapacity)

	config.CheckNotZero(ac, "InitialCapacity", &c.InitialCapacity, DefaultConfigInitialCapacity)
	config.CheckPowerOfTwo(ac, "InitialCapacity", &c.InitialCapacity)

	config.CheckNotNegative(ac, "BatchLimit", &c.BatchLimit, DefaultConfigBatchLimit)
	config.CheckNotZero(ac, "BatchLimit", &c.BatchLimit, DefaultConfigBatchLimit)

	config.CheckNotNegative(ac, "ShrinkCooldown", &c.ShrinkCooldown, DefaultConfigShrinkCooldown)
	config.CheckNotZero(ac, "ShrinkCooldown", &c.ShrinkCooldown, DefaultConfigShrinkCooldown)
}

// Sender is the producer-side capability of an elastic channel.
// It must be used by a single goroutine.
type Sender[T any] struct {
	port chan<- T

	closed atomic.Bool
}

// Send delivers an item into the channel. It blocks only while the
// inbound port is momentarily saturated, never on the elastic buffer.
// Sending after Close is a usage error and returns ErrClosed.
func (s *Sender[T]) Send(item T) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.port <- item

	return nil
}

// Close signals end-of-stream. The consumer still receives every item
// already sent, then observes closure. Closing more than once returns
// ErrClosed without further effect.
func (s *Sender[T]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(s.port)

	return nil
}

// Receiver is the consumer-side capability of an elastic channel.
type Receiver[T any] struct {
	port <-chan T
}

// Receive blocks until an item is available, or until the channel has
// been closed and fully drained, in which case it returns false.
// Once it has returned false, every subsequent call returns false.
func (r *Receiver[T]) Receive() (T, bool) {
	item, ok := <-r.port
	return item, ok
}

// C returns the outbound port of the channel.
// It can be consumed with range and mixed freely with Receive calls
// as long as a single goroutine does the receiving.
func (r *Receiver[T]) C() <-chan T {
	return r.port
}

// New creates an elastic channel and returns its two capabilities.
//
// The channel behaves like a fixed-capacity channel at both ends, but an
// elastic buffer between them absorbs any backlog: the producer only
// blocks while the inbound port is momentarily full, regardless of how
// far behind the consumer is. Items are delivered strictly in send
// order, with no loss and no duplication.
//
// A nil cfg means the default configuration. Invalid configuration
// values are logged and replaced by their defaults.
func New[T any](cfg *Config) (*Sender[T], *Receiver[T]) {
	if cfg == nil {
		cfg = NewConfig()
	}

	tel := telemetry.NewTelemetry("channel", cfg.Name)

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	in := make(chan T, cfg.PortCapacity)
	out := make(chan T, cfg.PortCapacity)

	med := mediator.New(tel, in, out, &mediator.Config{
		InitialCapacity: cfg.InitialCapacity,
		BatchLimit:      cfg.BatchLimit,
		ShrinkEnabled:   cfg.ShrinkEnabled,
		ShrinkCooldown:  cfg.ShrinkCooldown,
	})

	go med.Run()

	return &Sender[T]{port: in}, &Receiver[T]{port: out}
}
