package ingress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the Ticker stage configuration.
const (
	DefaultTickerConfigInterval = 100 * time.Millisecond
)

// TickerConfig structs contains the configuration for the Ticker stage.
type TickerConfig struct {
	// Interval is the duration between ticks.
	Interval time.Duration
}

// NewTickerConfig returns the default configuration for the Ticker stage.
func NewTickerConfig() *TickerConfig {
	return &TickerConfig{
		Interval: DefaultTickerConfigInterval,
	}
}

// Validate checks the configuration.
func (c *TickerConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "Interval", &c.Interval, DefaultTickerConfigInterval)
	config.CheckNotZero(ac, "Interval", &c.Interval, DefaultTickerConfigInterval)
}

///////////////
//  MESSAGE  //
///////////////

var _ msgEnv = (*TickerMessage)(nil)

// TickerMessage is the message produced by the Ticker stage.
type TickerMessage struct {
	TickNumber int
}

func newTickerMessage() *TickerMessage {
	return &TickerMessage{}
}

// Destroy cleans up the message.
func (tm *TickerMessage) Destroy() {}

//////////////
//  SOURCE  //
//////////////

var _ source[*TickerMessage] = (*tickerSource)(nil)

type tickerSource struct {
	tel *telemetry.Telemetry

	ticker *time.Ticker

	stopCh chan struct{}

	// Metrics
	triggeredMessages atomic.Int64
}

func newTickerSource() *tickerSource {
	return &tickerSource{
		stopCh: make(chan struct{}),
	}
}

func (ts *tickerSource) setTelemetry(tel *telemetry.Telemetry) {
	ts.tel = tel
}

func (ts *tickerSource) init(interval time.Duration) {
	ts.ticker = time.NewTicker(interval)

	ts.tel.NewCounter("triggered_messages", func() int64 { return ts.triggeredMessages.Load() })
}

func (ts *tickerSource) run(ctx context.Context, out sendPort[*TickerMessage]) {
	defer ts.ticker.Stop()

	ticks := 0

	for {
		select {
		case <-ctx.Done():
			return

		case <-ts.stopCh:
			return

		case <-ts.ticker.C:
			ticks++

			msgOut := ts.handleTrigger(ctx, ticks)
			if err := out.Send(msgOut); err != nil {
				msgOut.Destroy()
				ts.tel.LogError("failed to send message to output channel", err)
				return
			}

			ts.triggeredMessages.Add(1)
		}
	}
}

func (ts *tickerSource) handleTrigger(ctx context.Context, tick int) *msg[*TickerMessage] {
	_, span := ts.tel.NewTrace(ctx, "triggered ticker message")
	defer span.End()

	tickerMsg := newTickerMessage()
	tickerMsg.TickNumber = tick

	msgOut := message.NewMessage(tickerMsg)
	msgOut.SetReceiveTime(time.Now())

	span.SetAttributes(attribute.Int("tick_number", tick))
	msgOut.SaveSpan(span)

	return msgOut
}

func (ts *tickerSource) close() {
	close(ts.stopCh)
}

/////////////
//  STAGE  //
/////////////

// TickerStage is an ingress stage that ticks periodically.
type TickerStage struct {
	*stage[*TickerMessage, *TickerConfig]

	source *tickerSource
}

// NewTickerStage returns a new Ticker stage.
func NewTickerStage(out sendPort[*TickerMessage], cfg *TickerConfig) *TickerStage {
	source := newTickerSource()

	return &TickerStage{
		stage: newStage("ticker", source, out, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (s *TickerStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	s.source.init(s.cfg.Interval)

	return nil
}

// Close closes the stage.
func (s *TickerStage) Close() {
	// Unblock the source first, the base Close waits for it to return
	s.source.close()
	s.stage.Close()
}
