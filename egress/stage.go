package egress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
)

type sink[In msgEnv] interface {
	setTelemetry(tel *telemetry.Telemetry)
	deliver(ctx context.Context, msgIn *msg[In]) error
	close(ctx context.Context) error
}

///////////////
//  METRICS  //
///////////////

type stageMetrics struct {
	tel *telemetry.Telemetry

	deliveredMessages atomic.Int64
	deliveringErrors  atomic.Int64

	totMsgProcessingTime *telemetry.Histogram
}

func newStageMetrics(tel *telemetry.Telemetry) *stageMetrics {
	return &stageMetrics{
		tel: tel,
	}
}

func (sm *stageMetrics) init() {
	sm.tel.NewCounter("delivered_messages", func() int64 { return sm.deliveredMessages.Load() })
	sm.tel.NewCounter("delivering_errors", func() int64 { return sm.deliveringErrors.Load() })

	sm.totMsgProcessingTime = sm.tel.NewHistogram("total_message_processing_time", metric.WithUnit("ms"))
}

func (sm *stageMetrics) incrementDeliveredMessages() {
	sm.deliveredMessages.Add(1)
}

func (sm *stageMetrics) incrementDeliveringErrors() {
	sm.deliveringErrors.Add(1)
}

func (sm *stageMetrics) recordTotalMessageProcessingTime(ctx context.Context, recvTime time.Time) {
	sm.totMsgProcessingTime.Record(ctx, time.Since(recvTime).Milliseconds())
}

/////////////
//  STAGE  //
/////////////

type stage[In msgEnv, Cfg cfg] struct {
	tel *telemetry.Telemetry

	cfg Cfg

	sink sink[In]

	in recvPort[In]

	metrics *stageMetrics
}

func newStage[In msgEnv, Cfg cfg](name string, sink sink[In], in recvPort[In], cfg Cfg) *stage[In, Cfg] {
	tel := telemetry.NewTelemetry("egress", name)
	sink.setTelemetry(tel)

	return &stage[In, Cfg]{
		tel: tel,

		cfg: cfg,

		sink: sink,

		in: in,

		metrics: newStageMetrics(tel),
	}
}

func (s *stage[In, Cfg]) Init(_ context.Context) error {
	s.tel.LogInfo("initializing")

	configValidator := config.NewValidator(s.tel)
	configValidator.Validate(s.cfg)

	s.metrics.init()

	return nil
}

func (s *stage[In, Cfg]) Run(ctx context.Context) {
	s.tel.LogInfo("running")

	for {
		select {
		case <-ctx.Done():
			return

		case msgIn, ok := <-s.in.C():
			if !ok {
				// The input channel is drained and closed, stop
				s.tel.LogInfo("input channel is closed, stopping")
				return
			}

			s.deliver(ctx, msgIn)
		}
	}
}

func (s *stage[In, Cfg]) deliver(ctx context.Context, msgIn *msg[In]) {
	defer msgIn.Destroy()

	// Extract the span context from the input message
	ctx = msgIn.LoadSpanContext(ctx)

	if err := s.sink.deliver(ctx, msgIn); err != nil {
		s.tel.LogError("failed to deliver message", err)
		s.metrics.incrementDeliveringErrors()
	}

	s.metrics.incrementDeliveredMessages()
	s.metrics.recordTotalMessageProcessingTime(ctx, msgIn.GetReceiveTime())
}

func (s *stage[In, Cfg]) Close() {
	s.tel.LogInfo("closing")

	if err := s.sink.close(context.Background()); err != nil {
		s.tel.LogError("failed to close sink", err)
	}
}
