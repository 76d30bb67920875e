package egress

import (
	"context"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
)

//////////////
//  CONFIG  //
//////////////

type sinkConfig struct{}

func (c *sinkConfig) Validate(_ *config.AnomalyCollector) {}

////////////
//  SINK  //
////////////

type discardSink[T msgEnv] struct{}

func (ds *discardSink[T]) setTelemetry(_ *telemetry.Telemetry) {}

func (ds *discardSink[T]) deliver(_ context.Context, _ *msg[T]) error {
	return nil
}

func (ds *discardSink[T]) close(_ context.Context) error {
	return nil
}

/////////////
//  STAGE  //
/////////////

// SinkStage is an egress stage that simply destroys all incoming messages.
// It is intended for testing purposes.
type SinkStage[T msgEnv] struct {
	*stage[T, *sinkConfig]
}

// NewSinkStage returns a new sink egress stage.
func NewSinkStage[T msgEnv](in recvPort[T]) *SinkStage[T] {
	return &SinkStage[T]{
		stage: newStage("sink", &discardSink[T]{}, in, &sinkConfig{}),
	}
}
