package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/stretchr/testify/assert"
)

func Test_TickerStage(t *testing.T) {
	assert := assert.New(t)

	sender, receiver := elastico.New[*message.Message[*TickerMessage]](nil)

	cfg := NewTickerConfig()
	cfg.Interval = time.Millisecond

	stage := NewTickerStage(sender, cfg)
	assert.NoError(stage.Init(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())

	runDone := make(chan struct{})
	go func() {
		stage.Run(ctx)
		close(runDone)
	}()

	msgCount := 10
	prevTick := 0
	for range msgCount {
		msgIn, ok := receiver.Receive()
		assert.True(ok)

		tick := msgIn.GetEnvelope().TickNumber
		assert.Greater(tick, prevTick)
		prevTick = tick

		msgIn.Destroy()
	}

	cancel()
	<-runDone

	stage.Close()

	// The channel must drain and close after the stage is closed
	for msgIn := range receiver.C() {
		msgIn.Destroy()
	}
}

func Test_TickerStageCloseWithoutCancel(t *testing.T) {
	assert := assert.New(t)

	sender, receiver := elastico.New[*message.Message[*TickerMessage]](nil)

	cfg := NewTickerConfig()
	cfg.Interval = time.Millisecond

	stage := NewTickerStage(sender, cfg)
	assert.NoError(stage.Init(t.Context()))

	runDone := make(chan struct{})
	go func() {
		stage.Run(t.Context())
		close(runDone)
	}()

	msgIn, ok := receiver.Receive()
	assert.True(ok)
	msgIn.Destroy()

	// Close must stop the source and return even though the Run
	// context is still active
	stage.Close()
	<-runDone

	for msgIn := range receiver.C() {
		msgIn.Destroy()
	}
}
