package elastico_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/egress"
	"github.com/FerroO2000/elastico/ingress"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/stretchr/testify/assert"
)

type pipelineTestMsg struct {
	destroyed *atomic.Int64
}

func (m *pipelineTestMsg) Destroy() {
	m.destroyed.Add(1)
}

// bridgeStage forwards every message from its input channel to its
// output channel, re-wrapping the payload on the way.
type bridgeStage struct {
	in  *elastico.Receiver[*message.Message[*ingress.TickerMessage]]
	out *elastico.Sender[*message.Message[*pipelineTestMsg]]

	forwarded atomic.Int64
	destroyed atomic.Int64

	runDone chan struct{}
}

func newBridgeStage(
	in *elastico.Receiver[*message.Message[*ingress.TickerMessage]],
	out *elastico.Sender[*message.Message[*pipelineTestMsg]],
) *bridgeStage {
	return &bridgeStage{
		in:  in,
		out: out,

		runDone: make(chan struct{}),
	}
}

func (b *bridgeStage) Init(_ context.Context) error {
	return nil
}

func (b *bridgeStage) Run(_ context.Context) {
	defer close(b.runDone)

	for msgIn := range b.in.C() {
		msgIn.Destroy()

		msgOut := message.NewMessage(&pipelineTestMsg{destroyed: &b.destroyed})
		msgOut.SetReceiveTime(time.Now())

		if err := b.out.Send(msgOut); err != nil {
			msgOut.Destroy()
			return
		}

		b.forwarded.Add(1)
	}
}

func (b *bridgeStage) Close() {
	// The sender must not be closed while Run is still forwarding
	<-b.runDone

	b.out.Close()
}

func Test_Pipeline(t *testing.T) {
	assert := assert.New(t)

	tickerSender, tickerReceiver := elastico.New[*message.Message[*ingress.TickerMessage]](nil)
	bridgeSender, bridgeReceiver := elastico.New[*message.Message[*pipelineTestMsg]](nil)

	tickerCfg := ingress.NewTickerConfig()
	tickerCfg.Interval = time.Millisecond

	tickerStage := ingress.NewTickerStage(tickerSender, tickerCfg)
	bridge := newBridgeStage(tickerReceiver, bridgeSender)
	sinkStage := egress.NewSinkStage(bridgeReceiver)

	pipeline := elastico.NewPipeline()
	pipeline.AddStage(tickerStage)
	pipeline.AddStage(bridge)
	pipeline.AddStage(sinkStage)

	assert.NoError(pipeline.Init(t.Context()))

	pipeline.Run(t.Context())

	assert.Eventually(func() bool {
		return bridge.forwarded.Load() >= 5
	}, time.Second, time.Millisecond)

	// Close must stop every stage in order and block until all of them
	// return, even though the Run context was never cancelled
	pipeline.Close()

	assert.Equal(bridge.forwarded.Load(), bridge.destroyed.Load())
	assert.Positive(bridge.destroyed.Load())
}
