package egress

import (
	"testing"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/stretchr/testify/assert"
)

type sinkTestMsg struct {
	call func()
}

func (m *sinkTestMsg) Destroy() {
	m.call()
}

func Test_SinkStage(t *testing.T) {
	assert := assert.New(t)

	msgCount := 32
	sender, receiver := elastico.New[*message.Message[*sinkTestMsg]](nil)

	stopCh := make(chan struct{})

	destroyCount := 0
	call := func() {
		destroyCount++
		if destroyCount == msgCount {
			close(stopCh)
		}
	}

	for range msgCount {
		msgIn := message.NewMessage(&sinkTestMsg{
			call: call,
		})

		assert.NoError(sender.Send(msgIn))
	}

	stage := NewSinkStage(receiver)
	assert.NoError(stage.Init(t.Context()))

	go stage.Run(t.Context())

	<-stopCh

	stage.Close()

	assert.Equal(msgCount, destroyCount)
}
