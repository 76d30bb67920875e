package ingress

import (
	"testing"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/stretchr/testify/assert"
)

func Test_UDPStageCloseWithoutCancel(t *testing.T) {
	assert := assert.New(t)

	sender, receiver := elastico.New[*message.Message[*UDPMessage]](nil)

	cfg := NewUDPConfig()
	cfg.IPAddr = "127.0.0.1"
	cfg.Port = 0

	stage := NewUDPStage(sender, cfg)
	assert.NoError(stage.Init(t.Context()))

	runDone := make(chan struct{})
	go func() {
		stage.Run(t.Context())
		close(runDone)
	}()

	// Close must unblock the connection read and return even though
	// the Run context is still active
	stage.Close()
	<-runDone

	for msgIn := range receiver.C() {
		msgIn.Destroy()
	}
}
