package egress

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/stretchr/testify/assert"
)

type fileTestMsg struct {
	payload []byte
}

func (m *fileTestMsg) Destroy() {}

func (m *fileTestMsg) GetBytes() []byte {
	return m.payload
}

func Test_FileStage(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "out.log")

	sender, receiver := elastico.New[*message.Message[*fileTestMsg]](nil)

	cfg := NewFileConfig(path)
	// Keep the periodic flusher running while messages are being written
	cfg.FlushDeadline = time.Millisecond

	stage := NewFileStage(receiver, cfg)
	assert.NoError(stage.Init(t.Context()))

	runDone := make(chan struct{})
	go func() {
		stage.Run(t.Context())
		close(runDone)
	}()

	msgCount := 256
	expected := make([]byte, 0, msgCount*8)
	for i := range msgCount {
		payload := fmt.Appendf(nil, "line %d\n", i)
		expected = append(expected, payload...)

		msgOut := message.NewMessage(&fileTestMsg{payload: payload})
		msgOut.SetReceiveTime(time.Now())

		assert.NoError(sender.Send(msgOut))
	}

	assert.NoError(sender.Close())
	<-runDone

	stage.Close()

	written, err := os.ReadFile(path)
	assert.NoError(err)
	assert.Equal(expected, written)
}
