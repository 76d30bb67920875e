package ingress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func newTestFileSource() *fileSource {
	fs := newFileSource()
	fs.setTelemetry(telemetry.NewTelemetry("ingress", "file"))
	fs.cfg = NewFileConfig()

	return fs
}

func Test_FileSourceReadChunks(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "data.log")
	assert.NoError(os.WriteFile(path, []byte("alpha\nbeta\n"), 0644))

	sender, receiver := elastico.New[*message.Message[*FileMessage]](nil)

	fs := newTestFileSource()
	fs.readFile(t.Context(), path, sender)

	// Appended data must be read from the recorded offset only
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	assert.NoError(err)
	_, err = file.WriteString("gamma\n")
	assert.NoError(err)
	assert.NoError(file.Close())

	fs.readFile(t.Context(), path, sender)

	assert.NoError(sender.Close())

	expected := []string{"alpha\n", "beta\n", "gamma\n"}
	offset := int64(0)
	for _, chunk := range expected {
		msgIn, ok := receiver.Receive()
		assert.True(ok)

		fileMsg := msgIn.GetEnvelope()
		offset += int64(len(chunk))

		assert.Equal(path, fileMsg.Path)
		assert.Equal([]byte(chunk), fileMsg.Chunk)
		assert.Equal(offset, fileMsg.Offset)

		msgIn.Destroy()
	}

	_, ok := receiver.Receive()
	assert.False(ok)

	assert.Equal(int64(1), fs.trackedFiles.Load())
}

func Test_FileSourceTrackedFiles(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "empty.log")
	assert.NoError(os.WriteFile(path, nil, 0644))

	sender, _ := elastico.New[*message.Message[*FileMessage]](nil)
	defer sender.Close()

	fs := newTestFileSource()

	// A file with no readable data must still be counted once
	fs.readFile(t.Context(), path, sender)
	fs.readFile(t.Context(), path, sender)

	assert.Equal(int64(1), fs.trackedFiles.Load())
}
