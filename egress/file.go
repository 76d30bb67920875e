package egress

import (
	"bufio"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the file egress stage configuration.
const (
	DefaultFileConfigBufferSize               = 4096
	DefaultFileConfigFlushThresholdPercentage = 0.75
	DefaultFileConfigFlushDeadline            = time.Second
)

// FileConfig structs contains the configuration for the file egress stage.
type FileConfig struct {
	// Path is the path to the file.
	Path string

	// BufferSize is the size of the buffer used to write messages to the file.
	BufferSize int

	// FlushThresholdPercentage is the percentage of the buffer size that triggers a flush.
	FlushThresholdPercentage float64

	// FlushDeadline is the maximum time to wait before flushing the buffer.
	FlushDeadline time.Duration
}

// NewFileConfig returns the default configuration for the file egress stage.
func NewFileConfig(path string) *FileConfig {
	return &FileConfig{
		Path:                     path,
		BufferSize:               DefaultFileConfigBufferSize,
		FlushThresholdPercentage: DefaultFileConfigFlushThresholdPercentage,
		FlushDeadline:            DefaultFileConfigFlushDeadline,
	}
}

// Validate checks the configuration.
func (c *FileConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "BufferSize", &c.BufferSize, DefaultFileConfigBufferSize)
	config.CheckNotZero(ac, "BufferSize", &c.BufferSize, DefaultFileConfigBufferSize)

	config.CheckNotNegative(ac, "FlushThresholdPercentage", &c.FlushThresholdPercentage, DefaultFileConfigFlushThresholdPercentage)
	config.CheckNotZero(ac, "FlushThresholdPercentage", &c.FlushThresholdPercentage, DefaultFileConfigFlushThresholdPercentage)

	config.CheckNotNegative(ac, "FlushDeadline", &c.FlushDeadline, DefaultFileConfigFlushDeadline)
	config.CheckNotZero(ac, "FlushDeadline", &c.FlushDeadline, DefaultFileConfigFlushDeadline)
}

////////////
//  SINK  //
////////////

type fileSink[T msgSer] struct {
	tel *telemetry.Telemetry

	file   *os.File
	writer *bufio.Writer

	path             string
	bufSizeThreshold int64

	ticker     *time.Ticker
	tickerStop chan struct{}
	tickerWg   sync.WaitGroup

	flushMux        sync.Mutex
	notFlushedBytes atomic.Int64

	// Metrics
	writtenBytes atomic.Int64
	writeErrors  atomic.Int64
	flushErrors  atomic.Int64
}

func newFileSink[T msgSer]() *fileSink[T] {
	return &fileSink[T]{
		tickerStop: make(chan struct{}),
	}
}

func (fs *fileSink[T]) setTelemetry(tel *telemetry.Telemetry) {
	fs.tel = tel
}

func (fs *fileSink[T]) init(cfg *FileConfig) error {
	fs.path = cfg.Path

	// Open the file as append only
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fs.file = file

	fs.writer = bufio.NewWriterSize(file, cfg.BufferSize)
	fs.bufSizeThreshold = int64(float64(cfg.BufferSize) * cfg.FlushThresholdPercentage)

	fs.initMetrics()

	// Start the periodic flusher
	fs.ticker = time.NewTicker(cfg.FlushDeadline)
	fs.tickerWg.Add(1)
	go fs.runTicker()

	return nil
}

func (fs *fileSink[T]) initMetrics() {
	fs.tel.NewCounter("written_bytes", func() int64 { return fs.writtenBytes.Load() })
	fs.tel.NewCounter("write_errors", func() int64 { return fs.writeErrors.Load() })
	fs.tel.NewCounter("flush_errors", func() int64 { return fs.flushErrors.Load() })
}

func (fs *fileSink[T]) runTicker() {
	defer fs.tickerWg.Done()

	defer fs.ticker.Stop()

	for {
		select {
		case <-fs.tickerStop:
			return

		case <-fs.ticker.C:
			if err := fs.flush(); err != nil {
				fs.tel.LogError("periodic flush failed", err, "path", fs.path)
			}
		}
	}
}

func (fs *fileSink[T]) deliver(ctx context.Context, msgIn *msg[T]) error {
	_, span := fs.tel.NewTrace(ctx, "writing file")
	defer span.End()

	// Write message bytes to file. The writer is shared with the
	// periodic flusher goroutine, so writes take the same mutex.
	chunk := msgIn.GetEnvelope().GetBytes()

	fs.flushMux.Lock()
	n, err := fs.writer.Write(chunk)
	fs.flushMux.Unlock()

	if err != nil {
		fs.tel.LogError("failed to write to file", err, "path", fs.path)
		fs.writeErrors.Add(1)

		return err
	}

	writtenBytes := int64(n)
	bytesUnflushed := fs.notFlushedBytes.Add(writtenBytes)

	span.SetAttributes(attribute.Int64("chunk_size", writtenBytes))

	// Check wether to flush the writer
	if bytesUnflushed >= fs.bufSizeThreshold {
		if err := fs.flush(); err != nil {
			return err
		}
	}

	// Update metrics
	fs.writtenBytes.Add(writtenBytes)

	return nil
}

func (fs *fileSink[T]) flush() error {
	fs.flushMux.Lock()
	defer fs.flushMux.Unlock()

	// Check if there is anything to flush
	if fs.notFlushedBytes.Load() == 0 {
		return nil
	}

	if err := fs.writer.Flush(); err != nil {
		fs.tel.LogError("failed to flush writer", err, "path", fs.path)
		fs.flushErrors.Add(1)

		return err
	}

	fs.notFlushedBytes.Store(0)

	return nil
}

func (fs *fileSink[T]) close(_ context.Context) error {
	close(fs.tickerStop)
	fs.tickerWg.Wait()

	if err := fs.flush(); err != nil {
		return err
	}

	// Sync and close the file
	if err := fs.file.Sync(); err != nil {
		fs.tel.LogError("failed to sync file", err, "path", fs.path)
	}

	return fs.file.Close()
}

/////////////
//  STAGE  //
/////////////

// FileStage is an egress stage that writes messages to a file sequentially.
type FileStage[T msgSer] struct {
	*stage[T, *FileConfig]

	sink *fileSink[T]
}

// NewFileStage returns a new file egress stage.
func NewFileStage[T msgSer](in recvPort[T], cfg *FileConfig) *FileStage[T] {
	sink := newFileSink[T]()

	return &FileStage[T]{
		stage: newStage("file", sink, in, cfg),

		sink: sink,
	}
}

// Init initializes the stage.
func (s *FileStage[T]) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	return s.sink.init(s.cfg)
}
