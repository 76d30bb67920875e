package ingress

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the file ingress stage configuration.
const (
	DefaultFileConfigChunkDelim   = '\n'
	DefaultFileConfigMaxChunkSize = 32 * 1024
)

// DefaultFileConfigWatchedDirs is the default list of directories to watch.
var DefaultFileConfigWatchedDirs = []string{"."}

// FileConfig structs contains the configuration for the file ingress stage.
type FileConfig struct {
	// WatchedDirs contains the list of directories to watch.
	WatchedDirs []string

	// ChunkDelim is the delimiter byte used to split the file contents
	// into chunks.
	ChunkDelim byte

	// MaxChunkSize is the maximum size of a chunk. A chunk that grows
	// past it is emitted without waiting for the delimiter.
	MaxChunkSize int
}

// NewFileConfig returns the default configuration for the file ingress stage.
func NewFileConfig() *FileConfig {
	return &FileConfig{
		WatchedDirs:  DefaultFileConfigWatchedDirs,
		ChunkDelim:   DefaultFileConfigChunkDelim,
		MaxChunkSize: DefaultFileConfigMaxChunkSize,
	}
}

// Validate checks the configuration.
func (c *FileConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "WatchedDirs", &c.WatchedDirs, DefaultFileConfigWatchedDirs)

	config.CheckNotNegative(ac, "MaxChunkSize", &c.MaxChunkSize, DefaultFileConfigMaxChunkSize)
	config.CheckNotZero(ac, "MaxChunkSize", &c.MaxChunkSize, DefaultFileConfigMaxChunkSize)
}

///////////////
//  MESSAGE  //
///////////////

var _ msgSer = (*FileMessage)(nil)

// FileMessage represents a message produced by the file ingress stage.
type FileMessage struct {
	// Path is the path of the file.
	Path string

	// Chunk is the file contents.
	Chunk []byte

	// ChunkSize is the length of the chunk.
	ChunkSize int

	// Offset is the offset of the chunk from the beginning of the file.
	Offset int64
}

func newFileMessage() *FileMessage {
	return &FileMessage{}
}

// Destroy cleans up the message.
func (fm *FileMessage) Destroy() {}

// GetBytes returns the bytes of the chunk.
func (fm *FileMessage) GetBytes() []byte {
	return fm.Chunk
}

//////////////
//  SOURCE  //
//////////////

var _ source[*FileMessage] = (*fileSource)(nil)

type fileSource struct {
	tel *telemetry.Telemetry

	cfg *FileConfig

	watcher *fsnotify.Watcher

	// offsets tracks how far each watched file has been read,
	// so a modified file is only re-read from its last offset.
	offsets map[string]int64

	// Metrics
	trackedFiles atomic.Int64
	readChunks   atomic.Int64
	readBytes    atomic.Int64
}

func newFileSource() *fileSource {
	return &fileSource{
		offsets: make(map[string]int64),
	}
}

func (fs *fileSource) setTelemetry(tel *telemetry.Telemetry) {
	fs.tel = tel
}

func (fs *fileSource) init(cfg *FileConfig) error {
	fs.cfg = cfg

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dirPath := range cfg.WatchedDirs {
		if err := watcher.Add(dirPath); err != nil {
			watcher.Close()
			return err
		}
	}

	fs.watcher = watcher

	fs.initMetrics()

	return nil
}

func (fs *fileSource) initMetrics() {
	fs.tel.NewUpDownCounter("tracked_files", func() int64 { return fs.trackedFiles.Load() })
	fs.tel.NewCounter("read_chunks", func() int64 { return fs.readChunks.Load() })
	fs.tel.NewCounter("read_bytes", func() int64 { return fs.readBytes.Load() })
}

// readExistingFiles reads all the existing files in the watched directories.
// This is needed because the watcher does not fire events for existing files.
func (fs *fileSource) readExistingFiles(ctx context.Context, out sendPort[*FileMessage]) {
	for _, dirPath := range fs.cfg.WatchedDirs {
		files, err := os.ReadDir(dirPath)
		if err != nil {
			fs.tel.LogError("failed to read directory", err, "path", dirPath)
			continue
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}

			fs.readFile(ctx, filepath.Join(dirPath, file.Name()), out)
		}
	}
}

// readFile streams the unread tail of the file into the output channel,
// one delimited chunk at a time.
func (fs *fileSource) readFile(ctx context.Context, path string, out sendPort[*FileMessage]) {
	file, err := os.Open(path)
	if err != nil {
		fs.tel.LogError("failed to open file", err, "path", path)
		return
	}
	defer file.Close()

	offset, tracked := fs.offsets[path]
	if !tracked {
		// Record the offset even for an empty file, so the next event
		// on it does not count it as newly tracked
		fs.offsets[path] = offset
		fs.trackedFiles.Add(1)
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			fs.tel.LogError("failed to seek file", err, "path", path)
			return
		}
	}

	reader := bufio.NewReader(file)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk, err := fs.readChunk(reader)
		if len(chunk) > 0 {
			offset += int64(len(chunk))
			fs.offsets[path] = offset

			msgOut := fs.handleChunk(ctx, path, chunk, offset)
			if sendErr := out.Send(msgOut); sendErr != nil {
				msgOut.Destroy()
				fs.tel.LogError("failed to send message to output channel", sendErr)
				return
			}

			fs.readChunks.Add(1)
			fs.readBytes.Add(int64(len(chunk)))
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				fs.tel.LogError("failed to read file", err, "path", path)
			}
			return
		}
	}
}

// readChunk reads up to the delimiter, capping the chunk size.
func (fs *fileSource) readChunk(reader *bufio.Reader) ([]byte, error) {
	chunk := make([]byte, 0, 256)

	for len(chunk) < fs.cfg.MaxChunkSize {
		b, err := reader.ReadByte()
		if err != nil {
			return chunk, err
		}

		chunk = append(chunk, b)

		if b == fs.cfg.ChunkDelim {
			break
		}
	}

	return chunk, nil
}

func (fs *fileSource) handleChunk(ctx context.Context, path string, chunk []byte, offset int64) *msg[*FileMessage] {
	_, span := fs.tel.NewTrace(ctx, "read file chunk")
	defer span.End()

	fileMsg := newFileMessage()
	fileMsg.Path = path
	fileMsg.Chunk = chunk
	fileMsg.ChunkSize = len(chunk)
	fileMsg.Offset = offset

	msgOut := message.NewMessage(fileMsg)
	msgOut.SetReceiveTime(time.Now())

	span.SetAttributes(
		attribute.String("path", path),
		attribute.Int("chunk_size", len(chunk)),
	)
	msgOut.SaveSpan(span)

	return msgOut
}

func (fs *fileSource) forgetFile(path string) {
	if _, tracked := fs.offsets[path]; tracked {
		delete(fs.offsets, path)
		fs.trackedFiles.Add(-1)
	}
}

func (fs *fileSource) run(ctx context.Context, out sendPort[*FileMessage]) {
	// Before starting the watcher, read all the existing files
	fs.readExistingFiles(ctx, out)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}

			fs.handleEvent(ctx, event, out)

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}

			fs.tel.LogError("watcher error", err)
		}
	}
}

func (fs *fileSource) handleEvent(ctx context.Context, event fsnotify.Event, out sendPort[*FileMessage]) {
	path := event.Name

	// Handle file deletion/renaming
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		fs.forgetFile(path)
		return
	}

	// Handle file creation and modification
	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		fs.readFile(ctx, path, out)
	}
}

func (fs *fileSource) close() {
	if fs.watcher != nil {
		fs.watcher.Close()
	}
}

/////////////
//  STAGE  //
/////////////

// FileStage is an ingress stage that streams files from a list of
// watched directories.
type FileStage struct {
	*stage[*FileMessage, *FileConfig]

	source *fileSource
}

// NewFileStage returns a new file ingress stage.
func NewFileStage(out sendPort[*FileMessage], cfg *FileConfig) *FileStage {
	source := newFileSource()

	return &FileStage{
		stage: newStage("file", source, out, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (s *FileStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	return s.source.init(s.cfg)
}

// Close closes the stage.
func (s *FileStage) Close() {
	s.source.close()
	s.stage.Close()
}
