package ingress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tcpBufSize = 4096
)

//////////////
//  CONFIG  //
//////////////

// Default values for the TCP ingress stage configuration.
const (
	DefaultTCPConfigIPAddr         = "0.0.0.0"
	DefaultTCPConfigPort           = 20_000
	DefaultTCPConfigReadTimeout    = 10 * time.Second
	DefaultTCPConfigMaxMessageSize = 4 << 20
)

// DefaultTCPConfigDelimiter is the default delimiter for delimited messages.
var DefaultTCPConfigDelimiter = []byte{'\n'}

// TCPConfig structs contains the configuration for the TCP ingress stage.
type TCPConfig struct {
	// IPAddr is the IP address to listen on.
	IPAddr string

	// Port is the port to listen on.
	Port uint16

	// ReadTimeout is the idle timeout of a connection. A connection
	// that stays silent for longer is closed.
	ReadTimeout time.Duration

	// Delimiter is the byte sequence that terminates a message.
	Delimiter []byte

	// MaxMessageSize is the maximum size of a message. A connection
	// sending a bigger message is closed.
	MaxMessageSize int
}

// NewTCPConfig returns the default configuration for the TCP ingress stage.
func NewTCPConfig() *TCPConfig {
	return &TCPConfig{
		IPAddr:         DefaultTCPConfigIPAddr,
		Port:           DefaultTCPConfigPort,
		ReadTimeout:    DefaultTCPConfigReadTimeout,
		Delimiter:      DefaultTCPConfigDelimiter,
		MaxMessageSize: DefaultTCPConfigMaxMessageSize,
	}
}

// Validate checks the configuration.
func (c *TCPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultTCPConfigIPAddr)

	config.CheckLen(ac, "Delimiter", &c.Delimiter, DefaultTCPConfigDelimiter)

	config.CheckNotNegative(ac, "ReadTimeout", &c.ReadTimeout, DefaultTCPConfigReadTimeout)
	config.CheckNotZero(ac, "ReadTimeout", &c.ReadTimeout, DefaultTCPConfigReadTimeout)

	config.CheckNotNegative(ac, "MaxMessageSize", &c.MaxMessageSize, DefaultTCPConfigMaxMessageSize)
	config.CheckNotZero(ac, "MaxMessageSize", &c.MaxMessageSize, DefaultTCPConfigMaxMessageSize)
}

///////////////
//  MESSAGE  //
///////////////

var _ msgSer = (*TCPMessage)(nil)

// TCPMessage represents a message extracted from a TCP stream.
type TCPMessage struct {
	// Message contains the raw bytes of the message, delimiter included.
	Message []byte

	// MessageSize is the number of bytes of the message.
	MessageSize int

	// RemoteAddr is the address of the client that sent the message.
	RemoteAddr string
}

func newTCPMessage() *TCPMessage {
	return &TCPMessage{}
}

// Destroy cleans up the message.
func (tm *TCPMessage) Destroy() {}

// GetBytes returns the bytes of the message.
func (tm *TCPMessage) GetBytes() []byte {
	return tm.Message
}

//////////////
//  SOURCE  //
//////////////

var _ source[*TCPMessage] = (*tcpSource)(nil)

type tcpSource struct {
	tel *telemetry.Telemetry

	cfg *TCPConfig

	listener net.Listener

	stopCh chan struct{}

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
}

func newTCPSource() *tcpSource {
	return &tcpSource{
		stopCh: make(chan struct{}),
	}
}

func (ts *tcpSource) setTelemetry(tel *telemetry.Telemetry) {
	ts.tel = tel
}

func (ts *tcpSource) init(cfg *TCPConfig) error {
	ts.cfg = cfg

	parsedAddr, err := netip.ParseAddr(cfg.IPAddr)
	if err != nil {
		return err
	}

	addr := net.TCPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, cfg.Port))
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}

	ts.listener = listener

	ts.initMetrics()

	return nil
}

func (ts *tcpSource) initMetrics() {
	ts.tel.NewCounter("received_messages", func() int64 { return ts.receivedMessages.Load() })
	ts.tel.NewCounter("received_bytes", func() int64 { return ts.receivedBytes.Load() })
}

// run accepts connections and serves them one at a time. Serving a
// single connection keeps the output channel fed by a single producer.
func (ts *tcpSource) run(ctx context.Context, out sendPort[*TCPMessage]) {
	// Close the listener when the context is done or the source is
	// closed, to unblock Accept
	go func() {
		select {
		case <-ctx.Done():
		case <-ts.stopCh:
		}

		ts.listener.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ts.listener.Accept()
		if err != nil {
			// A closed listener means the source was asked to stop
			if errors.Is(err, net.ErrClosed) {
				return
			}

			ts.tel.LogError("failed to accept connection", err)
			continue
		}

		if !ts.handleConn(ctx, conn, out) {
			return
		}
	}
}

// handleConn reads the connection until it is closed or stalls.
// It reports whether the source should accept another connection.
func (ts *tcpSource) handleConn(ctx context.Context, conn net.Conn, out sendPort[*TCPMessage]) bool {
	defer conn.Close()

	// Channel to notify when the connection is closed normally
	connClosed := make(chan struct{})
	defer close(connClosed)

	// Close the connection when the context is done or the source is closed
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-ts.stopCh:
			conn.Close()
		case <-connClosed:
			// Connection closed normally
		}
	}()

	remoteAddr := conn.RemoteAddr().String()

	buf := make([]byte, tcpBufSize)

	// Preallocate the accumulator
	accBaseCap := 4 * tcpBufSize
	acc := make([]byte, 0, accBaseCap)

loop:
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		// Set the read deadline
		conn.SetReadDeadline(time.Now().Add(ts.cfg.ReadTimeout))

		// Read the TCP stream
		n, err := conn.Read(buf)
		if err != nil {
			// Check if the connection has been closed by the client,
			// if so, close the server connection
			if errors.Is(err, io.EOF) {
				return true
			}

			// Only the watcher goroutine closes the connection, so a
			// closed connection always means the source must stop
			if errors.Is(err, net.ErrClosed) {
				return false
			}

			// For any other error, close the server connection.
			// This is likely be caused by the read deadline being exceeded.
			ts.tel.LogError("failed to read connection", err)
			return true
		}

		// Append the new bytes to the accumulator
		acc = append(acc, buf[:n]...)

		for {
			accLen := len(acc)

			// If the accumulator is smaller than the delimiter,
			// continue reading the TCP stream
			if accLen < len(ts.cfg.Delimiter) {
				continue loop
			}

			// Get the length of the message
			msgLen := bytes.Index(acc, ts.cfg.Delimiter)
			totLen := msgLen + len(ts.cfg.Delimiter)

			if msgLen == -1 || accLen < totLen {
				// If the delimiter is not found or the accumulator is too small,
				// break the loop and continue reading the TCP stream
				break
			}

			// Extract the message
			rawMsg := acc[:totLen]

			// Handle the message and send it to the output channel
			msgOut := ts.handleMessage(ctx, rawMsg)
			msgOut.GetEnvelope().RemoteAddr = remoteAddr
			if err := out.Send(msgOut); err != nil {
				msgOut.Destroy()
				ts.tel.LogError("failed to send message to output channel", err)
				return false
			}

			// Remove the message from the accumulator
			acc = acc[totLen:]

			// Check if the accumulator should be reset
			if len(acc) == 0 && cap(acc) > accBaseCap {
				acc = make([]byte, 0, accBaseCap)
				break
			}
		}

		// Prevent accumulator from growing too large
		if len(acc) > ts.cfg.MaxMessageSize {
			ts.tel.LogWarn("message too large, closing connection")
			return true
		}
	}
}

func (ts *tcpSource) handleMessage(ctx context.Context, rawMsg []byte) *msg[*TCPMessage] {
	// Create the trace for the incoming message
	_, span := ts.tel.NewTrace(ctx, "receive TCP message")
	defer span.End()

	// Create the TCP message
	tcpMsg := newTCPMessage()

	// Extract the payload from the buffer
	msgSize := len(rawMsg)
	tcpMsg.MessageSize = msgSize
	tcpMsg.Message = make([]byte, msgSize)
	copy(tcpMsg.Message, rawMsg)

	msgOut := message.NewMessage(tcpMsg)
	msgOut.SetReceiveTime(time.Now())

	// Save the span into the message
	span.SetAttributes(attribute.Int("payload_size", msgSize))
	msgOut.SaveSpan(span)

	// Update metrics
	ts.receivedBytes.Add(int64(msgSize))
	ts.receivedMessages.Add(1)

	return msgOut
}

func (ts *tcpSource) close() {
	close(ts.stopCh)
}

/////////////
//  STAGE  //
/////////////

// TCPStage is an ingress stage that reads TCP connections and extracts messages.
type TCPStage struct {
	*stage[*TCPMessage, *TCPConfig]

	source *tcpSource
}

// NewTCPStage returns a new TCP ingress stage.
func NewTCPStage(out sendPort[*TCPMessage], cfg *TCPConfig) *TCPStage {
	source := newTCPSource()

	return &TCPStage{
		stage: newStage("tcp", source, out, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (s *TCPStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	return s.source.init(s.cfg)
}

// Close closes the stage.
func (s *TCPStage) Close() {
	// Unblock the source first, the base Close waits for it to return
	s.source.close()
	s.stage.Close()
}
