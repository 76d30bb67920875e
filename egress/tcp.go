package egress

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the TCP egress stage configuration.
const (
	DefaultTCPConfigDestIPAddr   = "127.0.0.1"
	DefaultTCPConfigDestPort     = 20_000
	DefaultTCPConfigWriteTimeout = 10 * time.Second
)

// TCPConfig structs contains the configuration for the TCP egress stage.
type TCPConfig struct {
	// IPAddr is the destination IP address.
	IPAddr string

	// Port is the destination port.
	Port uint16

	// WriteTimeout is the timeout for writing messages to the TCP connection.
	WriteTimeout time.Duration
}

// NewTCPConfig returns the default configuration for the TCP egress stage.
func NewTCPConfig() *TCPConfig {
	return &TCPConfig{
		IPAddr:       DefaultTCPConfigDestIPAddr,
		Port:         DefaultTCPConfigDestPort,
		WriteTimeout: DefaultTCPConfigWriteTimeout,
	}
}

// Validate checks the configuration.
func (c *TCPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultTCPConfigDestIPAddr)

	config.CheckNotNegative(ac, "WriteTimeout", &c.WriteTimeout, DefaultTCPConfigWriteTimeout)
	config.CheckNotZero(ac, "WriteTimeout", &c.WriteTimeout, DefaultTCPConfigWriteTimeout)
}

////////////
//  SINK  //
////////////

type tcpSink[T msgSer] struct {
	tel *telemetry.Telemetry

	conn *net.TCPConn

	writeTimeout time.Duration

	// Metrics
	deliveredBytes atomic.Int64
}

func newTCPSink[T msgSer]() *tcpSink[T] {
	return &tcpSink[T]{}
}

func (ts *tcpSink[T]) setTelemetry(tel *telemetry.Telemetry) {
	ts.tel = tel
}

func (ts *tcpSink[T]) init(cfg *TCPConfig) error {
	ts.writeTimeout = cfg.WriteTimeout

	// Parse the IP address
	parsedAddr, err := netip.ParseAddr(cfg.IPAddr)
	if err != nil {
		return err
	}
	addr := net.TCPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, cfg.Port))

	// Dial the TCP connection
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return err
	}
	ts.conn = conn

	ts.initMetrics()

	return nil
}

func (ts *tcpSink[T]) initMetrics() {
	ts.tel.NewCounter("delivered_bytes", func() int64 { return ts.deliveredBytes.Load() })
}

func (ts *tcpSink[T]) deliver(ctx context.Context, msgIn *msg[T]) error {
	_, span := ts.tel.NewTrace(ctx, "deliver TCP message")
	defer span.End()

	// Set the write timeout
	if err := ts.conn.SetWriteDeadline(time.Now().Add(ts.writeTimeout)); err != nil {
		return err
	}

	rawMsg := msgIn.GetEnvelope().GetBytes()

	deliveredBytes, err := ts.conn.Write(rawMsg)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("message_size", len(rawMsg)))

	// Update metrics
	ts.deliveredBytes.Add(int64(deliveredBytes))

	return nil
}

func (ts *tcpSink[T]) close(_ context.Context) error {
	return ts.conn.Close()
}

/////////////
//  STAGE  //
/////////////

// TCPStage is an egress stage that writes messages to a TCP connection.
type TCPStage[T msgSer] struct {
	*stage[T, *TCPConfig]

	sink *tcpSink[T]
}

// NewTCPStage returns a new TCP egress stage.
func NewTCPStage[T msgSer](in recvPort[T], cfg *TCPConfig) *TCPStage[T] {
	sink := newTCPSink[T]()

	return &TCPStage[T]{
		stage: newStage("tcp", sink, in, cfg),

		sink: sink,
	}
}

// Init initializes the stage.
func (s *TCPStage[T]) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	return s.sink.init(s.cfg)
}
