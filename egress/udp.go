package egress

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP egress stage configuration.
const (
	DefaultUDPConfigDestIPAddr = "127.0.0.1"
	DefaultUDPConfigDestPort   = 20_000
)

// UDPConfig structs contains the configuration for the UDP egress stage.
type UDPConfig struct {
	// IPAddr is the destination IP address.
	IPAddr string

	// Port is the destination port.
	Port uint16
}

// NewUDPConfig returns the default configuration for the UDP egress stage.
func NewUDPConfig() *UDPConfig {
	return &UDPConfig{
		IPAddr: DefaultUDPConfigDestIPAddr,
		Port:   DefaultUDPConfigDestPort,
	}
}

// Validate checks the configuration.
func (c *UDPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultUDPConfigDestIPAddr)
}

////////////
//  SINK  //
////////////

type udpSink[T msgSer] struct {
	tel *telemetry.Telemetry

	conn *net.UDPConn

	// Metrics
	deliveredBytes atomic.Int64
}

func newUDPSink[T msgSer]() *udpSink[T] {
	return &udpSink[T]{}
}

func (us *udpSink[T]) setTelemetry(tel *telemetry.Telemetry) {
	us.tel = tel
}

func (us *udpSink[T]) init(cfg *UDPConfig) error {
	// Parse the IP address
	parsedAddr, err := netip.ParseAddr(cfg.IPAddr)
	if err != nil {
		return err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, cfg.Port))

	// Dial the UDP connection
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}
	us.conn = conn

	us.initMetrics()

	return nil
}

func (us *udpSink[T]) initMetrics() {
	us.tel.NewCounter("delivered_bytes", func() int64 { return us.deliveredBytes.Load() })
}

func (us *udpSink[T]) deliver(ctx context.Context, msgIn *msg[T]) error {
	_, span := us.tel.NewTrace(ctx, "deliver UDP message")
	defer span.End()

	payload := msgIn.GetEnvelope().GetBytes()

	deliveredBytes, err := us.conn.Write(payload)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("payload_size", len(payload)))

	// Update metrics
	us.deliveredBytes.Add(int64(deliveredBytes))

	return nil
}

func (us *udpSink[T]) close(_ context.Context) error {
	return us.conn.Close()
}

/////////////
//  STAGE  //
/////////////

// UDPStage is an egress stage that sends UDP datagrams.
type UDPStage[T msgSer] struct {
	*stage[T, *UDPConfig]

	sink *udpSink[T]
}

// NewUDPStage returns a new UDP egress stage.
func NewUDPStage[T msgSer](in recvPort[T], cfg *UDPConfig) *UDPStage[T] {
	sink := newUDPSink[T]()

	return &UDPStage[T]{
		stage: newStage("udp", sink, in, cfg),

		sink: sink,
	}
}

// Init initializes the stage.
func (s *UDPStage[T]) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	return s.sink.init(s.cfg)
}
