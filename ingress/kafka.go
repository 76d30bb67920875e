package ingress

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/message"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigBrokers = []string{"localhost:9092"}

// Default values for the Kafka ingress stage configuration.
const (
	DefaultKafkaConfigGroupID       = "group"
	DefaultKafkaConfigQueueCapacity = 100
	DefaultKafkaConfigMinBytes      = 1
	DefaultKafkaConfigMaxBytes      = 1 << 20
	DefaultKafkaConfigMaxWait       = 10 * time.Second
	DefaultKafkaConfigStartOffset   = kafka.FirstOffset
	DefaultKafkaConfigMaxAttempts   = 3
)

// KafkaConfig structs contains the configuration for the Kafka ingress stage.
type KafkaConfig struct {
	// The list of broker addresses used to connect to the kafka cluster.
	Brokers []string

	// GroupID holds the consumer group id.
	GroupID string

	// Topics holds the list of topics to consume from.
	Topics []string

	// The capacity of the internal message queue, defaults to 100 if none is
	// set.
	QueueCapacity int

	// MinBytes indicates to the broker the minimum batch size that the consumer
	// will accept.
	MinBytes int

	// MaxBytes indicates to the broker the maximum batch size that the consumer
	// will accept.
	MaxBytes int

	// Maximum amount of time to wait for new data to come when fetching batches
	// of messages from kafka.
	MaxWait time.Duration

	// StartOffset determines from whence the consumer group should begin
	// consuming when it finds a partition without a committed offset. If
	// non-zero, it must be set to one of FirstOffset or LastOffset.
	StartOffset int64

	// Limit of how many attempts to connect will be made before returning the error.
	MaxAttempts int
}

// NewKafkaConfig returns a default kafka config.
// There are NO default topics set.
func NewKafkaConfig(topics ...string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:       DefaultKafkaConfigBrokers,
		GroupID:       DefaultKafkaConfigGroupID,
		Topics:        topics,
		QueueCapacity: DefaultKafkaConfigQueueCapacity,
		MinBytes:      DefaultKafkaConfigMinBytes,
		MaxBytes:      DefaultKafkaConfigMaxBytes,
		MaxWait:       DefaultKafkaConfigMaxWait,
		StartOffset:   DefaultKafkaConfigStartOffset,
		MaxAttempts:   DefaultKafkaConfigMaxAttempts,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)

	config.CheckNotEmpty(ac, "GroupID", &c.GroupID, DefaultKafkaConfigGroupID)

	config.CheckNotNegative(ac, "QueueCapacity", &c.QueueCapacity, DefaultKafkaConfigQueueCapacity)
	config.CheckNotZero(ac, "QueueCapacity", &c.QueueCapacity, DefaultKafkaConfigQueueCapacity)
}

///////////////
//  MESSAGE  //
///////////////

var _ msgSer = (*KafkaMessage)(nil)

// KafkaMessage represents a message returned by the Kafka ingress stage.
type KafkaMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	Headers []kafka.Header
}

func newKafkaMessage() *KafkaMessage {
	return &KafkaMessage{}
}

// Destroy cleans up the message.
func (km *KafkaMessage) Destroy() {}

// GetBytes returns the bytes of the Kafka's message value.
func (km *KafkaMessage) GetBytes() []byte {
	return km.Value
}

//////////////
//  SOURCE  //
//////////////

var _ source[*KafkaMessage] = (*kafkaSource)(nil)

type kafkaSource struct {
	tel *telemetry.Telemetry

	reader *kafka.Reader

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
}

func newKafkaSource() *kafkaSource {
	return &kafkaSource{}
}

func (ks *kafkaSource) setTelemetry(tel *telemetry.Telemetry) {
	ks.tel = tel
}

func (ks *kafkaSource) init(readerCfg kafka.ReaderConfig) {
	ks.reader = kafka.NewReader(readerCfg)

	ks.initMetrics()
}

func (ks *kafkaSource) initMetrics() {
	ks.tel.NewCounter("received_bytes", func() int64 { return ks.receivedBytes.Load() })
	ks.tel.NewCounter("received_messages", func() int64 { return ks.receivedMessages.Load() })
}

func (ks *kafkaSource) run(ctx context.Context, out sendPort[*KafkaMessage]) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		kafkaMsg, err := ks.reader.ReadMessage(ctx)
		if err != nil {
			// A closed reader means the source was asked to stop
			if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
				return
			}

			ks.tel.LogError("failed to read message", err)
			continue
		}

		msgOut := ks.handleMessage(ctx, &kafkaMsg)
		if err := out.Send(msgOut); err != nil {
			msgOut.Destroy()
			ks.tel.LogError("failed to send message to output channel", err)
			return
		}

		ks.receivedMessages.Add(1)
	}
}

func (ks *kafkaSource) handleMessage(ctx context.Context, kafkaMsg *kafka.Message) *msg[*KafkaMessage] {
	if len(kafkaMsg.Headers) > 0 {
		headerCarrier := telemetry.NewKafkaHeaderCarrier(kafkaMsg.Headers)
		ctx = ks.tel.ExtractTrace(ctx, headerCarrier)
	}

	_, span := ks.tel.NewTrace(ctx, "handle kafka message")
	defer span.End()

	envelope := newKafkaMessage()

	envelope.Topic = kafkaMsg.Topic
	envelope.Partition = kafkaMsg.Partition
	envelope.Offset = kafkaMsg.Offset
	envelope.Key = kafkaMsg.Key
	envelope.Value = kafkaMsg.Value
	envelope.Headers = kafkaMsg.Headers

	msgRes := message.NewMessage(envelope)
	msgRes.SetReceiveTime(time.Now())

	valueSize := len(kafkaMsg.Value)

	span.SetAttributes(attribute.Int("value_size", valueSize))
	msgRes.SaveSpan(span)

	ks.receivedBytes.Add(int64(valueSize))

	return msgRes
}

func (ks *kafkaSource) close() {
	if err := ks.reader.Close(); err != nil {
		ks.tel.LogError("failed to close reader", err)
	}
}

/////////////
//  STAGE  //
/////////////

// KafkaStage is an ingress stage that reads messages from Kafka.
type KafkaStage struct {
	*stage[*KafkaMessage, *KafkaConfig]

	source *kafkaSource
}

// NewKafkaStage returns a new Kafka ingress stage.
func NewKafkaStage(out sendPort[*KafkaMessage], cfg *KafkaConfig) *KafkaStage {
	source := newKafkaSource()

	return &KafkaStage{
		stage: newStage("kafka", source, out, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (s *KafkaStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	s.source.init(kafka.ReaderConfig{
		Brokers:       s.cfg.Brokers,
		GroupID:       s.cfg.GroupID,
		GroupTopics:   s.cfg.Topics,
		QueueCapacity: s.cfg.QueueCapacity,
		MinBytes:      s.cfg.MinBytes,
		MaxBytes:      s.cfg.MaxBytes,
		MaxWait:       s.cfg.MaxWait,
		StartOffset:   s.cfg.StartOffset,
		MaxAttempts:   s.cfg.MaxAttempts,
	})

	return nil
}

// Close closes the stage.
func (s *KafkaStage) Close() {
	// Close the reader first to unblock the source,
	// the base Close waits for it to return
	s.source.close()
	s.stage.Close()
}
