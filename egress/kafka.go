package egress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/segmentio/kafka-go"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigDestBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigDestBrokers = []string{"localhost:9092"}

// Default values for the Kafka egress stage configuration.
const (
	DefaultKafkaConfigDestMaxAttempts  = 10
	DefaultKafkaConfigBatchSize        = 100
	DefaultKafkaConfigBatchBytes       = 1048576
	DefaultKafkaConfigBatchTimeout     = time.Second
	DefaultKafkaConfigWriteTimeout     = 10 * time.Second
	DefaultKafkaConfigRequiredAcks     = kafka.RequireNone
	DefaultKafkaConfigAsync            = true
	DefaultKafkaConfigAutoCreateTopics = true
)

// KafkaConfig structs contains the configuration for the Kafka egress stage.
type KafkaConfig struct {
	// A list of Kafka brokers to connect to.
	Brokers []string

	// The balancer used to distribute messages across partitions.
	// If nil, RoundRobin is used.
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	MaxAttempts int

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	BatchSize int

	// Limit the maximum size of a request in bytes before being sent to
	// a partition.
	BatchBytes int64

	// Time limit on how often incomplete message batches will be flushed to
	// kafka.
	BatchTimeout time.Duration

	// Timeout for write operation performed by the Writer.
	WriteTimeout time.Duration

	// Number of acknowledges from partition replicas required before receiving
	// a response to a produce request.
	RequiredAcks kafka.RequiredAcks

	// Setting this flag to true causes the WriteMessages method to never block.
	// It also means that errors are ignored since the caller will not receive
	// the returned value.
	Async bool

	// Compression set the compression codec to be used to compress messages.
	Compression kafka.Compression

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	AllowAutoTopicCreation bool
}

// NewKafkaConfig returns a default Kafka egress config.
func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:                DefaultKafkaConfigDestBrokers,
		Balancer:               &kafka.RoundRobin{},
		MaxAttempts:            DefaultKafkaConfigDestMaxAttempts,
		BatchSize:              DefaultKafkaConfigBatchSize,
		BatchBytes:             DefaultKafkaConfigBatchBytes,
		BatchTimeout:           DefaultKafkaConfigBatchTimeout,
		WriteTimeout:           DefaultKafkaConfigWriteTimeout,
		RequiredAcks:           DefaultKafkaConfigRequiredAcks,
		Async:                  DefaultKafkaConfigAsync,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: DefaultKafkaConfigAutoCreateTopics,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigDestBrokers)

	config.CheckNotNegative(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigDestMaxAttempts)
	config.CheckNotZero(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigDestMaxAttempts)

	config.CheckNotNegative(ac, "BatchSize", &c.BatchSize, DefaultKafkaConfigBatchSize)
	config.CheckNotZero(ac, "BatchSize", &c.BatchSize, DefaultKafkaConfigBatchSize)
}

///////////////
//  MESSAGE  //
///////////////

var _ msgEnv = (*KafkaMessage)(nil)

// KafkaMessage represents the message used by the Kafka egress stage.
type KafkaMessage struct {
	// Topic is the Kafka topic.
	Topic string
	// Key is the key of the Kafka message.
	Key []byte
	// Value is the value associated to the key.
	Value []byte

	headers []kafka.Header
}

// Destroy cleans up the message.
func (km *KafkaMessage) Destroy() {}

// AddHeader adds a new Kafka header to the message.
func (km *KafkaMessage) AddHeader(key string, value []byte) {
	km.headers = append(km.headers, kafka.Header{
		Key:   key,
		Value: value,
	})
}

////////////
//  SINK  //
////////////

type kafkaSink struct {
	tel *telemetry.Telemetry

	writer *kafka.Writer

	// Metrics
	deliveredBytes atomic.Int64
}

func newKafkaSink() *kafkaSink {
	return &kafkaSink{}
}

func (ks *kafkaSink) setTelemetry(tel *telemetry.Telemetry) {
	ks.tel = tel
}

func (ks *kafkaSink) init(writer *kafka.Writer) {
	ks.writer = writer

	ks.initMetrics()
}

func (ks *kafkaSink) initMetrics() {
	ks.tel.NewCounter("delivered_bytes", func() int64 { return ks.deliveredBytes.Load() })
}

func (ks *kafkaSink) deliver(ctx context.Context, msgIn *msg[*KafkaMessage]) error {
	ctx, span := ks.tel.NewTrace(ctx, "deliver kafka message")
	defer span.End()

	kafkaMsgIn := msgIn.GetEnvelope()

	// Create the header that carries the trace and eventual user defined headers
	headerCarrier := telemetry.NewKafkaHeaderCarrier(kafkaMsgIn.headers)

	// Inject the trace
	ks.tel.InjectTrace(ctx, headerCarrier)

	// Create the message to be written
	kafkaMsg := kafka.Message{
		Topic: kafkaMsgIn.Topic,
		Key:   kafkaMsgIn.Key,
		Value: kafkaMsgIn.Value,

		Headers: headerCarrier.Headers(),
	}

	// Write the message to kafka
	if err := ks.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return err
	}

	valueSize := len(kafkaMsgIn.Value)
	span.SetAttributes(attribute.Int("value_size", valueSize))

	// Update metrics
	ks.deliveredBytes.Add(int64(valueSize))

	return nil
}

func (ks *kafkaSink) close(_ context.Context) error {
	return ks.writer.Close()
}

/////////////
//  STAGE  //
/////////////

// KafkaStage is an egress stage that writes messages to Kafka.
type KafkaStage struct {
	*stage[*KafkaMessage, *KafkaConfig]

	sink *kafkaSink
}

// NewKafkaStage returns a new Kafka egress stage.
func NewKafkaStage(in recvPort[*KafkaMessage], cfg *KafkaConfig) *KafkaStage {
	sink := newKafkaSink()

	return &KafkaStage{
		stage: newStage("kafka", sink, in, cfg),

		sink: sink,
	}
}

// Init initializes the stage.
func (s *KafkaStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	s.sink.init(&kafka.Writer{
		Addr:                   kafka.TCP(s.cfg.Brokers...),
		Balancer:               s.cfg.Balancer,
		MaxAttempts:            s.cfg.MaxAttempts,
		BatchSize:              s.cfg.BatchSize,
		BatchBytes:             s.cfg.BatchBytes,
		BatchTimeout:           s.cfg.BatchTimeout,
		WriteTimeout:           s.cfg.WriteTimeout,
		RequiredAcks:           s.cfg.RequiredAcks,
		Async:                  s.cfg.Async,
		Compression:            s.cfg.Compression,
		AllowAutoTopicCreation: s.cfg.AllowAutoTopicCreation,
	})

	return nil
}
