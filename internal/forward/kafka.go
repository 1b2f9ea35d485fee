package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const sinkKafka = "kafka"

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds the configuration for creating a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes record documents to a topic, keyed by job id so all
// returns of one job land in the same partition.
type KafkaSink struct {
	logger *zap.Logger
	topic  string
	writer messageWriter
}

// NewKafkaSink creates a KafkaSink backed by a kafka.Writer.
func NewKafkaSink(logger *zap.Logger, cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(logger, cfg.Topic, w), nil
}

func newKafkaSink(logger *zap.Logger, topic string, w messageWriter) *KafkaSink {
	return &KafkaSink{
		logger: logger.Named("kafka-sink"),
		topic:  topic,
		writer: w,
	}
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return sinkKafka }

// Start implements Sink. The writer batches internally, so there is nothing to launch.
func (k *KafkaSink) Start(_ context.Context) {
	k.logger.Info("Kafka sink started", zap.String("topic", k.topic))
}

// Send implements Sink.
func (k *KafkaSink) Send(ctx context.Context, rec types.ConsolidatedRecord) error {
	value, err := json.Marshal(Document(rec))
	if err != nil {
		sendTotal.WithLabelValues(sinkKafka, "error").Inc()
		return fmt.Errorf("marshal document: %w", err)
	}

	start := time.Now()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.JobID),
		Value: value,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		sendTotal.WithLabelValues(sinkKafka, "error").Inc()
		sendDuration.WithLabelValues(sinkKafka, "error").Observe(duration)
		return fmt.Errorf("write to topic %s: %w", k.topic, err)
	}
	sendTotal.WithLabelValues(sinkKafka, "success").Inc()
	sendDuration.WithLabelValues(sinkKafka, "success").Observe(duration)
	return nil
}

// Close implements Sink.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
