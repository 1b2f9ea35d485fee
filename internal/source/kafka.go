package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	sourceKafka = "kafka"

	defaultRetryInterval    = time.Second
	defaultMaxRetryInterval = time.Minute
)

// messageReader is the subset of *kafka.Reader the source needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// StartOffset applies when the group has no committed offset: "earliest" or "latest".
	StartOffset string
}

// KafkaSource consumes raw events from a topic as part of a consumer group.
// Offsets are committed once the event has been handed off.
type KafkaSource struct {
	logger           *zap.Logger
	topic            string
	reader           messageReader
	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// NewKafkaSource creates a KafkaSource backed by a kafka.Reader.
func NewKafkaSource(logger *zap.Logger, cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source requires brokers and topic")
	}
	startOffset, err := parseStartOffset(cfg.StartOffset)
	if err != nil {
		return nil, err
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: startOffset,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	})
	return newKafkaSource(logger, cfg.Topic, r), nil
}

func newKafkaSource(logger *zap.Logger, topic string, r messageReader) *KafkaSource {
	return &KafkaSource{
		logger:           logger.Named("kafka-source"),
		topic:            topic,
		reader:           r,
		retryInterval:    defaultRetryInterval,
		maxRetryInterval: defaultMaxRetryInterval,
	}
}

func parseStartOffset(s string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "earliest":
		return kafka.FirstOffset, nil
	case "latest":
		return kafka.LastOffset, nil
	default:
		return 0, fmt.Errorf("unknown kafka start offset %q (want earliest or latest)", s)
	}
}

// Name implements Source.
func (k *KafkaSource) Name() string { return sourceKafka }

// Run implements Source. Transport errors back off exponentially and retry.
func (k *KafkaSource) Run(ctx context.Context, out chan<- types.RawEvent) error {
	defer func() {
		if err := k.reader.Close(); err != nil {
			k.logger.Warn("Failed to close kafka reader", zap.Error(err))
		}
	}()
	k.logger.Info("Consuming salt events", zap.String("topic", k.topic))

	retry := k.retryInterval
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			reconnectsTotal.WithLabelValues(sourceKafka).Inc()
			k.logger.Warn("Kafka fetch failed", zap.Error(err), zap.Duration("retry_in", retry))
			if !sleep(ctx, retry) {
				return nil
			}
			retry = backoff(retry, k.maxRetryInterval)
			continue
		}
		retry = k.retryInterval

		raw, err := Decode(msg.Value)
		if err != nil {
			messagesTotal.WithLabelValues(sourceKafka, "malformed").Inc()
			k.logger.Debug("Skipping malformed message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else {
			messagesTotal.WithLabelValues(sourceKafka, "decoded").Inc()
			if _, ok := raw.Data["_stamp"]; !ok && raw.Stamp.IsZero() {
				raw.Stamp = msg.Time
			}
			if err := deliver(ctx, out, raw); err != nil {
				// Not committed; redelivered to the group after restart.
				return nil
			}
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			k.logger.Warn("Kafka commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}
