package source

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const sourceRedis = "redis"

// subscription is the subset of *redis.PubSub the source needs.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisConfig configures a RedisSource.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSource receives raw events published on a Redis channel. Pub/sub has
// no replay: events published while the source is down are lost.
type RedisSource struct {
	logger    *zap.Logger
	channel   string
	client    *redis.Client
	subscribe func(ctx context.Context) subscription
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(ctx context.Context, logger *zap.Logger, cfg RedisConfig) (*RedisSource, error) {
	if cfg.Channel == "" {
		return nil, fmt.Errorf("redis source requires a channel")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := newRedisSource(logger, cfg.Channel, func(ctx context.Context) subscription {
		return client.Subscribe(ctx, cfg.Channel)
	})
	s.client = client
	return s, nil
}

func newRedisSource(logger *zap.Logger, channel string, subscribe func(ctx context.Context) subscription) *RedisSource {
	return &RedisSource{
		logger:    logger.Named("redis-source"),
		channel:   channel,
		subscribe: subscribe,
	}
}

// Name implements Source.
func (r *RedisSource) Name() string { return sourceRedis }

// Run implements Source. go-redis reconnects the subscription on its own.
func (r *RedisSource) Run(ctx context.Context, out chan<- types.RawEvent) error {
	sub := r.subscribe(ctx)
	defer func() {
		_ = sub.Close()
		if r.client != nil {
			_ = r.client.Close()
		}
	}()
	r.logger.Info("Subscribed to salt events", zap.String("channel", r.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", r.channel)
			}
			raw, err := Decode([]byte(msg.Payload))
			if err != nil {
				messagesTotal.WithLabelValues(sourceRedis, "malformed").Inc()
				r.logger.Debug("Skipping malformed message", zap.Error(err))
				continue
			}
			messagesTotal.WithLabelValues(sourceRedis, "decoded").Inc()
			if err := deliver(ctx, out, raw); err != nil {
				return nil
			}
		}
	}
}
