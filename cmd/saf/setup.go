package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/config"
	"github.com/s0undt3ch/salt-analytics-framework/internal/forward"
	"github.com/s0undt3ch/salt-analytics-framework/internal/logging"
	"github.com/s0undt3ch/salt-analytics-framework/internal/source"
)

// loadConfig reads the config and builds the logger, applying --log-level.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// buildSource creates the configured source. The returned func releases
// resources the source does not own.
func buildSource(ctx context.Context, logger *zap.Logger, cfg *config.Config) (source.Source, func(), error) {
	noop := func() {}
	switch cfg.Source.Type {
	case "kafka":
		src, err := source.NewKafkaSource(logger, source.KafkaConfig{
			Brokers:     cfg.Source.Kafka.Brokers,
			Topic:       cfg.Source.Kafka.Topic,
			GroupID:     cfg.Source.Kafka.GroupID,
			StartOffset: cfg.Source.Kafka.StartOffset,
		})
		return src, noop, err
	case "redis":
		src, err := source.NewRedisSource(ctx, logger, source.RedisConfig{
			Addr:     cfg.Source.Redis.Addr,
			Password: cfg.Source.Redis.Password,
			DB:       cfg.Source.Redis.DB,
			Channel:  cfg.Source.Redis.Channel,
		})
		return src, noop, err
	case "file":
		f, err := os.Open(cfg.Source.File.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open event file: %w", err)
		}
		return source.NewReaderSource(logger, cfg.Source.File.Path, f), func() { _ = f.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown source %q", cfg.Source.Type)
	}
}

// buildSinks creates every enabled sink. With none enabled, records go to stdout.
func buildSinks(ctx context.Context, logger *zap.Logger, cfg *config.Config, stdout io.Writer) ([]forward.Sink, error) {
	var sinks []forward.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if es := cfg.Forward.Elasticsearch; es.Enabled {
		s, err := forward.NewElasticsearchSink(logger, forward.ElasticsearchConfig{
			Hosts:          es.Hosts,
			Index:          es.Index,
			Username:       es.Username,
			Password:       es.Password,
			TimeoutSeconds: es.TimeoutSeconds,
			Workers:        es.Workers,
			RatePerSecond:  es.RatePerSecond,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if k := cfg.Forward.Kafka; k.Enabled {
		s, err := forward.NewKafkaSink(logger, forward.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if pg := cfg.Forward.Postgres; pg.Enabled {
		s, err := forward.NewPostgresSink(ctx, logger, forward.PostgresConfig{DSN: pg.DSN, Table: pg.Table})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Forward.Stdout.Enabled || len(sinks) == 0 {
		if len(sinks) == 0 {
			logger.Warn("No sinks enabled, writing records to stdout")
		}
		s, err := forward.NewWriterSink(logger, stdout, forward.FormatJSON)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
