package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/s0undt3ch/salt-analytics-framework/internal/classifier"
	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/registry"
)

// Config is the service configuration, read from YAML with SAF_* env overrides.
type Config struct {
	Log        Log        `yaml:"log"`
	HTTP       HTTP       `yaml:"http"`
	Correlator Correlator `yaml:"correlator"`
	Classifier Classifier `yaml:"classifier"`
	Source     Source     `yaml:"source"`
	Forward    Forward    `yaml:"forward"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level" env:"SAF_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"SAF_LOG_FORMAT" env-default:"json"`
}

// HTTP configures the health, metrics and stats listener.
type HTTP struct {
	Addr string `yaml:"addr" env:"SAF_HTTP_ADDR" env-default:":8080"`
}

// Correlator configures the correlation engine. An empty OnDuplicateStart
// uses the mode's default policy.
type Correlator struct {
	Mode             string        `yaml:"mode" env:"SAF_CORRELATOR_MODE" env-default:"job"`
	OnDuplicateStart string        `yaml:"on_duplicate_start" env:"SAF_CORRELATOR_ON_DUPLICATE_START"`
	JobTTL           time.Duration `yaml:"job_ttl" env:"SAF_CORRELATOR_JOB_TTL" env-default:"24h"`
	EnrichmentWait   time.Duration `yaml:"enrichment_wait" env:"SAF_CORRELATOR_ENRICHMENT_WAIT" env-default:"0s"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SAF_CORRELATOR_SWEEP_INTERVAL" env-default:"1m"`
	BufferSize       int           `yaml:"buffer_size" env:"SAF_CORRELATOR_BUFFER_SIZE" env-default:"1000"`
}

// Classifier configures tag prefixes and the function allow-list.
type Classifier struct {
	JobPrefix    string   `yaml:"job_prefix" env:"SAF_CLASSIFIER_JOB_PREFIX" env-default:"salt/job"`
	GrainsPrefix string   `yaml:"grains_prefix" env:"SAF_CLASSIFIER_GRAINS_PREFIX" env-default:"saf/grains"`
	Functions    []string `yaml:"functions" env:"SAF_CLASSIFIER_FUNCTIONS" env-separator:","`
}

// Source selects and configures where raw events come from.
type Source struct {
	Type  string      `yaml:"type" env:"SAF_SOURCE_TYPE" env-default:"kafka"`
	Kafka KafkaSource `yaml:"kafka"`
	Redis RedisSource `yaml:"redis"`
	File  FileSource  `yaml:"file"`
}

// KafkaSource consumes raw events from a Kafka topic as a consumer group.
type KafkaSource struct {
	Brokers     []string `yaml:"brokers" env:"SAF_KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic       string   `yaml:"topic" env:"SAF_KAFKA_TOPIC" env-default:"salt-events"`
	GroupID     string   `yaml:"group_id" env:"SAF_KAFKA_GROUP_ID" env-default:"saf-correlator"`
	StartOffset string   `yaml:"start_offset" env:"SAF_KAFKA_START_OFFSET" env-default:"earliest"`
}

// RedisSource subscribes to a Redis pub/sub channel.
type RedisSource struct {
	Addr     string `yaml:"addr" env:"SAF_REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"SAF_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SAF_REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"SAF_REDIS_CHANNEL" env-default:"salt/events"`
}

// FileSource reads JSON-lines events from a file.
type FileSource struct {
	Path string `yaml:"path" env:"SAF_FILE_PATH"`
}

// Forward configures the record sinks. Any number may be enabled.
type Forward struct {
	Elasticsearch Elasticsearch `yaml:"elasticsearch"`
	Kafka         KafkaForward  `yaml:"kafka"`
	Postgres      Postgres      `yaml:"postgres"`
	Stdout        Stdout        `yaml:"stdout"`
}

// Elasticsearch configures the Elasticsearch document sink.
type Elasticsearch struct {
	Enabled        bool     `yaml:"enabled" env:"SAF_ES_ENABLED"`
	Hosts          []string `yaml:"hosts" env:"SAF_ES_HOSTS" env-separator:","`
	Index          string   `yaml:"index" env:"SAF_ES_INDEX" env-default:"salt_jobs"`
	Username       string   `yaml:"username" env:"SAF_ES_USERNAME"`
	Password       string   `yaml:"password" env:"SAF_ES_PASSWORD"`
	TimeoutSeconds int      `yaml:"timeout" env:"SAF_ES_TIMEOUT" env-default:"10"`
	Workers        int      `yaml:"workers" env:"SAF_ES_WORKERS" env-default:"3"`
	RatePerSecond  float64  `yaml:"rate_per_second" env:"SAF_ES_RATE_PER_SECOND" env-default:"0"`
}

// KafkaForward publishes records to a Kafka topic keyed by job id.
type KafkaForward struct {
	Enabled bool     `yaml:"enabled" env:"SAF_KAFKA_FORWARD_ENABLED"`
	Brokers []string `yaml:"brokers" env:"SAF_KAFKA_FORWARD_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"SAF_KAFKA_FORWARD_TOPIC" env-default:"salt-job-returns"`
}

// Postgres configures the PostgreSQL table sink.
type Postgres struct {
	Enabled bool   `yaml:"enabled" env:"SAF_POSTGRES_ENABLED"`
	DSN     string `yaml:"dsn" env:"SAF_POSTGRES_DSN"`
	Table   string `yaml:"table" env:"SAF_POSTGRES_TABLE" env-default:"job_returns"`
}

// Stdout writes records to standard output.
type Stdout struct {
	Enabled bool `yaml:"enabled" env:"SAF_STDOUT_ENABLED"`
}

// Load reads path if it exists, then applies env overrides. An empty path
// reads env only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cleanenv cannot.
func (c *Config) Validate() error {
	var errs []error

	switch correlator.Mode(c.Correlator.Mode) {
	case correlator.ModeJob, correlator.ModeState:
	default:
		errs = append(errs, fmt.Errorf("correlator.mode: unknown mode %q", c.Correlator.Mode))
	}
	if _, err := registry.ParseDuplicatePolicy(c.Correlator.OnDuplicateStart); err != nil {
		errs = append(errs, fmt.Errorf("correlator.on_duplicate_start: %w", err))
	}
	if c.Correlator.JobTTL < 0 {
		errs = append(errs, errors.New("correlator.job_ttl: must not be negative"))
	}
	if c.Correlator.EnrichmentWait < 0 {
		errs = append(errs, errors.New("correlator.enrichment_wait: must not be negative"))
	}

	switch c.Source.Type {
	case "kafka":
		if len(c.Source.Kafka.Brokers) == 0 || c.Source.Kafka.Topic == "" {
			errs = append(errs, errors.New("source.kafka: brokers and topic are required"))
		}
	case "redis":
		if c.Source.Redis.Channel == "" {
			errs = append(errs, errors.New("source.redis.channel: required"))
		}
	case "file":
		if c.Source.File.Path == "" {
			errs = append(errs, errors.New("source.file.path: required"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.type: unknown source %q", c.Source.Type))
	}

	if c.Forward.Elasticsearch.Enabled && len(c.Forward.Elasticsearch.Hosts) == 0 {
		errs = append(errs, errors.New("forward.elasticsearch.hosts: required when enabled"))
	}
	if c.Forward.Kafka.Enabled && len(c.Forward.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("forward.kafka.brokers: required when enabled"))
	}
	if c.Forward.Postgres.Enabled && c.Forward.Postgres.DSN == "" {
		errs = append(errs, errors.New("forward.postgres.dsn: required when enabled"))
	}

	return errors.Join(errs...)
}

// CorrelatorOptions converts the config into correlator options.
func (c *Config) CorrelatorOptions() correlator.Options {
	return correlator.Options{
		Mode:           correlator.Mode(c.Correlator.Mode),
		DuplicateStart: registry.DuplicatePolicy(c.Correlator.OnDuplicateStart),
		JobTTL:         c.Correlator.JobTTL,
		EnrichmentWait: c.Correlator.EnrichmentWait,
		SweepInterval:  c.Correlator.SweepInterval,
		BufferSize:     c.Correlator.BufferSize,
		Classifier: classifier.Options{
			JobPrefix:    c.Classifier.JobPrefix,
			GrainsPrefix: c.Classifier.GrainsPrefix,
			Functions:    c.Classifier.Functions,
		},
	}
}
