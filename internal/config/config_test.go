package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/registry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "job", cfg.Correlator.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Correlator.JobTTL)
	assert.Equal(t, time.Duration(0), cfg.Correlator.EnrichmentWait)
	assert.Equal(t, time.Minute, cfg.Correlator.SweepInterval)
	assert.Equal(t, 1000, cfg.Correlator.BufferSize)
	assert.Equal(t, "salt/job", cfg.Classifier.JobPrefix)
	assert.Equal(t, "saf/grains", cfg.Classifier.GrainsPrefix)
	assert.Equal(t, "kafka", cfg.Source.Type)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Source.Kafka.Brokers)
	assert.Equal(t, "salt_jobs", cfg.Forward.Elasticsearch.Index)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
correlator:
  mode: state
  on_duplicate_start: ignore
  job_ttl: 2h
  enrichment_wait: 15m
classifier:
  functions: [state.apply, state.highstate]
source:
  type: redis
  redis:
    addr: redis:6379
    channel: events
forward:
  elasticsearch:
    enabled: true
    hosts: ["http://es:9200"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Source.Type)
	assert.Equal(t, "redis:6379", cfg.Source.Redis.Addr)
	assert.Equal(t, "events", cfg.Source.Redis.Channel)
	assert.True(t, cfg.Forward.Elasticsearch.Enabled)

	opts := cfg.CorrelatorOptions()
	assert.Equal(t, correlator.ModeState, opts.Mode)
	assert.Equal(t, registry.DuplicateIgnore, opts.DuplicateStart)
	assert.Equal(t, 2*time.Hour, opts.JobTTL)
	assert.Equal(t, 15*time.Minute, opts.EnrichmentWait)
	assert.Equal(t, []string{"state.apply", "state.highstate"}, opts.Classifier.Functions)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
correlator:
  mode: job
`)
	t.Setenv("SAF_CORRELATOR_MODE", "state")
	t.Setenv("SAF_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "state", cfg.Correlator.Mode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Source.Kafka.Brokers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.Correlator.Mode = "grains" },
			want:   "correlator.mode",
		},
		{
			name:   "unknown duplicate policy",
			mutate: func(c *Config) { c.Correlator.OnDuplicateStart = "merge" },
			want:   "correlator.on_duplicate_start",
		},
		{
			name:   "negative ttl",
			mutate: func(c *Config) { c.Correlator.JobTTL = -time.Second },
			want:   "correlator.job_ttl",
		},
		{
			name:   "unknown source",
			mutate: func(c *Config) { c.Source.Type = "zeromq" },
			want:   "source.type",
		},
		{
			name: "file source without path",
			mutate: func(c *Config) {
				c.Source.Type = "file"
			},
			want: "source.file.path",
		},
		{
			name:   "elasticsearch without hosts",
			mutate: func(c *Config) { c.Forward.Elasticsearch.Enabled = true },
			want:   "forward.elasticsearch.hosts",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Forward.Postgres.Enabled = true },
			want:   "forward.postgres.dsn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
