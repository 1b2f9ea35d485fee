package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	sinkPostgres         = "postgres"
	defaultPostgresTable = "job_returns"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// execer is the subset of *pgxpool.Pool the sink needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresConfig holds the configuration for creating a PostgresSink.
type PostgresConfig struct {
	DSN   string
	Table string
}

// PostgresSink stores one row per (jid, minion_id). Replays of the same
// return are ignored.
type PostgresSink struct {
	logger *zap.Logger
	db     execer
	close  func()
	table  string
	insert string
}

// NewPostgresSink connects to Postgres and ensures the table exists.
func NewPostgresSink(ctx context.Context, logger *zap.Logger, cfg PostgresConfig) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := newPostgresSink(logger, pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.close = pool.Close
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresSink(logger *zap.Logger, db execer, table string) (*PostgresSink, error) {
	if table == "" {
		table = defaultPostgresTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid postgres table name %q", table)
	}
	quoted := pgx.Identifier{table}.Sanitize()
	return &PostgresSink{
		logger: logger.Named("postgres-sink"),
		db:     db,
		table:  quoted,
		insert: fmt.Sprintf(`INSERT INTO %s
  (jid, minion_id, fun, start_time, end_time, duration_seconds, enriched, grains, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (jid, minion_id) DO NOTHING`, quoted),
	}, nil
}

func (p *PostgresSink) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  jid              TEXT NOT NULL,
  minion_id        TEXT NOT NULL,
  fun              TEXT NOT NULL DEFAULT '',
  start_time       TIMESTAMPTZ NOT NULL,
  end_time         TIMESTAMPTZ NOT NULL,
  duration_seconds DOUBLE PRECISION NOT NULL,
  enriched         BOOLEAN NOT NULL DEFAULT FALSE,
  grains           JSONB,
  payload          JSONB NOT NULL,
  PRIMARY KEY (jid, minion_id)
)`, p.table)
	if _, err := p.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Name implements Sink.
func (p *PostgresSink) Name() string { return sinkPostgres }

// Start implements Sink.
func (p *PostgresSink) Start(_ context.Context) {
	p.logger.Info("Postgres sink started", zap.String("table", p.table))
}

// Send implements Sink.
func (p *PostgresSink) Send(ctx context.Context, rec types.ConsolidatedRecord) error {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		sendTotal.WithLabelValues(sinkPostgres, "error").Inc()
		return fmt.Errorf("marshal payload: %w", err)
	}
	var grainsJSON []byte
	if rec.Attributes != nil {
		if grainsJSON, err = json.Marshal(rec.Attributes); err != nil {
			sendTotal.WithLabelValues(sinkPostgres, "error").Inc()
			return fmt.Errorf("marshal grains: %w", err)
		}
	}

	start := time.Now()
	tag, err := p.db.Exec(ctx, p.insert,
		string(rec.JobID),
		string(rec.ResponderID),
		rec.Function,
		rec.StartTime,
		rec.EndTime,
		rec.Duration.Seconds(),
		rec.Enriched,
		grainsJSON,
		payloadJSON,
	)
	duration := time.Since(start).Seconds()
	if err != nil {
		sendTotal.WithLabelValues(sinkPostgres, "error").Inc()
		sendDuration.WithLabelValues(sinkPostgres, "error").Observe(duration)
		return fmt.Errorf("insert into %s: %w", p.table, err)
	}
	if tag.RowsAffected() == 0 {
		sendTotal.WithLabelValues(sinkPostgres, "duplicate").Inc()
		p.logger.Debug("Record already stored",
			zap.String("jid", string(rec.JobID)),
			zap.String("minion", string(rec.ResponderID)))
	} else {
		sendTotal.WithLabelValues(sinkPostgres, "success").Inc()
	}
	sendDuration.WithLabelValues(sinkPostgres, "success").Observe(duration)
	return nil
}

// Close implements Sink.
func (p *PostgresSink) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
