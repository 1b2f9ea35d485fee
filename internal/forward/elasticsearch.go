package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	defaultESTimeout    = 10 * time.Second
	defaultESWorkers    = 3
	defaultESBufferSize = 100
	defaultESIndex      = "salt_jobs"
	maxRetries          = 2

	sinkElasticsearch = "elasticsearch"
)

// retryStatuses are the HTTP statuses the client retries before giving up.
var retryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// esWork is an internal message sent to the worker pool.
type esWork struct {
	ctx context.Context
	id  string
	doc map[string]any
}

// ElasticsearchSink indexes records through the Elasticsearch document API.
type ElasticsearchSink struct {
	client  *elasticsearch.Client
	logger  *zap.Logger
	hosts   []string
	index   string
	timeout time.Duration
	workers int
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	sendCh chan esWork
	wg     sync.WaitGroup
}

// ElasticsearchConfig holds the configuration for creating an ElasticsearchSink.
type ElasticsearchConfig struct {
	Hosts          []string
	Index          string
	Username       string
	Password       string
	TimeoutSeconds int
	Workers        int
	// RatePerSecond caps outbound requests across all workers. Zero is unlimited.
	RatePerSecond float64
}

// NewElasticsearchSink creates an ElasticsearchSink. Returns an error if any host URL is invalid.
func NewElasticsearchSink(logger *zap.Logger, cfg ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("at least one elasticsearch host is required")
	}
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		u, err := url.Parse(h)
		if err != nil {
			return nil, fmt.Errorf("invalid elasticsearch host: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("elasticsearch host must use http or https scheme, got %q", u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("elasticsearch host must include a host")
		}
		hosts = append(hosts, strings.TrimSuffix(h, "/"))
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = defaultESTimeout
	}
	index := cfg.Index
	if index == "" {
		index = defaultESIndex
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultESWorkers
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := max(1, int(cfg.RatePerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     hosts,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Transport:     http.DefaultTransport.(*http.Transport).Clone(),
		RetryOnStatus: retryStatuses,
		MaxRetries:    maxRetries,
		RetryBackoff: func(attempt int) time.Duration {
			sendTotal.WithLabelValues(sinkElasticsearch, "retry").Inc()
			// Linear backoff: 1s, 2s.
			return time.Duration(attempt) * time.Second
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &ElasticsearchSink{
		client:  client,
		logger:  logger.Named("elasticsearch-sink"),
		hosts:   hosts,
		index:   index,
		timeout: timeout,
		workers: workers,
		limiter: limiter,
		sendCh:  make(chan esWork, defaultESBufferSize),
	}, nil
}

// Name implements Sink.
func (es *ElasticsearchSink) Name() string { return sinkElasticsearch }

// Start implements Sink. Launches background workers to drain the send channel.
func (es *ElasticsearchSink) Start(ctx context.Context) {
	for range es.workers {
		es.wg.Add(1)
		go es.worker(ctx)
	}
	es.logger.Info("Elasticsearch sink started",
		zap.Strings("hosts", redactAll(es.hosts)),
		zap.String("index", es.index),
		zap.Int("workers", es.workers),
	)
}

// Close stops accepting records and waits for queued ones to be delivered.
func (es *ElasticsearchSink) Close() error {
	es.mu.Lock()
	if !es.closed {
		es.closed = true
		close(es.sendCh)
	}
	es.mu.Unlock()
	es.wg.Wait()
	return nil
}

// Send implements Sink. Enqueues the record for async delivery, blocking
// while the queue is full.
func (es *ElasticsearchSink) Send(ctx context.Context, rec types.ConsolidatedRecord) error {
	es.mu.RLock()
	defer es.mu.RUnlock()
	if es.closed {
		return fmt.Errorf("elasticsearch sink closed")
	}

	work := esWork{ctx: ctx, id: uuid.NewString(), doc: Document(rec)}
	select {
	case es.sendCh <- work:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker drains the send channel and delivers documents.
// On context cancellation, it drains remaining buffered items before exiting.
func (es *ElasticsearchSink) worker(ctx context.Context) {
	defer es.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain remaining buffered items before exiting.
			for {
				select {
				case work, ok := <-es.sendCh:
					if !ok {
						return
					}
					if err := es.doSend(context.Background(), work); err != nil {
						es.logger.Warn("Elasticsearch send failed during shutdown drain", zap.Error(err))
					}
				default:
					return
				}
			}
		case work, ok := <-es.sendCh:
			if !ok {
				return
			}
			if es.limiter != nil {
				if err := es.limiter.Wait(ctx); err != nil {
					continue
				}
			}
			if err := es.doSend(work.ctx, work); err != nil {
				es.logger.Error("Elasticsearch send failed",
					zap.String("id", work.id),
					zap.Error(err),
				)
			}
		}
	}
}

// doSend indexes one document. Host rotation and retries happen in the client.
func (es *ElasticsearchSink) doSend(ctx context.Context, work esWork) error {
	body, err := json.Marshal(work.doc)
	if err != nil {
		sendTotal.WithLabelValues(sinkElasticsearch, "error").Inc()
		return fmt.Errorf("marshal document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	req := esapi.IndexRequest{
		Index:      es.index,
		DocumentID: work.id,
		Body:       bytes.NewReader(body),
	}
	start := time.Now()
	res, err := req.Do(ctx, es.client)
	duration := time.Since(start).Seconds()
	if err != nil {
		sendTotal.WithLabelValues(sinkElasticsearch, "error").Inc()
		sendDuration.WithLabelValues(sinkElasticsearch, "error").Observe(duration)
		return fmt.Errorf("index document: %w", err)
	}
	defer func() {
		// Drain and close body to reuse connections.
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()

	if res.IsError() {
		sendTotal.WithLabelValues(sinkElasticsearch, "error").Inc()
		sendDuration.WithLabelValues(sinkElasticsearch, "error").Observe(duration)
		return fmt.Errorf("elasticsearch returned HTTP %d", res.StatusCode)
	}
	sendTotal.WithLabelValues(sinkElasticsearch, "success").Inc()
	sendDuration.WithLabelValues(sinkElasticsearch, "success").Observe(duration)
	return nil
}

// RedactURL masks credentials in a URL for safe logging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	return u.Redacted()
}

func redactAll(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = RedactURL(u)
	}
	return out
}
