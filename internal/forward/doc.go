// Package forward delivers consolidated records to external systems.
//
// # Contract
//
// Every destination implements Sink:
//
//	Name() string
//	Start(ctx context.Context)                                  // non-blocking
//	Send(ctx context.Context, rec types.ConsolidatedRecord) error
//	Close() error                                               // drains, then releases resources
//
// Sinks own their delivery: ElasticsearchSink queues to a worker pool and
// retries transient failures, KafkaSink and PostgresSink write synchronously,
// WriterSink encodes to an io.Writer.
//
// # Documents
//
// Document shapes a record for indexing: record fields (jid, minion_id,
// start_time, end_time, duration in seconds, grains when present) overlaid
// with the return payload, "return" always encoded as a JSON string, and
// "@timestamp" set to the job start time.
//
// # Metrics
//
//   - saf_forward_send_total (counter, labels: sink, status)
//   - saf_forward_send_duration_seconds (histogram, labels: sink, status)
package forward
