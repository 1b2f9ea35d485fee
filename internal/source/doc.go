// Package source reads raw Salt events from a transport and hands them to the
// correlator.
//
// # Contract
//
//	Name() string
//	Run(ctx context.Context, out chan<- types.RawEvent) error // blocks
//
// Run never closes out; the caller owns the channel. A nil return means the
// source is exhausted (ReaderSource at EOF) or ctx was cancelled.
//
// Messages are decoded with Decode, which accepts either the JSON envelope
// {"tag": ..., "data": {...}} or Salt's packed form "<tag>\n\n<json data>".
// Undecodable messages are logged at debug, counted and skipped.
//
// # Metrics
//
//   - saf_source_messages_total (counter, labels: source, status)
//   - saf_source_reconnects_total (counter, labels: source)
package source
