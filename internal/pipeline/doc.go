// Package pipeline wires a source, the correlator and the sinks together.
//
// Run starts three goroutines under one errgroup:
//
//	source     -> events channel (closed when the source returns)
//	correlator -> records channel (closed when events closes or ctx ends)
//	dispatcher -> every sink, in order, for each record
//
// Sink errors are logged and counted but never stop the pipeline. Sinks are
// closed once the records channel has been drained, so queued deliveries
// finish even after ctx is cancelled.
package pipeline
