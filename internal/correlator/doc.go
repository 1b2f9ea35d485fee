// Package correlator joins Salt job start, job return and grains events into
// one consolidated record per (job, minion).
//
// # Contract
//
// The Correlator:
//  1. Receives raw events from a source channel and classifies them
//  2. On a job start, tracks the job and its expected minions
//  3. On a job return, builds a ConsolidatedRecord from the tracked start
//  4. In job mode, attaches the minion's grains, or defers the record until
//     grains for that minion arrive
//  5. Emits records to an output channel
//
// Returns for untracked jobs or unexpected minions are dropped silently. They
// are counted in saf_correlator_events_total and logged at debug level.
//
// # Modes
//
//	job    records carry grains and wait for them (duplicate starts ignored)
//	state  records never carry grains, only state.apply is tracked
//	       (duplicate starts overwrite)
//
// # Concurrency
//
// One mutex guards the registry, the grains store and the pending set. Each
// event is processed under it from start to finish. Emission blocks while the
// output channel is full, which stalls the event loop and the source behind it.
//
// # Eviction
//
// JobTTL bounds how long an incomplete job is tracked. EnrichmentWait bounds
// how long a record waits for grains; when it elapses the record is emitted
// with empty grains. Both are checked every SweepInterval. Zero disables.
// Flush emits every waiting record the same way, regardless of age.
//
// # Constructor
//
//	func New(logger *zap.Logger, opts Options) (*Correlator, error)
//	func (c *Correlator) Start(ctx context.Context, in <-chan types.RawEvent) error  // blocking
//	func (c *Correlator) Records() <-chan types.ConsolidatedRecord
package correlator
