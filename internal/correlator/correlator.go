package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/classifier"
	"github.com/s0undt3ch/salt-analytics-framework/internal/enrichment"
	"github.com/s0undt3ch/salt-analytics-framework/internal/registry"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	defaultBufferSize    = 1000
	defaultSweepInterval = time.Minute
	defaultJobTTL        = 24 * time.Hour

	stateFunction = "state.apply"
)

var endOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Mode selects the correlation variant.
type Mode string

const (
	// ModeJob attaches grains and defers records until they are known.
	ModeJob Mode = "job"
	// ModeState emits on every return and never carries grains.
	ModeState Mode = "state"
)

// Options configures the Correlator.
type Options struct {
	Mode Mode

	// DuplicateStart applies when a start arrives for a tracked job id.
	// Empty picks the mode default: ignore for job, overwrite for state.
	DuplicateStart registry.DuplicatePolicy

	// JobTTL evicts jobs tracked for longer than this. Zero keeps them forever.
	JobTTL time.Duration

	// EnrichmentWait flushes deferred records without grains after this long.
	// Zero waits forever.
	EnrichmentWait time.Duration

	SweepInterval time.Duration
	BufferSize    int

	Classifier classifier.Options

	// Now overrides the wall clock used for TTL bookkeeping.
	Now func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Mode:          ModeJob,
		JobTTL:        defaultJobTTL,
		SweepInterval: defaultSweepInterval,
		BufferSize:    defaultBufferSize,
	}
}

// Stats reports container sizes.
type Stats struct {
	Mode                  Mode                     `json:"mode"`
	DuplicateStart        registry.DuplicatePolicy `json:"duplicateStart"`
	TrackedJobs           int                      `json:"trackedJobs"`
	OutstandingResponders int                      `json:"outstandingResponders"`
	PendingRecords        int                      `json:"pendingRecords"`
	PendingResponders     int                      `json:"pendingResponders"`
	EnrichedResponders    int                      `json:"enrichedResponders"`
}

// Correlator joins job lifecycle events into consolidated records.
type Correlator struct {
	logger     *zap.Logger
	opts       Options
	classifier *classifier.Classifier
	records    chan types.ConsolidatedRecord

	mu       sync.Mutex
	registry *registry.Registry
	store    *enrichment.Store
	pending  *enrichment.PendingSet
}

// New creates a new Correlator.
func New(logger *zap.Logger, opts Options) (*Correlator, error) {
	if opts.Mode == "" {
		opts.Mode = ModeJob
	}
	if opts.Mode != ModeJob && opts.Mode != ModeState {
		return nil, fmt.Errorf("unknown correlator mode %q", opts.Mode)
	}
	if _, err := registry.ParseDuplicatePolicy(string(opts.DuplicateStart)); err != nil {
		return nil, err
	}
	if opts.DuplicateStart == "" {
		opts.DuplicateStart = registry.DuplicateIgnore
		if opts.Mode == ModeState {
			opts.DuplicateStart = registry.DuplicateOverwrite
		}
	}
	if opts.Mode == ModeState && len(opts.Classifier.Functions) == 0 {
		opts.Classifier.Functions = []string{stateFunction}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.JobTTL < 0 || opts.EnrichmentWait < 0 {
		return nil, fmt.Errorf("job TTL and enrichment wait must not be negative")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Correlator{
		logger:     logger.Named("correlator"),
		opts:       opts,
		classifier: classifier.New(opts.Classifier),
		records:    make(chan types.ConsolidatedRecord, opts.BufferSize),
		registry:   registry.New(opts.DuplicateStart),
		store:      enrichment.NewStore(),
		pending:    enrichment.NewPendingSet(),
	}, nil
}

// Records returns the channel of consolidated records. It is closed when Start returns.
func (c *Correlator) Records() <-chan types.ConsolidatedRecord {
	return c.records
}

// Classifier returns the classifier used for raw events.
func (c *Correlator) Classifier() *classifier.Classifier {
	return c.classifier
}

// Start consumes raw events until ctx is cancelled or in is closed. Blocks.
func (c *Correlator) Start(ctx context.Context, in <-chan types.RawEvent) error {
	c.logger.Info("Starting correlator",
		zap.String("mode", string(c.opts.Mode)),
		zap.String("duplicate_start", string(c.opts.DuplicateStart)),
		zap.Duration("job_ttl", c.opts.JobTTL),
		zap.Duration("enrichment_wait", c.opts.EnrichmentWait),
	)
	defer close(c.records)

	var sweep <-chan time.Time
	if c.opts.JobTTL > 0 || c.opts.EnrichmentWait > 0 {
		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Correlator stopped")
			return nil
		case raw, ok := <-in:
			if !ok {
				c.logger.Info("Event source closed, correlator stopping")
				return nil
			}
			c.emit(ctx, c.ProcessRaw(raw))
		case <-sweep:
			c.emit(ctx, c.Sweep(c.opts.Now()))
		}
	}
}

// ProcessRaw classifies raw and processes the result.
func (c *Correlator) ProcessRaw(raw types.RawEvent) []types.ConsolidatedRecord {
	return c.Process(c.classifier.Classify(raw))
}

// Process applies one classified event and returns the records it completes.
// Safe for concurrent use; each call is applied atomically.
func (c *Correlator) Process(ev types.Event) []types.ConsolidatedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.updateGauges()

	switch e := ev.(type) {
	case types.JobStarted:
		c.handleStart(e)
		return nil
	case types.JobCompleted:
		return c.handleCompletion(e)
	case types.EnrichmentUpdated:
		return c.handleEnrichment(e)
	case types.Unrelated:
		eventsTotal.WithLabelValues(string(e.Kind()), "dropped").Inc()
		c.logger.Debug("Dropping unrelated event", zap.String("tag", e.Tag), zap.String("reason", e.Reason))
		return nil
	default:
		return nil
	}
}

func (c *Correlator) handleStart(e types.JobStarted) {
	start := types.JobStart{
		JobID:     e.JobID,
		StartTime: e.Timestamp,
		Function:  e.Function,
		Payload:   e.Payload,
	}
	if c.registry.OnStart(start, e.Responders, c.opts.Now()) {
		eventsTotal.WithLabelValues(string(e.Kind()), "tracked").Inc()
		c.logger.Debug("Tracking job",
			zap.String("jid", string(e.JobID)),
			zap.String("fun", e.Function),
			zap.Int("minions", len(e.Responders)),
		)
		return
	}
	eventsTotal.WithLabelValues(string(e.Kind()), "ignored").Inc()
	c.logger.Debug("Ignoring job start", zap.String("jid", string(e.JobID)))
}

func (c *Correlator) handleCompletion(e types.JobCompleted) []types.ConsolidatedRecord {
	start, ok := c.registry.OnResponderComplete(e.JobID, e.ResponderID)
	if !ok {
		eventsTotal.WithLabelValues(string(e.Kind()), "uncorrelated").Inc()
		c.logger.Debug("Dropping uncorrelated return",
			zap.String("jid", string(e.JobID)),
			zap.String("minion", string(e.ResponderID)),
		)
		return nil
	}
	if start.Remaining == 0 {
		c.logger.Debug("Job complete", zap.String("jid", string(e.JobID)))
	}

	rec := types.NewConsolidatedRecord(start, e.ResponderID, e.Timestamp, e.Payload)
	if c.opts.Mode == ModeState {
		eventsTotal.WithLabelValues(string(e.Kind()), "emitted").Inc()
		recordsTotal.WithLabelValues("immediate").Inc()
		return []types.ConsolidatedRecord{rec}
	}

	if attrs, known := c.store.Lookup(e.ResponderID); known {
		eventsTotal.WithLabelValues(string(e.Kind()), "emitted").Inc()
		recordsTotal.WithLabelValues("immediate").Inc()
		return []types.ConsolidatedRecord{rec.WithAttributes(attrs)}
	}

	c.pending.Defer(rec, c.opts.Now())
	eventsTotal.WithLabelValues(string(e.Kind()), "deferred").Inc()
	c.logger.Debug("Deferring record until grains arrive",
		zap.String("jid", string(e.JobID)),
		zap.String("minion", string(e.ResponderID)),
	)
	return nil
}

func (c *Correlator) handleEnrichment(e types.EnrichmentUpdated) []types.ConsolidatedRecord {
	if c.opts.Mode == ModeState {
		eventsTotal.WithLabelValues(string(e.Kind()), "ignored").Inc()
		return nil
	}

	c.store.Update(e.ResponderID, e.Attributes, c.opts.Now())
	released := c.pending.Release(e.ResponderID, e.Attributes)
	eventsTotal.WithLabelValues(string(e.Kind()), "stored").Inc()
	if len(released) > 0 {
		recordsTotal.WithLabelValues("released").Add(float64(len(released)))
		c.logger.Debug("Releasing deferred records",
			zap.String("minion", string(e.ResponderID)),
			zap.Int("count", len(released)),
		)
	}
	return released
}

// Sweep evicts expired jobs and flushes records that waited too long for
// grains. The flushed records are returned for emission.
func (c *Correlator) Sweep(now time.Time) []types.ConsolidatedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.updateGauges()

	if c.opts.JobTTL > 0 {
		evicted := c.registry.EvictOlderThan(now.Add(-c.opts.JobTTL))
		for _, job := range evicted {
			c.logger.Debug("Evicting incomplete job",
				zap.String("jid", string(job.JobID)),
				zap.Int("missing_minions", len(job.Expected)),
				zap.Time("tracked_at", job.TrackedAt),
			)
		}
		if len(evicted) > 0 {
			jobsEvictedTotal.Add(float64(len(evicted)))
			c.logger.Info("Evicted incomplete jobs", zap.Int("count", len(evicted)))
		}
	}

	if c.opts.EnrichmentWait <= 0 {
		return nil
	}
	flushed := c.pending.ExpireOlderThan(now.Add(-c.opts.EnrichmentWait))
	if len(flushed) > 0 {
		recordsTotal.WithLabelValues("flushed").Add(float64(len(flushed)))
		c.logger.Info("Flushing records without grains", zap.Int("count", len(flushed)))
	}
	return flushed
}

// Flush releases every deferred record without grains, regardless of how
// long it has waited. Used when no more events will arrive.
func (c *Correlator) Flush() []types.ConsolidatedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.updateGauges()

	flushed := c.pending.ExpireOlderThan(endOfTime)
	if len(flushed) > 0 {
		recordsTotal.WithLabelValues("flushed").Add(float64(len(flushed)))
		c.logger.Info("Flushing records without grains", zap.Int("count", len(flushed)))
	}
	return flushed
}

// emit pushes records to the output channel, blocking while it is full.
func (c *Correlator) emit(ctx context.Context, records []types.ConsolidatedRecord) {
	for _, rec := range records {
		select {
		case c.records <- rec:
		case <-ctx.Done():
			recordsTotal.WithLabelValues("dropped").Inc()
			c.logger.Warn("Correlator stopped before record was emitted",
				zap.String("jid", string(rec.JobID)),
				zap.String("minion", string(rec.ResponderID)),
			)
			return
		}
	}
}

// TrackedJob returns a snapshot of a tracked job.
func (c *Correlator) TrackedJob(jid types.JobID) (types.PendingJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Get(jid)
}

// Stats returns current container sizes.
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Mode:                  c.opts.Mode,
		DuplicateStart:        c.opts.DuplicateStart,
		TrackedJobs:           c.registry.Len(),
		OutstandingResponders: c.registry.Outstanding(),
		PendingRecords:        c.pending.Len(),
		PendingResponders:     len(c.pending.Responders()),
		EnrichedResponders:    c.store.Len(),
	}
}

// updateGauges must be called with mu held.
func (c *Correlator) updateGauges() {
	trackedJobs.Set(float64(c.registry.Len()))
	pendingRecords.Set(float64(c.pending.Len()))
	enrichmentEntries.Set(float64(c.store.Len()))
}
