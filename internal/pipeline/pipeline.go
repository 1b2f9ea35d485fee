package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/forward"
	"github.com/s0undt3ch/salt-analytics-framework/internal/source"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const eventBufferSize = 256

// Pipeline moves events from one source through the correlator to the sinks.
type Pipeline struct {
	logger     *zap.Logger
	source     source.Source
	correlator *correlator.Correlator
	sinks      []forward.Sink
	running    atomic.Bool
}

// New creates a Pipeline.
func New(logger *zap.Logger, src source.Source, corr *correlator.Correlator, sinks ...forward.Sink) *Pipeline {
	return &Pipeline{
		logger:     logger.Named("pipeline"),
		source:     src,
		correlator: corr,
		sinks:      sinks,
	}
}

// Running reports whether Run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run blocks until the source is exhausted or ctx is cancelled, and every
// emitted record has been handed to the sinks.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	// Sinks outlive ctx so records already emitted are still delivered.
	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()
	for _, s := range p.sinks {
		s.Start(sinkCtx)
		p.logger.Info("Started sink", zap.String("sink", s.Name()))
	}

	events := make(chan types.RawEvent, eventBufferSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		if err := p.source.Run(gctx, events); err != nil {
			return fmt.Errorf("source %s: %w", p.source.Name(), err)
		}
		p.logger.Info("Source finished", zap.String("source", p.source.Name()))
		return nil
	})

	g.Go(func() error {
		return p.correlator.Start(gctx, events)
	})

	g.Go(func() error {
		for rec := range p.correlator.Records() {
			p.dispatch(sinkCtx, rec)
		}
		p.closeSinks()
		return nil
	})

	return g.Wait()
}

func (p *Pipeline) dispatch(ctx context.Context, rec types.ConsolidatedRecord) {
	for _, s := range p.sinks {
		if err := s.Send(ctx, rec); err != nil {
			dispatchTotal.WithLabelValues(s.Name(), "error").Inc()
			p.logger.Warn("Sink rejected record",
				zap.String("sink", s.Name()),
				zap.String("jid", string(rec.JobID)),
				zap.String("minion", string(rec.ResponderID)),
				zap.Error(err),
			)
			continue
		}
		dispatchTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

func (p *Pipeline) closeSinks() {
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Warn("Failed to close sink", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}
