package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/forward"
	"github.com/s0undt3ch/salt-analytics-framework/internal/source"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

func replayCmd() *cobra.Command {
	var flushPending bool

	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Correlate recorded events and print the records",
		Long: `Feed JSON-lines event files through a correlator configured like the
service and print every record to stdout. Files are processed in order; "-"
reads stdin. Nothing is dropped: events are processed synchronously.

Examples:
  # Replay a capture with the service config
  saf replay -c config.yaml events.jsonl

  # Emit records still waiting for grains at the end, as YAML
  saf replay --flush-pending -o yaml events.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args, flushPending)
		},
	}

	cmd.Flags().BoolVar(&flushPending, "flush-pending", false, "Emit records still waiting for grains, without grains, once input ends")

	return cmd
}

func runReplay(cmd *cobra.Command, files []string, flushPending bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	corr, err := correlator.New(logger, cfg.CorrelatorOptions())
	if err != nil {
		return err
	}
	sink, err := forward.NewWriterSink(logger, cmd.OutOrStdout(), outputFmt)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	emitted := 0
	emit := func(recs []types.ConsolidatedRecord) error {
		for _, rec := range recs {
			if err := sink.Send(ctx, rec); err != nil {
				return err
			}
			emitted++
		}
		return nil
	}

	for _, name := range files {
		if err := replayFile(ctx, logger, cmd.InOrStdin(), name, func(raw types.RawEvent) error {
			return emit(corr.ProcessRaw(raw))
		}); err != nil {
			return err
		}
	}

	if flushPending {
		if err := emit(corr.Flush()); err != nil {
			return err
		}
	}

	stats := corr.Stats()
	logger.Info("Replay finished",
		zap.Int("records", emitted),
		zap.Int("tracked_jobs", stats.TrackedJobs),
		zap.Int("pending_records", stats.PendingRecords),
	)
	return nil
}

func replayFile(ctx context.Context, logger *zap.Logger, stdin io.Reader, name string, fn func(types.RawEvent) error) error {
	var r io.Reader
	if name == "-" {
		r = stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		defer f.Close()
		r = f
	}
	return source.NewReaderSource(logger, name, r).Each(ctx, fn)
}
