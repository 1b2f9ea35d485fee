package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/pipeline"
	"github.com/s0undt3ch/salt-analytics-framework/internal/server"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the correlation service",
		Long: `Consume events from the configured source, correlate them and forward the
records to every enabled sink. A status server exposes /healthz, /readyz,
/metrics, /stats and /jobs/{jid}.

Examples:
  # Run with a config file
  saf run -c /etc/saf/config.yaml

  # Configure from the environment only
  SAF_SOURCE_TYPE=redis SAF_REDIS_ADDR=redis:6379 saf run`,
		Args: cobra.NoArgs,
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	corr, err := correlator.New(logger, cfg.CorrelatorOptions())
	if err != nil {
		return err
	}
	src, release, err := buildSource(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer release()
	sinks, err := buildSinks(ctx, logger, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	p := pipeline.New(logger, src, corr, sinks...)
	srv := server.New(corr, server.Options{Addr: cfg.HTTP.Addr, Ready: p.Running, Logger: logger})

	logger.Info("Starting saf",
		zap.String("version", version),
		zap.String("source", src.Name()),
		zap.Int("sinks", len(sinks)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		// A finite source ends the service once its records are delivered.
		defer cancel()
		return p.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("saf stopped with error", zap.Error(err))
		return err
	}
	logger.Info("saf stopped")
	return nil
}
