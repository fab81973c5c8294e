package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"govscope/internal/config"
	"govscope/internal/pipeline"
)

func main() {
	root := &cobra.Command{
		Use:          "govscope",
		Short:        "On-chain governance event collector and feed publisher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Collect a block range on every configured network and republish the feed",
		RunE:  runCollect,
	}

	runCmd.Flags().Uint64("from", 0, "start block (inclusive), 0 resumes from the watermark")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().Uint64("min-segment-span", 100, "smallest block span a failing range is split down to")
	runCmd.Flags().Int("max-attempts", 3, "fetch attempts for a minimal-span segment")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("pacing", 200*time.Millisecond, "delay between consecutive fetches")
	runCmd.Flags().String("blob-backend", "fs", "blob store backend (fs, s3)")
	runCmd.Flags().String("blob-root", "./data/blobs", "root directory for the fs backend")
	runCmd.Flags().String("s3-region", "", "AWS region for the s3 backend")
	runCmd.Flags().String("s3-bucket", "", "bucket for the s3 backend")
	runCmd.Flags().String("s3-prefix", "", "key prefix for the s3 backend")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for the state/history mirror")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-collect recorded failed segments on every configured network",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("blob-backend", "fs", "blob store backend (fs, s3)")
	replayCmd.Flags().String("blob-root", "./data/blobs", "root directory for the fs backend")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCollect(cmd *cobra.Command, _ []string) error {
	return withPipelines(cmd, func(ctx context.Context, pipes []*pipeline.Pipeline, cfg config.Config) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range pipes {
			p := p
			g.Go(func() error {
				return p.Run(gctx, cfg.FromBlock, cfg.ToBlock)
			})
		}
		return g.Wait()
	})
}

func runReplay(cmd *cobra.Command, _ []string) error {
	return withPipelines(cmd, func(ctx context.Context, pipes []*pipeline.Pipeline, _ config.Config) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range pipes {
			p := p
			g.Go(func() error {
				return p.Replay(gctx)
			})
		}
		return g.Wait()
	})
}

func withPipelines(cmd *cobra.Command, fn func(context.Context, []*pipeline.Pipeline, config.Config) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := fn(ctx, app.Pipelines, cfg); err != nil {
		logger.Error("run failed", zap.Error(err))
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
