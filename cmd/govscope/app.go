package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"govscope/internal/blob"
	"govscope/internal/chain"
	"govscope/internal/collector"
	"govscope/internal/config"
	"govscope/internal/feed"
	"govscope/internal/gov"
	"govscope/internal/history"
	"govscope/internal/lock"
	"govscope/internal/pipeline"
	"govscope/internal/state"
	"govscope/internal/state/postgres"
)

// app owns every long-lived resource of a CLI invocation.
type app struct {
	Pipelines []*pipeline.Pipeline

	clients  []*chain.Client
	tsCaches []*chain.TimestampCache
	mirror   *postgres.Store
	logger   *zap.Logger
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	blobs, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}

	feedManager := feed.NewManager(feed.Options{
		FeedKey:     cfg.FeedKey,
		RSSKey:      cfg.RSSKey,
		Threshold:   cfg.FeedThreshold,
		ScratchDir:  cfg.ScratchDir,
		LockTimeout: cfg.LockTimeout,
		Title:       cfg.FeedTitle,
		Link:        cfg.FeedLink,
		Description: cfg.FeedDesc,
	}, blobs, lock.NewFileLocker(cfg.FeedLockPath), logger)

	historyLog := history.NewLog(history.Options{
		Key:              cfg.HistoryKey,
		ArchiveThreshold: cfg.HistoryArchiveThreshold,
		KeepRecent:       cfg.HistoryKeepRecent,
		MinArchiveAge:    cfg.HistoryMinArchiveAge,
		LockTimeout:      cfg.LockTimeout,
	}, blobs, lock.NewFileLocker(cfg.HistoryLockPath), logger)

	stateStore := state.NewStore(blobs, cfg.StatePrefix, cfg.ScratchDir, logger)

	a := &app{logger: logger}

	if cfg.PGDSN != "" {
		mirror, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.mirror = mirror
	}

	for _, nc := range cfg.Networks {
		client, err := chain.NewClient(ctx, nc.RPCURL, nc.BulkLogMethod, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect %s rpc: %w", nc.Name, err)
		}
		a.clients = append(a.clients, client)

		contracts, err := gov.ParseContracts(nc.Addresses, nc.Bodies, nc.Categories)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("network %s: %w", nc.Name, err)
		}
		registry := gov.NewRegistry(contracts)
		decoder, err := gov.NewGovernorDecoder(registry)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("network %s: %w", nc.Name, err)
		}

		// Block heights collide across chains, so each network keeps its
		// own cache file.
		tsCache := chain.NewTimestampCache(afero.NewOsFs(),
			chain.NetworkCachePath(cfg.TSCachePath, nc.Name),
			cfg.TSCacheMaxAge, cfg.TSCacheMaxEntries, cfg.TSCacheFlushEvery)
		a.tsCaches = append(a.tsCaches, tsCache)

		coll := collector.New(collector.Config{
			MinSegmentSpan: cfg.MinSegmentSpan,
			MaxAttempts:    cfg.MaxAttempts,
			BaseBackoff:    cfg.RetryBackoff,
			Pacing:         cfg.Pacing,
		}, nc.Name, client, chain.NewTimestamps(client, tsCache), decoder, gov.Meta{
			Network:      nc.Name,
			ChainID:      nc.ChainID,
			ExplorerBase: nc.ExplorerBase,
			ProposalBase: nc.ProposalBase,
		}, registry.Addresses(), decoder.Topics(), logger)

		a.Pipelines = append(a.Pipelines, pipeline.New(
			nc.Name, client, coll, feedManager, stateStore, historyLog, a.mirror, logger))
	}

	return a, nil
}

func (a *app) Close() {
	for _, client := range a.clients {
		client.Close()
	}
	for _, cache := range a.tsCaches {
		if err := cache.Close(); err != nil {
			a.logger.Warn("timestamp cache flush failed", zap.Error(err))
		}
	}
	if a.mirror != nil {
		a.mirror.Close()
	}
}

func newBlobStore(cfg config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "fs":
		return blob.NewFsStore(afero.NewOsFs(), cfg.BlobRoot), nil
	case "s3":
		return blob.NewS3Store(cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.BlobBackend)
	}
}
