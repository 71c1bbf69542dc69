package app

import (
	"context"
	"fmt"
	"time"

	"rollingest/internal/checkpoint"
	"rollingest/internal/config"
	"rollingest/internal/discover"
	"rollingest/internal/fetch"
	"rollingest/internal/metrics"
	"rollingest/internal/parse"
	"rollingest/internal/pipeline"
	"rollingest/internal/progress"
	"rollingest/internal/store"
	"rollingest/internal/translate"

	"go.uber.org/zap"
)

// Ingester represents the main ingestion application
type Ingester struct {
	cfg         *config.Config
	logger      *zap.Logger
	records     store.RecordStore
	checkpoints checkpoint.Store
	metrics     *metrics.Collector
	tracker     *progress.Tracker
	reporter    progress.Reporter
	pipeline    *pipeline.Pipeline
}

// New creates a new ingester instance
func New(cfg *config.Config, logger *zap.Logger) (*Ingester, error) {
	checkpointStore, err := checkpoint.NewFileStore(cfg.Pipeline.CheckpointDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	recordStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		checkpointStore.Close()
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}

	var fetcher fetch.Fetcher
	if cfg.Source.UseObjectStore {
		fetcher, err = fetch.NewObjectFetcher(fetch.ObjectConfig{
			Endpoint:  cfg.Source.Endpoint,
			AccessKey: cfg.Source.AccessKey,
			SecretKey: cfg.Source.SecretKey,
			Secure:    cfg.Source.Secure,
		}, cfg.Pipeline.DataDir, logger)
		if err != nil {
			checkpointStore.Close()
			recordStore.Close()
			return nil, fmt.Errorf("failed to create object fetcher: %w", err)
		}
	} else {
		fetcher = fetch.NewHTTPFetcher(cfg.Pipeline.DataDir, logger)
	}

	parser := parse.New(parse.DefaultStrategies(cfg.Pipeline.UseOCR, logger), logger)

	var enricher pipeline.Enricher
	if cfg.Pipeline.Translate {
		enricher = translate.New(cfg.Translate.Endpoint, cfg.Translate.TargetLang, logger)
	}

	discovery := discover.NewManifestDiscovery(cfg.Source.Manifest, logger)

	metricsCollector := metrics.New()
	tracker := progress.NewTracker()
	reporter := progress.NewLogReporter(logger, tracker)

	pipe := pipeline.New(
		pipeline.Config{
			DataDir:            cfg.Pipeline.DataDir,
			AcquireConcurrency: cfg.Pipeline.AcquireConcurrency,
			ParseWorkers:       cfg.Pipeline.ParseWorkers,
			MaxAttempts:        cfg.Pipeline.Retries,
			BackoffBase:        time.Duration(cfg.Pipeline.RetryBackoffMs) * time.Millisecond,
			BackoffCap:         time.Duration(cfg.Pipeline.RetryBackoffCapMs) * time.Millisecond,
			AcquireTimeout:     time.Duration(cfg.Pipeline.AcquireTimeoutS) * time.Second,
			ParseTimeout:       time.Duration(cfg.Pipeline.ParseTimeoutS) * time.Second,
			GracePeriod:        time.Duration(cfg.Pipeline.GracePeriodS) * time.Second,
			MinSuccessFraction: cfg.Pipeline.MinSuccessFraction,
			StateFilter:        cfg.Pipeline.StateFilter,
			MaxUnits:           cfg.Pipeline.MaxUnits,
			Resume:             cfg.Pipeline.Resume,
		},
		discovery,
		fetcher,
		parser,
		enricher,
		recordStore,
		checkpointStore,
		metricsCollector,
		reporter,
		logger,
	)

	return &Ingester{
		cfg:         cfg,
		logger:      logger,
		records:     recordStore,
		checkpoints: checkpointStore,
		metrics:     metricsCollector,
		tracker:     tracker,
		reporter:    reporter,
		pipeline:    pipe,
	}, nil
}

// Run executes the ingestion pipeline
func (i *Ingester) Run(ctx context.Context) (pipeline.Summary, error) {
	i.logger.Info("Starting ingestion",
		zap.String("manifest", i.cfg.Source.Manifest),
		zap.String("state_filter", i.cfg.Pipeline.StateFilter),
		zap.Int("acquire_concurrency", i.cfg.Pipeline.AcquireConcurrency),
		zap.Int("parse_workers", i.cfg.Pipeline.ParseWorkers),
		zap.Bool("resume", i.cfg.Pipeline.Resume),
		zap.Bool("translate", i.cfg.Pipeline.Translate),
	)

	if addr := i.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := i.metrics.StartServer(addr); err != nil {
				i.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	summary, err := i.pipeline.Run(ctx)
	if err != nil {
		return summary, err
	}

	i.reporter.RunSummary(i.tracker.GetStatus(), i.tracker.Elapsed())

	if stats, serr := i.records.Stats(); serr == nil {
		i.logger.Info("Store statistics",
			zap.Int64("total_records", stats.TotalRecords),
			zap.Int64("states", stats.States),
			zap.Int64("assemblies", stats.Assemblies),
		)
	} else {
		i.logger.Warn("Failed to read store statistics", zap.Error(serr))
	}

	return summary, nil
}

// Close cleans up resources
func (i *Ingester) Close() error {
	var firstErr error
	if err := i.checkpoints.Close(); err != nil {
		firstErr = err
	}
	if err := i.records.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
