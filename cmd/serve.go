package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/api"
	"github.com/camaradata/crawl-coordinator/internal/archive"
	"github.com/camaradata/crawl-coordinator/internal/clock/system"
	"github.com/camaradata/crawl-coordinator/internal/companies"
	"github.com/camaradata/crawl-coordinator/internal/config"
	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/escalation"
	"github.com/camaradata/crawl-coordinator/internal/logging"
	"github.com/camaradata/crawl-coordinator/internal/metrics"
	"github.com/camaradata/crawl-coordinator/internal/notify"
	"github.com/camaradata/crawl-coordinator/internal/registry"
	"github.com/camaradata/crawl-coordinator/internal/scheduler"
	"github.com/camaradata/crawl-coordinator/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP service.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
		MinConns: int32(cfg.DB.MinOpenConns),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	areaStore, err := postgres.NewAreaStore(pool)
	if err != nil {
		return err
	}
	catalogStore, err := postgres.NewCatalog(pool)
	if err != nil {
		return err
	}
	companyStore, err := postgres.NewCompanyStore(pool)
	if err != nil {
		return err
	}

	reg, err := registry.Load(ctx, areaStore, logger)
	if err != nil {
		return err
	}
	activities, err := catalogStore.ListActivities(ctx)
	if err != nil {
		return fmt.Errorf("load activity catalog: %w", err)
	}

	importer := companies.NewImporter(companyStore, logger, 0)
	if err := importer.Load(ctx); err != nil {
		return fmt.Errorf("load company index: %w", err)
	}

	notifier, cleanupNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupNotifier()

	batchArchive, cleanupArchive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupArchive()

	queue := escalation.New(catalogStore, areaStore, logger, escalation.Config{
		PollInterval:  cfg.PollInterval(),
		AcceptPercent: cfg.Partition.AcceptPercent,
	})

	sched := scheduler.New(
		reg,
		activities,
		areaStore,
		importer,
		queue,
		notifier,
		batchArchive,
		system.New(),
		scheduler.Config{LeaseTTL: cfg.LeaseTTL()},
		logger,
	)

	server := api.NewServer(sched, cfg, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go queue.Run(ctx)
	go importer.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("coordinator listening",
		zap.Int("port", cfg.Server.Port),
		zap.Int("areas", reg.Len()),
		zap.Int("activities", len(activities)))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawl.Notifier, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub notifications disabled")
		return notify.NoOp{}, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	return notify.NewPubSubNotifier(topic, logger), cleanup, nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawl.BatchArchive, func(), error) {
	if cfg.Archive.GCSBucket == "" {
		logger.Info("batch archive disabled")
		return archive.NoOp{}, func() {}, nil
	}
	gcs, err := archive.NewGCSArchive(ctx, cfg.Archive.GCSBucket, cfg.Archive.Prefix, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := gcs.Close(); err != nil {
			logger.Warn("close gcs archive", zap.Error(err))
		}
	}
	return gcs, cleanup, nil
}
