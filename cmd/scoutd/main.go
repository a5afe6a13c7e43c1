// Package main wires together the scout service binary: HTTP API,
// scrape workers, and the stuck-job reaper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/growthdesk/scout/internal/api"
	gcsarchive "github.com/growthdesk/scout/internal/archive/gcs"
	localarchive "github.com/growthdesk/scout/internal/archive/local"
	memoryarchive "github.com/growthdesk/scout/internal/archive/memory"
	"github.com/growthdesk/scout/internal/clock/system"
	"github.com/growthdesk/scout/internal/config"
	"github.com/growthdesk/scout/internal/hash/sha256"
	"github.com/growthdesk/scout/internal/id/uuid"
	"github.com/growthdesk/scout/internal/logging"
	"github.com/growthdesk/scout/internal/metrics"
	"github.com/growthdesk/scout/internal/priority"
	"github.com/growthdesk/scout/internal/provider/apify"
	memorypublisher "github.com/growthdesk/scout/internal/publisher/memory"
	pubsubpublisher "github.com/growthdesk/scout/internal/publisher/pubsub"
	"github.com/growthdesk/scout/internal/reaper"
	"github.com/growthdesk/scout/internal/scout"
	memorystore "github.com/growthdesk/scout/internal/store/memory"
	postgresstore "github.com/growthdesk/scout/internal/store/postgres"
	"github.com/growthdesk/scout/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	jobs, pages, err := buildStores(ctx, cfg, clock, idGen)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	archive, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}
	defer closeArchive()
	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	rp := reaper.New(jobs, reaper.Config{
		Interval:   cfg.ReaperInterval(),
		StaleAfter: cfg.StaleAfter(),
		FailStale:  cfg.Reaper.FailStale,
	}, logger.Named("reaper"))
	go rp.Run(ctx)

	if cfg.Provider.Token == "" {
		logger.Warn("provider token not configured, workers disabled")
	} else {
		provider, err := apify.NewClient(apify.Config{
			BaseURL:        cfg.Provider.BaseURL,
			Token:          cfg.Provider.Token,
			ProfileActor:   cfg.Provider.ProfileActor,
			FollowingActor: cfg.Provider.FollowingActor,
			Timeout:        cfg.ProviderTimeout(),
		}, clock)
		if err != nil {
			logger.Fatal("provider init failed", zap.Error(err))
		}
		var workers []*worker.Worker
		for _, jobType := range scout.JobTypes() {
			workerCfg := worker.Config{
				JobType:         jobType,
				PollInterval:    cfg.PollInterval(),
				ProviderTimeout: cfg.ProviderTimeout(),
				MinCoverage:     cfg.Worker.MinCoverage,
				Topic:           cfg.Events.Topic,
				ArchivePrefix:   cfg.Archive.Prefix,
			}
			for i := 0; i < cfg.Worker.Concurrency; i++ {
				workers = append(workers, worker.New(
					jobs,
					pages,
					provider,
					archive,
					publisher,
					hasher,
					clock,
					workerCfg,
					logger.Named("worker").With(
						zap.String("job_type", string(jobType)),
						zap.Int("index", i),
					),
				))
			}
		}
		runner := worker.NewRunner(workers...)
		go func() {
			logger.Info("workers started", zap.Int("count", len(workers)))
			runner.Run(ctx)
		}()
	}

	classifier := priority.New(cfg.Priority.Keywords, cfg.Priority.ClientThreshold)
	apiServer := api.NewServer(jobs, pages, rp, classifier, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStores(ctx context.Context, cfg config.Config, clock scout.Clock, idGen scout.IDGenerator) (scout.JobStore, scout.PageStore, error) {
	switch cfg.Database.Backend {
	case "postgres":
		pool := postgresstore.PoolConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.ConnLifetime(),
		}
		jobs, err := postgresstore.NewJobStore(ctx, postgresstore.JobStoreConfig{
			Pool:  pool,
			Table: cfg.Database.JobsTable,
		}, clock, idGen)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres job store: %w", err)
		}
		pages, err := postgresstore.NewPageStore(ctx, postgresstore.PageStoreConfig{
			Pool:  pool,
			Table: cfg.Database.PagesTable,
		}, clock, idGen)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres page store: %w", err)
		}
		return jobs, pages, nil
	default:
		return memorystore.NewJobStore(clock, idGen), memorystore.NewPageStore(clock, idGen), nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (scout.BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("storage client: %w", err)
		}
		store, err := gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, func() { _ = client.Close() }, nil
	case "local":
		store, err := localarchive.New(localarchive.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return memoryarchive.NewBlobStore(), noop, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (scout.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Events.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		return pub, func() {
			pub.Stop()
			_ = client.Close()
		}, nil
	default:
		return memorypublisher.New(), noop, nil
	}
}
