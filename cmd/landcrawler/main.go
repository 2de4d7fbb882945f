// Package main wires together the landcrawler service binary.
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

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/api"
	"github.com/terralab/landcrawler/internal/clock/system"
	"github.com/terralab/landcrawler/internal/config"
	"github.com/terralab/landcrawler/internal/domain"
	"github.com/terralab/landcrawler/internal/extract"
	collyfetcher "github.com/terralab/landcrawler/internal/fetcher/colly"
	"github.com/terralab/landcrawler/internal/gate"
	"github.com/terralab/landcrawler/internal/graph"
	"github.com/terralab/landcrawler/internal/hash/sha256"
	"github.com/terralab/landcrawler/internal/id/uuid"
	"github.com/terralab/landcrawler/internal/land"
	"github.com/terralab/landcrawler/internal/logging"
	"github.com/terralab/landcrawler/internal/metrics"
	"github.com/terralab/landcrawler/internal/pipeline"
	"github.com/terralab/landcrawler/internal/politeness"
	memorypublisher "github.com/terralab/landcrawler/internal/publisher/memory"
	pubsubpublisher "github.com/terralab/landcrawler/internal/publisher/pubsub"
	queuememory "github.com/terralab/landcrawler/internal/queue/memory"
	"github.com/terralab/landcrawler/internal/score"
	"github.com/terralab/landcrawler/internal/storage/gcs"
	localstorage "github.com/terralab/landcrawler/internal/storage/local"
	memorystorage "github.com/terralab/landcrawler/internal/storage/memory"
	"github.com/terralab/landcrawler/internal/storage/postgres"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("unit store init failed", zap.Error(err))
	}
	defer closeStore()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	}, logger.Named("fetcher"))

	var archive *extract.ArchiveClient
	if cfg.Archive.Endpoint != "" {
		archive = extract.NewArchiveClient(
			cfg.Archive.Endpoint,
			time.Duration(cfg.Archive.TimeoutSeconds)*time.Second,
			cfg.Crawler.UserAgent,
		)
	}

	strategies := []extract.Strategy{extract.NewPrimary()}
	if archive != nil {
		strategies = append(strategies, extract.NewArchive(archive))
	}
	strategies = append(strategies,
		extract.NewStructured(cfg.Pipeline.MinContentLength),
		extract.NewBasic(),
	)
	chain := extract.NewChain(cfg.Pipeline.MinContentLength, logger.Named("extract"), strategies...)

	snap, err := score.NewSnapshot(score.Snapshot{
		Weights: score.Weights{
			Access:    cfg.Score.Weights.Access,
			Structure: cfg.Score.Weights.Structure,
			Richness:  cfg.Score.Weights.Richness,
			Coherence: cfg.Score.Weights.Coherence,
			Integrity: cfg.Score.Weights.Integrity,
		},
		MinContentLength:    cfg.Pipeline.MinContentLength,
		TitleMultiplier:     cfg.Score.TitleMultiplier,
		BodyMultiplier:      cfg.Score.BodyMultiplier,
		RelevanceSaturation: cfg.Score.RelevanceSaturation,
		TargetWordCount:     cfg.Score.TargetWordCount,
		Languages:           cfg.Land.Languages,
	})
	if err != nil {
		logger.Fatal("score snapshot invalid", zap.Error(err))
	}

	var relevanceGate land.RelevanceGate
	if cfg.Gate.Enabled {
		relevanceGate = gate.New(cfg.Gate.Endpoint, cfg.GateTimeout(), cfg.Gate.MaxRetries, logger.Named("gate"))
	}

	limiter := politeness.New(cfg.Crawler.HostRPS, 1)
	builder := graph.NewBuilder(store, ids, clock, nil, logger.Named("graph"))
	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)

	workerCfg := pipeline.Config{
		BlobPrefix:   cfg.Storage.Prefix,
		Topic:        cfg.PubSub.Topic,
		FetchTimeout: cfg.FetchTimeout(),
	}
	var workers []*pipeline.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, pipeline.New(
			queue,
			store,
			fetcher,
			chain,
			builder,
			relevanceGate,
			blobs,
			publisher,
			hasher,
			clock,
			limiter,
			snap,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := pipeline.NewDispatcher(queue, workers)
	runner := pipeline.NewRunner(store, workers[0], logger.Named("runner"))
	domains := domain.NewCrawler(store, fetcher, archive, ids, clock, cfg.FetchTimeout(), logger.Named("domain"))

	apiServer := api.NewServer(store, runner, dispatch, domains, ids, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

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
	queue.Close()
	logger.Info("shutdown complete")
}

// buildStore selects the unit store backend: Postgres when a DSN is
// configured, in-memory otherwise.
func buildStore(ctx context.Context, cfg config.Config) (land.UnitStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewUnitStore(), func() {}, nil
	}
	store, err := postgres.NewUnitStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (land.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.Bucket})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (land.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client), nil
}
