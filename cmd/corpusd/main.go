// Package main provides the corpusd server: document ingestion,
// indexing and retrieval behind a REST API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corpusd/corpusd/internal/cache"
	"github.com/corpusd/corpusd/internal/chunker"
	"github.com/corpusd/corpusd/internal/config"
	"github.com/corpusd/corpusd/internal/db"
	"github.com/corpusd/corpusd/internal/embedding"
	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/queue"
	"github.com/corpusd/corpusd/internal/searchindex"
	"github.com/corpusd/corpusd/internal/server"
	"github.com/corpusd/corpusd/internal/service"
	"github.com/corpusd/corpusd/internal/status"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("starting corpusd", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	dbClient, err := db.NewClient(connectCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	if *wipeDB || os.Getenv("CORPUSD_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Warn("database wiped")
	}

	collectors := metrics.New()

	// Cache is optional: a dead Redis degrades to direct reads
	cacheManager := cache.NewManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, collectors, logger)
	if err := cacheManager.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, caching degraded", "addr", cfg.RedisAddr, "error", err)
	}
	defer cacheManager.Close()

	// Embedding
	embedder, err := embedding.NewEmbedder(cfg)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	generator := embedding.NewGenerator(embedder, cfg.EmbedBatchSize, cfg.EmbedBatchDelay, logger)

	// Remote search index and job pipeline
	index := searchindex.NewHTTPClient(cfg.IndexBaseURL, cfg.IndexAPIKey)
	tracker := service.NewJobTracker(dbClient, logger)
	bus := queue.NewBus(logger)
	defer bus.Close()

	worker := queue.NewWorker(index, tracker, bus, cfg.IndexPollInterval, cfg.IndexPollBudget, collectors, logger)
	jobQueue, err := queue.New(dbClient, worker, tracker, bus, queue.Config{
		Concurrency:        cfg.QueueConcurrency,
		MaxAttempts:        cfg.QueueMaxAttempts,
		BackoffBase:        cfg.QueueBackoffBase,
		CompletedRetention: cfg.CompletedRetention,
		CompletedKeep:      cfg.CompletedKeep,
		FailedRetention:    cfg.FailedRetention,
		SweepInterval:      cfg.SweepInterval,
		Metrics:            collectors,
	}, logger)
	if err != nil {
		logger.Error("failed to create job queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	payloads, err := service.NewFilePayloadStore(cfg.PayloadDir)
	if err != nil {
		logger.Error("failed to create payload store", "error", err)
		os.Exit(1)
	}

	// Services
	ingestSvc := service.NewIngestService(dbClient, generator, jobQueue, tracker, payloads,
		cacheManager, index, chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		cfg.QueueMaxAttempts, cfg.CacheListTTL, collectors, logger)
	searchSvc := service.NewSearchService(dbClient, embedder, index, cacheManager,
		cfg.RelevanceFloor, cfg.DefaultTopK, cfg.CacheSearchTTL, collectors, logger)

	// Status fanout and cache invalidation ride the job event bus
	hub := status.NewHub(collectors, logger)
	defer hub.Close()
	go hub.Run(ctx, bus.Subscribe())
	go cache.RunInvalidator(ctx, bus.Subscribe(), cacheManager)

	// Resume jobs interrupted by the previous shutdown
	if err := jobQueue.Resume(ctx); err != nil {
		logger.Error("failed to resume jobs", "error", err)
	}
	jobQueue.StartSweeper(ctx)

	srv := server.New(":"+cfg.Port, ingestSvc, searchSvc, server.Options{
		StatusHandler:  hub,
		MetricsHandler: collectors.Handler(),
		Metrics:        collectors,
	}, logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()

	logger.Info("server stopped")
}
