package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/api"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/jobs"
	"github.com/maltedev/amazon-search-scraper/internal/queue"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := database.New(ctx, cfg.Database.Database())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize Redis client for Relay
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Relay moves committed outbox events to the Redis stream
	outbox := database.NewOutboxRepository(db)
	relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    cfg.Redis.BatchSize,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	// Initialize services
	publisher := events.NewPublisher(outbox, cfg.Redis.Stream, logger)
	recorder := jobs.NewTxRecorder(db, publisher, logger)
	searchService := scraper.NewService(cfg.ScraperOptions(), logger)
	jobQueue := queue.NewInMemoryQueue()

	jobManager := jobs.NewManager(
		database.NewJobRepository(db),
		database.NewListingRepository(db),
		jobQueue,
		searchService,
		recorder,
		logger,
	)

	if n, err := jobManager.Recover(ctx); err != nil {
		logger.Error("failed to requeue pending jobs", "error", err)
	} else if n > 0 {
		logger.Info("requeued pending jobs", "count", n)
	}

	// Single worker: searches never overlap
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		jobManager.StartWorker(ctx)
	}()

	handlers := api.NewHandlers(jobManager, api.HandlerOptions{
		Outbox:        relay,
		Database:      db,
		DefaultTarget: cfg.Scraper.DefaultTarget,
	}, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		RequestTimeout: cfg.Server.WriteTimeout,
		AccessLog:      true,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		// Stops the running search; its partial result is still recorded.
		jobQueue.Close()
		cancel()
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-workerDone
	logger.Info("server stopped")
}
