package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/consumer"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/storage"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// Database connection
	db, err := database.New(ctx, cfg.Database.Database())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to database")

	c := consumer.New(
		rdb,
		database.NewListingRepository(db),
		storage.NewCSVSink(cfg.Output.Dir, cfg.Output.Suffix),
		consumer.Config{
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.ConsumerGroup,
			Consumer: cfg.Redis.ConsumerName,
		},
		logger,
	)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer error", "error", err)
		os.Exit(1)
	}
}
