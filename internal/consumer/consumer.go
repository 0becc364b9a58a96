package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultGroup    = "search-export-group"
	DefaultConsumer = "consumer-1"

	pageSize = 1000
)

var ErrMalformedMessage = errors.New("malformed stream message")

// StreamClient is the subset of go-redis the consumer reads through.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ListingSource loads the records a job stored.
type ListingSource interface {
	ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.ListingRecord, error)
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Consumer exports the records of every completed search job to a sink,
// driven by SEARCH_COMPLETED events on the results stream.
type Consumer struct {
	redis    StreamClient
	listings ListingSource
	sink     storage.Sink
	config   Config
	logger   *slog.Logger
}

func New(client StreamClient, listings ListingSource, sink storage.Sink, config Config, logger *slog.Logger) *Consumer {
	if config.Stream == "" {
		config.Stream = database.DefaultTargetStream
	}
	if config.Group == "" {
		config.Group = DefaultGroup
	}
	if config.Consumer == "" {
		config.Consumer = DefaultConsumer
	}
	if config.Block <= 0 {
		config.Block = 5 * time.Second
	}

	return &Consumer{
		redis:    client,
		listings: listings,
		sink:     sink,
		config:   config,
		logger:   logger.With("component", "search_consumer"),
	}
}

// Run reads the stream until ctx is done. Messages are acknowledged once
// handled; a message that fails stays pending for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Consumer,
			Streams:  []string{c.config.Stream, ">"},
			Count:    10,
			Block:    c.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.handle(ctx, message)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, message redis.XMessage) {
	err := c.processMessage(ctx, message)
	if err != nil && !errors.Is(err, ErrMalformedMessage) {
		c.logger.Error("failed to process message", "id", message.ID, "error", err)
		return
	}
	if err != nil {
		// Redelivery cannot fix a malformed message.
		c.logger.Warn("dropping message", "id", message.ID, "error", err)
	}

	if err := c.redis.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context, message redis.XMessage) error {
	if eventType, _ := message.Values["event_type"].(string); eventType != string(events.EventTypeSearchCompleted) {
		return nil
	}

	data, ok := message.Values["data"].(string)
	if !ok {
		return fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}

	var envelope database.StreamEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var payload events.SearchCompletedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("%w: job id %q", ErrMalformedMessage, payload.JobID)
	}

	log := c.logger.With("job_id", jobID, "keyword", payload.Keyword)

	if payload.RecordsFound == 0 {
		log.Info("search produced no records, nothing to export", "reason", payload.Reason)
		return nil
	}

	records, err := c.loadRecords(ctx, jobID)
	if err != nil {
		return err
	}

	run := models.SearchRun{
		Query:   models.SearchQuery{Keyword: payload.Keyword, TargetCount: payload.TargetCount},
		Records: records,
		State:   payload.State,
		Reason:  models.TerminationReason(payload.Reason),
		Pages:   payload.PagesScraped,
		Error:   payload.Error,
	}
	if err := c.sink.Save(ctx, run); err != nil {
		if errors.Is(err, storage.ErrNoRecords) {
			log.Warn("job has no stored records", "expected", payload.RecordsFound)
			return nil
		}
		return fmt.Errorf("failed to export job %s: %w", jobID, err)
	}

	log.Info("search exported", "records", len(records), "reason", payload.Reason)
	return nil
}

func (c *Consumer) loadRecords(ctx context.Context, jobID uuid.UUID) ([]models.ListingRecord, error) {
	var records []models.ListingRecord
	for offset := 0; ; offset += pageSize {
		page, err := c.listings.ListByJob(ctx, jobID, pageSize, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < pageSize {
			return records, nil
		}
	}
}
