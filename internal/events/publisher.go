package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

type EventType string

const (
	// EventTypeSearchCompleted is published once per finished search job,
	// whatever state the search terminated in.
	EventTypeSearchCompleted EventType = "SEARCH_COMPLETED"

	AggregateSearchJob = "search_job"
)

type SearchCompletedPayload struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	JobID        string    `json:"job_id"`
	Keyword      string    `json:"keyword"`
	TargetCount  int       `json:"target_count"`
	RecordsFound int       `json:"records_found"`
	PagesScraped int       `json:"pages_scraped"`
	State        string    `json:"state"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	Source       string    `json:"source"`
}

// NewSearchCompleted describes the outcome of run for job jobID.
func NewSearchCompleted(jobID uuid.UUID, run models.SearchRun) *SearchCompletedPayload {
	return &SearchCompletedPayload{
		JobID:        jobID.String(),
		Keyword:      run.Query.Keyword,
		TargetCount:  run.Query.TargetCount,
		RecordsFound: len(run.Records),
		PagesScraped: run.Pages,
		State:        run.State,
		Reason:       string(run.Reason),
		Error:        run.Error,
	}
}

// OutboxWriter stages events in a caller-owned transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes search events to the transactional outbox. The relay
// forwards them to Redis after the surrounding transaction commits.
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) PublishSearchCompletedWithTx(ctx context.Context, tx pgx.Tx, payload *SearchCompletedPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeSearchCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: AggregateSearchJob,
		AggregateID:   payload.JobID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event staged in outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"job_id", payload.JobID,
		"outbox_id", event.ID,
	)

	return nil
}
