package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed relays after which an event is parked.
	MaxRetryCount = 5

	// DefaultTargetStream receives search lifecycle events.
	DefaultTargetStream = "stream:search_results"

	maxBackoff = 5 * time.Minute
)

var (
	ErrEventNotFound = errors.New("outbox event not found")
	ErrInvalidEvent  = errors.New("invalid outbox event")
)

// OutboxEvent is a row of the transactional outbox.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("%w: missing aggregate type", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case len(e.Payload) == 0 || !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload must be JSON", ErrInvalidEvent)
	}
	return nil
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx stages an event in the same transaction as the state change it describes.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending returns up to limit events whose next attempt is due, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type,
		       payload, target_stream, status, retry_count,
		       error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query, OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*OutboxEvent, error) {
		e := &OutboxEvent{}
		err := row.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.TargetStream, &e.Status, &e.RetryCount,
			&e.ErrorMessage, &e.CreatedAt, &e.ProcessedAt, &e.NextRetryAt,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed bumps the retry counter and schedules the next attempt, parking
// the event as dead letter once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var retryCount int
		err := tx.QueryRow(ctx,
			`SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&retryCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get retry count: %w", err)
		}

		retryCount++
		status := OutboxStatusFailed
		if retryCount >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, retryCount, processErr.Error(), NextRetryTime(time.Now(), retryCount), id)
		if err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// CountByStatus reports how many events sit in each of the given states.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)`, statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// NextRetryTime doubles the wait for every failed attempt, capped at five minutes.
func NextRetryTime(now time.Time, retryCount int) time.Time {
	if retryCount < 1 {
		return now
	}
	backoff := maxBackoff
	if retryCount < 9 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, maxBackoff)
	}
	return now.Add(backoff)
}
