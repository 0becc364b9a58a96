package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// SearchJob is one keyword search, queued through the API or run from the CLI.
type SearchJob struct {
	ID           uuid.UUID  `json:"id"`
	Keyword      string     `json:"keyword"`
	TargetCount  int        `json:"target_count"`
	Status       JobStatus  `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	PagesScraped int        `json:"pages_scraped"`
	RecordsFound int        `json:"records_found"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type JobStats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalListings int     `json:"total_listings"`
	SuccessRate   float64 `json:"success_rate"`
}

type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, keyword, target_count, status, reason, pages_scraped,
	records_found, error, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*SearchJob, error) {
	job := &SearchJob{}
	err := row.Scan(
		&job.ID, &job.Keyword, &job.TargetCount, &job.Status, &job.Reason, &job.PagesScraped,
		&job.RecordsFound, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	return job, err
}

func (r *JobRepository) Create(ctx context.Context, job *SearchJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO search_jobs (id, keyword, target_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.pool.Exec(ctx, query, job.ID, job.Keyword, job.TargetCount, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*SearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs WHERE id = $1`

	job, err := scanJob(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

func (r *JobRepository) List(ctx context.Context, limit int) ([]*SearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*SearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

// ListPending returns jobs that were queued but never started, oldest first.
func (r *JobRepository) ListPending(ctx context.Context) ([]*SearchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM search_jobs WHERE status = $1 ORDER BY created_at`

	rows, err := r.db.pool.Query(ctx, query, JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*SearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ResetRunning moves jobs left in running state back to pending. Only a
// process that died mid-search leaves such jobs, and it recorded nothing for
// them, so they can start over.
func (r *JobRepository) ResetRunning(ctx context.Context) (int64, error) {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE search_jobs SET status = $1, started_at = NULL, pages_scraped = 0, records_found = 0 WHERE status = $2`,
		JobStatusPending, JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE search_jobs SET status = $1, started_at = $2 WHERE id = $3`,
		JobStatusRunning, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, pages, records int) error {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE search_jobs SET pages_scraped = $1, records_found = $2 WHERE id = $3`,
		pages, records, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishWithTx records the terminal status of a job inside tx.
func (r *JobRepository) FinishWithTx(ctx context.Context, tx pgx.Tx, job *SearchJob) error {
	now := time.Now()
	job.CompletedAt = &now

	query := `
		UPDATE search_jobs
		SET status = $1, reason = $2, pages_scraped = $3, records_found = $4,
		    error = $5, completed_at = $6
		WHERE id = $7`

	tag, err := tx.Exec(ctx, query,
		job.Status, job.Reason, job.PagesScraped, job.RecordsFound, job.Error, now, job.ID)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}

	query := `
		SELECT
			COUNT(*) as total_jobs,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) as pending_jobs,
			COUNT(CASE WHEN status = 'running' THEN 1 END) as running_jobs,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as completed_jobs,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_jobs
		FROM search_jobs`

	err := r.db.pool.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(stats.TotalJobs) * 100
	}

	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM search_listings").Scan(&stats.TotalListings); err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	return stats, nil
}
