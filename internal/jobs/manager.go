package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/queue"
)

const (
	DefaultListLimit    = 100
	DefaultListingLimit = 100
	MaxListingLimit     = 1000
)

var ErrInvalidJobID = errors.New("invalid job id")

// Store persists search jobs.
type Store interface {
	Create(ctx context.Context, job *database.SearchJob) error
	Get(ctx context.Context, id uuid.UUID) (*database.SearchJob, error)
	List(ctx context.Context, limit int) ([]*database.SearchJob, error)
	ListPending(ctx context.Context) ([]*database.SearchJob, error)
	ResetRunning(ctx context.Context) (int64, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, pages, records int) error
	Stats(ctx context.Context) (*database.JobStats, error)
}

// ListingStore reads the records collected by a job.
type ListingStore interface {
	ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.ListingRecord, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

// Searcher runs one search to termination.
type Searcher interface {
	Run(ctx context.Context, query models.SearchQuery, onPage func(crawler.PageEvent)) crawler.Result
}

// Recorder stores the outcome of a finished search for a job.
type Recorder interface {
	Record(ctx context.Context, jobID uuid.UUID, run models.SearchRun) error
}

type Manager struct {
	jobs     Store
	listings ListingStore
	queue    queue.Queue
	searcher Searcher
	recorder Recorder
	logger   *slog.Logger
}

func NewManager(jobs Store, listings ListingStore, q queue.Queue, searcher Searcher, recorder Recorder, logger *slog.Logger) *Manager {
	return &Manager{
		jobs:     jobs,
		listings: listings,
		queue:    q,
		searcher: searcher,
		recorder: recorder,
		logger:   logger.With("component", "job_manager"),
	}
}

// ListingsPage is one window over a job's records.
type ListingsPage struct {
	JobID    string                 `json:"job_id"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	Listings []models.ListingRecord `json:"listings"`
}

type Stats struct {
	*database.JobStats
	QueueDepth int `json:"queue_depth"`
}

// CreateJob stores a pending job and queues it for the worker.
func (m *Manager) CreateJob(ctx context.Context, keyword string, targetCount, priority int) (*database.SearchJob, error) {
	query, err := models.NewSearchQuery(keyword, targetCount)
	if err != nil {
		return nil, err
	}

	job := &database.SearchJob{
		ID:          uuid.New(),
		Keyword:     query.Keyword,
		TargetCount: query.TargetCount,
		Status:      database.JobStatusPending,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := m.queue.Push(taskFor(job, priority)); err != nil {
		// The job stays pending and is picked up again by Recover.
		return nil, fmt.Errorf("failed to queue job %s: %w", job.ID, err)
	}

	m.logger.Info("job created", "id", job.ID, "keyword", job.Keyword, "target", job.TargetCount)
	return job, nil
}

func (m *Manager) GetJob(ctx context.Context, id string) (*database.SearchJob, error) {
	jobID, err := parseJobID(id)
	if err != nil {
		return nil, err
	}
	return m.jobs.Get(ctx, jobID)
}

func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*database.SearchJob, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return m.jobs.List(ctx, limit)
}

func (m *Manager) GetListings(ctx context.Context, id string, limit, offset int) (*ListingsPage, error) {
	jobID, err := parseJobID(id)
	if err != nil {
		return nil, err
	}
	if _, err := m.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultListingLimit
	}
	limit = min(limit, MaxListingLimit)
	offset = max(offset, 0)

	total, err := m.listings.CountByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	records, err := m.listings.ListByJob(ctx, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.ListingRecord{}
	}

	return &ListingsPage{
		JobID:    jobID.String(),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		Listings: records,
	}, nil
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := m.jobs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{JobStats: stats, QueueDepth: m.queue.Size()}, nil
}

// Recover re-queues jobs that were stored but never started, e.g. because
// the process stopped before the worker reached them. Jobs still marked
// running belong to a process that was killed mid-search; they start over.
// Call it before the worker starts.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	stale, err := m.jobs.ResetRunning(ctx)
	if err != nil {
		return 0, err
	}
	if stale > 0 {
		m.logger.Warn("reset interrupted jobs", "count", stale)
	}

	pending, err := m.jobs.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	for i, job := range pending {
		if err := m.queue.Push(taskFor(job, 0)); err != nil {
			return i, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
	}

	if len(pending) > 0 {
		m.logger.Info("requeued pending jobs", "count", len(pending))
	}
	return len(pending), nil
}

func taskFor(job *database.SearchJob, priority int) *queue.Task {
	return &queue.Task{
		JobID:       job.ID.String(),
		Keyword:     job.Keyword,
		TargetCount: job.TargetCount,
		Priority:    priority,
		CreatedAt:   job.CreatedAt,
	}
}

func parseJobID(id string) (uuid.UUID, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return jobID, nil
}
