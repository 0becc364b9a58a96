package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// TxRecorder writes the records, the final job row and the SEARCH_COMPLETED
// outbox event of a search in a single transaction.
type TxRecorder struct {
	db        *database.DB
	jobs      *database.JobRepository
	listings  *database.ListingRepository
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewTxRecorder(db *database.DB, publisher *events.Publisher, logger *slog.Logger) *TxRecorder {
	return &TxRecorder{
		db:        db,
		jobs:      database.NewJobRepository(db),
		listings:  database.NewListingRepository(db),
		publisher: publisher,
		logger:    logger.With("component", "job_recorder"),
	}
}

func (r *TxRecorder) Record(ctx context.Context, jobID uuid.UUID, run models.SearchRun) error {
	job := FinishedJob(jobID, run)

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := r.listings.InsertWithTx(ctx, tx, jobID, run.Records); err != nil {
			return err
		}
		if err := r.jobs.FinishWithTx(ctx, tx, job); err != nil {
			return err
		}
		return r.publisher.PublishSearchCompletedWithTx(ctx, tx, events.NewSearchCompleted(jobID, run))
	})
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", jobID, err)
	}

	r.logger.Debug("job recorded", "job_id", jobID, "status", job.Status, "records", job.RecordsFound)
	return nil
}

// FinishedJob maps a search outcome onto the job row that describes it.
func FinishedJob(jobID uuid.UUID, run models.SearchRun) *database.SearchJob {
	status := database.JobStatusCompleted
	if run.Failed() {
		status = database.JobStatusFailed
	}

	return &database.SearchJob{
		ID:           jobID,
		Keyword:      run.Query.Keyword,
		TargetCount:  run.Query.TargetCount,
		Status:       status,
		Reason:       string(run.Reason),
		PagesScraped: run.Pages,
		RecordsFound: len(run.Records),
		Error:        run.Error,
	}
}

// Archive stores searches started outside the API, such as CLI runs, as
// finished jobs. It satisfies storage.Sink.
type Archive struct {
	jobs     Store
	recorder Recorder
}

func NewArchive(jobs Store, recorder Recorder) *Archive {
	return &Archive{jobs: jobs, recorder: recorder}
}

func (a *Archive) Save(ctx context.Context, run models.SearchRun) error {
	job := &database.SearchJob{
		ID:          uuid.New(),
		Keyword:     run.Query.Keyword,
		TargetCount: run.Query.TargetCount,
		Status:      database.JobStatusRunning,
	}
	if err := a.jobs.Create(ctx, job); err != nil {
		return err
	}
	return a.recorder.Record(ctx, job.ID, run)
}
