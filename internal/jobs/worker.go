package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/queue"
)

// recordTimeout bounds the final write of a job that was interrupted by shutdown.
const recordTimeout = 30 * time.Second

// StartWorker runs queued searches one at a time until ctx is done or the
// queue is closed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take next job", "error", err)
			continue
		}

		m.processTask(ctx, task)
	}
}

func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	log := m.logger.With("job_id", task.JobID, "keyword", task.Keyword)

	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		log.Error("dropping task with invalid job id", "error", err)
		return
	}

	if err := m.jobs.MarkRunning(ctx, jobID); err != nil {
		log.Error("failed to update job status", "error", err)
		return
	}

	log.Info("processing job", "target", task.TargetCount)

	query := models.SearchQuery{Keyword: task.Keyword, TargetCount: task.TargetCount}
	res := m.searcher.Run(ctx, query, func(e crawler.PageEvent) {
		if err := m.jobs.UpdateProgress(ctx, jobID, e.Page, e.Total); err != nil {
			log.Warn("failed to update progress", "page", e.Page, "error", err)
		}
	})

	// Record even when ctx was cancelled mid-search so partial results survive shutdown.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := m.recorder.Record(recordCtx, jobID, res.Run()); err != nil {
		log.Error("failed to record job result", "error", err)
		return
	}

	log.Info("job finished",
		"state", res.State.String(),
		"reason", res.Reason,
		"records", len(res.Records),
		"pages", res.Pages)
}
