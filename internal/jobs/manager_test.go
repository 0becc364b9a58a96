package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, job *database.SearchJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockStore) Get(ctx context.Context, id uuid.UUID) (*database.SearchJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.SearchJob), args.Error(1)
}

func (m *MockStore) List(ctx context.Context, limit int) ([]*database.SearchJob, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*database.SearchJob), args.Error(1)
}

func (m *MockStore) ListPending(ctx context.Context) ([]*database.SearchJob, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*database.SearchJob), args.Error(1)
}

func (m *MockStore) ResetRunning(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) UpdateProgress(ctx context.Context, id uuid.UUID, pages, records int) error {
	return m.Called(ctx, id, pages, records).Error(0)
}

func (m *MockStore) Stats(ctx context.Context) (*database.JobStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.JobStats), args.Error(1)
}

type MockListingStore struct {
	mock.Mock
}

func (m *MockListingStore) ListByJob(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]models.ListingRecord, error) {
	args := m.Called(ctx, jobID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ListingRecord), args.Error(1)
}

func (m *MockListingStore) CountByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Run(ctx context.Context, query models.SearchQuery, onPage func(crawler.PageEvent)) crawler.Result {
	return m.Called(ctx, query, onPage).Get(0).(crawler.Result)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, jobID uuid.UUID, run models.SearchRun) error {
	return m.Called(ctx, jobID, run).Error(0)
}

type fixture struct {
	store    *MockStore
	listings *MockListingStore
	queue    *queue.InMemoryQueue
	searcher *MockSearcher
	recorder *MockRecorder
	manager  *Manager
}

func newFixture() *fixture {
	f := &fixture{
		store:    new(MockStore),
		listings: new(MockListingStore),
		queue:    queue.NewInMemoryQueue(),
		searcher: new(MockSearcher),
		recorder: new(MockRecorder),
	}
	f.manager = NewManager(f.store, f.listings, f.queue, f.searcher, f.recorder, slog.Default())
	return f
}

func TestManager_CreateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and queues the job", func(t *testing.T) {
		f := newFixture()
		f.store.On("Create", ctx, mock.MatchedBy(func(j *database.SearchJob) bool {
			return j.Keyword == "desk lamp" && j.TargetCount == 50 && j.Status == database.JobStatusPending
		})).Return(nil)

		job, err := f.manager.CreateJob(ctx, " desk lamp ", 50, 3)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, job.ID)
		f.store.AssertExpectations(t)

		require.Equal(t, 1, f.queue.Size())
		task, err := f.queue.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.ID.String(), task.JobID)
		assert.Equal(t, "desk lamp", task.Keyword)
		assert.Equal(t, 50, task.TargetCount)
		assert.Equal(t, 3, task.Priority)
	})

	t.Run("rejects invalid query", func(t *testing.T) {
		f := newFixture()

		_, err := f.manager.CreateJob(ctx, "", 50, 0)
		assert.ErrorIs(t, err, models.ErrInvalidQuery)

		_, err = f.manager.CreateJob(ctx, "lamp", 0, 0)
		assert.ErrorIs(t, err, models.ErrInvalidQuery)

		f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		assert.Equal(t, 0, f.queue.Size())
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture()
		f.store.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

		_, err := f.manager.CreateJob(ctx, "lamp", 5, 0)
		assert.ErrorContains(t, err, "db down")
		assert.Equal(t, 0, f.queue.Size())
	})

	t.Run("closed queue", func(t *testing.T) {
		f := newFixture()
		f.store.On("Create", ctx, mock.Anything).Return(nil)
		require.NoError(t, f.queue.Close())

		_, err := f.manager.CreateJob(ctx, "lamp", 5, 0)
		assert.ErrorIs(t, err, queue.ErrQueueClosed)
	})
}

func TestManager_GetJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.manager.GetJob(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidJobID)

	id := uuid.New()
	f.store.On("Get", ctx, id).Return(&database.SearchJob{ID: id, Keyword: "lamp"}, nil)
	job, err := f.manager.GetJob(ctx, id.String())
	require.NoError(t, err)
	assert.Equal(t, "lamp", job.Keyword)

	missing := uuid.New()
	f.store.On("Get", ctx, missing).Return(nil, database.ErrJobNotFound)
	_, err = f.manager.GetJob(ctx, missing.String())
	assert.ErrorIs(t, err, database.ErrJobNotFound)
}

func TestManager_ListJobs(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		requested int
		want      int
	}{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{500, DefaultListLimit},
		{10, 10},
	}

	for _, tt := range tests {
		f := newFixture()
		f.store.On("List", ctx, tt.want).Return([]*database.SearchJob{}, nil)

		_, err := f.manager.ListJobs(ctx, tt.requested)
		require.NoError(t, err)
		f.store.AssertExpectations(t)
	}
}

func TestManager_GetListings(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("defaults and clamps the window", func(t *testing.T) {
		f := newFixture()
		f.store.On("Get", ctx, id).Return(&database.SearchJob{ID: id}, nil)
		f.listings.On("CountByJob", ctx, id).Return(0, nil)
		f.listings.On("ListByJob", ctx, id, DefaultListingLimit, 0).Return(nil, nil)

		page, err := f.manager.GetListings(ctx, id.String(), 0, -3)
		require.NoError(t, err)
		assert.Equal(t, DefaultListingLimit, page.Limit)
		assert.Equal(t, 0, page.Offset)
		assert.NotNil(t, page.Listings)
		assert.Empty(t, page.Listings)
	})

	t.Run("returns the requested window", func(t *testing.T) {
		f := newFixture()
		records := []models.ListingRecord{models.NewListingRecord("Lamp", "$9.99", "4.1", "12", "")}
		f.store.On("Get", ctx, id).Return(&database.SearchJob{ID: id}, nil)
		f.listings.On("CountByJob", ctx, id).Return(41, nil)
		f.listings.On("ListByJob", ctx, id, MaxListingLimit, 40).Return(records, nil)

		page, err := f.manager.GetListings(ctx, id.String(), 5000, 40)
		require.NoError(t, err)
		assert.Equal(t, id.String(), page.JobID)
		assert.Equal(t, 41, page.Total)
		assert.Equal(t, records, page.Listings)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture()
		f.store.On("Get", ctx, id).Return(nil, database.ErrJobNotFound)

		_, err := f.manager.GetListings(ctx, id.String(), 10, 0)
		assert.ErrorIs(t, err, database.ErrJobNotFound)
		f.listings.AssertNotCalled(t, "ListByJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestManager_GetStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.On("Stats", ctx).Return(&database.JobStats{TotalJobs: 4, CompletedJobs: 3, SuccessRate: 75}, nil)
	require.NoError(t, f.queue.Push(&queue.Task{JobID: "a", Keyword: "lamp"}))

	stats, err := f.manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalJobs)
	assert.Equal(t, 1, stats.QueueDepth)
}

func TestManager_Recover(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	pending := []*database.SearchJob{
		{ID: uuid.New(), Keyword: "lamp", TargetCount: 10},
		{ID: uuid.New(), Keyword: "desk", TargetCount: 20},
	}
	f.store.On("ResetRunning", ctx).Return(int64(0), nil)
	f.store.On("ListPending", ctx).Return(pending, nil)

	n, err := f.manager.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	task, err := f.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending[0].ID.String(), task.JobID)
}

func TestManager_RecoverInterruptedJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("running jobs are requeued", func(t *testing.T) {
		f := newFixture()
		interrupted := &database.SearchJob{ID: uuid.New(), Keyword: "lamp", TargetCount: 10}
		f.store.On("ResetRunning", ctx).Return(int64(1), nil)
		f.store.On("ListPending", ctx).Return([]*database.SearchJob{interrupted}, nil)

		n, err := f.manager.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, f.queue.Size())
		f.store.AssertExpectations(t)
	})

	t.Run("reset failure stops recovery", func(t *testing.T) {
		f := newFixture()
		f.store.On("ResetRunning", ctx).Return(int64(0), errors.New("db down"))

		n, err := f.manager.Recover(ctx)
		assert.Error(t, err)
		assert.Equal(t, 0, n)
		f.store.AssertNotCalled(t, "ListPending", ctx)
	})
}

func searchResult(query models.SearchQuery, state crawler.State, reason models.TerminationReason, n int, err error) crawler.Result {
	records := make([]models.ListingRecord, n)
	for i := range records {
		records[i] = models.NewListingRecord("Lamp", "", "", "", "")
	}
	return crawler.Result{Query: query, Records: records, State: state, Reason: reason, Pages: 2, Err: err}
}

func TestManager_ProcessTask(t *testing.T) {
	ctx := context.Background()

	t.Run("runs search and records outcome", func(t *testing.T) {
		f := newFixture()
		id := uuid.New()
		query := models.SearchQuery{Keyword: "lamp", TargetCount: 3}
		result := searchResult(query, crawler.StateComplete, models.ReasonComplete, 3, nil)

		f.store.On("MarkRunning", ctx, id).Return(nil)
		f.store.On("UpdateProgress", ctx, id, 1, 2).Return(nil)
		f.store.On("UpdateProgress", ctx, id, 2, 3).Return(errors.New("ignored"))
		f.searcher.On("Run", ctx, query, mock.Anything).Run(func(args mock.Arguments) {
			onPage := args.Get(2).(func(crawler.PageEvent))
			onPage(crawler.PageEvent{Page: 1, Found: 2, Added: 2, Total: 2})
			onPage(crawler.PageEvent{Page: 2, Found: 2, Added: 1, Total: 3, Complete: true})
		}).Return(result)
		f.recorder.On("Record", mock.Anything, id, result.Run()).Return(nil)

		f.manager.processTask(ctx, &queue.Task{JobID: id.String(), Keyword: "lamp", TargetCount: 3})

		f.store.AssertExpectations(t)
		f.searcher.AssertExpectations(t)
		f.recorder.AssertExpectations(t)
	})

	t.Run("records partial results after cancellation", func(t *testing.T) {
		f := newFixture()
		id := uuid.New()
		cctx, cancel := context.WithCancel(ctx)
		query := models.SearchQuery{Keyword: "lamp", TargetCount: 10}
		result := searchResult(query, crawler.StateError, models.ReasonCancelled, 4, context.Canceled)

		f.store.On("MarkRunning", cctx, id).Return(nil)
		f.searcher.On("Run", cctx, query, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(result)
		f.recorder.On("Record", mock.MatchedBy(func(c context.Context) bool {
			return c.Err() == nil
		}), id, mock.MatchedBy(func(run models.SearchRun) bool {
			return run.Failed() && len(run.Records) == 4 && run.Reason == models.ReasonCancelled
		})).Return(nil)

		f.manager.processTask(cctx, &queue.Task{JobID: id.String(), Keyword: "lamp", TargetCount: 10})

		f.recorder.AssertExpectations(t)
	})

	t.Run("skips search when job cannot be started", func(t *testing.T) {
		f := newFixture()
		id := uuid.New()
		f.store.On("MarkRunning", ctx, id).Return(errors.New("db down"))

		f.manager.processTask(ctx, &queue.Task{JobID: id.String(), Keyword: "lamp", TargetCount: 3})

		f.searcher.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
		f.recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("drops malformed task", func(t *testing.T) {
		f := newFixture()

		f.manager.processTask(ctx, &queue.Task{JobID: "nope", Keyword: "lamp", TargetCount: 3})

		f.store.AssertNotCalled(t, "MarkRunning", mock.Anything, mock.Anything)
	})
}

func TestManager_StartWorker(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	query := models.SearchQuery{Keyword: "lamp", TargetCount: 1}
	result := searchResult(query, crawler.StateComplete, models.ReasonComplete, 1, nil)

	recorded := make(chan struct{})
	f.store.On("MarkRunning", mock.Anything, id).Return(nil)
	f.searcher.On("Run", mock.Anything, query, mock.Anything).Return(result)
	f.recorder.On("Record", mock.Anything, id, mock.Anything).Run(func(mock.Arguments) {
		close(recorded)
	}).Return(nil)

	stopped := make(chan struct{})
	go func() {
		f.manager.StartWorker(ctx)
		close(stopped)
	}()

	require.NoError(t, f.queue.Push(&queue.Task{JobID: id.String(), Keyword: "lamp", TargetCount: 1}))

	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("worker did not process the task")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestFinishedJob(t *testing.T) {
	id := uuid.New()
	query := models.SearchQuery{Keyword: "lamp", TargetCount: 10}

	tests := []struct {
		name   string
		run    models.SearchRun
		status database.JobStatus
	}{
		{"complete", models.SearchRun{Query: query, State: "TERMINATED_COMPLETE", Reason: models.ReasonComplete}, database.JobStatusCompleted},
		{"exhausted", models.SearchRun{Query: query, State: "TERMINATED_EXHAUSTED", Reason: models.ReasonHTTPNonRetryable}, database.JobStatusCompleted},
		{"error", models.SearchRun{Query: query, State: "TERMINATED_ERROR", Reason: models.ReasonRetriesExhausted, Error: "boom"}, database.JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := FinishedJob(id, tt.run)
			assert.Equal(t, id, job.ID)
			assert.Equal(t, tt.status, job.Status)
			assert.Equal(t, string(tt.run.Reason), job.Reason)
			assert.Equal(t, tt.run.Error, job.Error)
			assert.Equal(t, 10, job.TargetCount)
		})
	}
}

func TestArchive_Save(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	recorder := new(MockRecorder)
	archive := NewArchive(store, recorder)

	run := models.SearchRun{Query: models.SearchQuery{Keyword: "lamp", TargetCount: 5}, State: "TERMINATED_COMPLETE"}

	var created *database.SearchJob
	store.On("Create", ctx, mock.MatchedBy(func(j *database.SearchJob) bool {
		return j.Keyword == "lamp" && j.Status == database.JobStatusRunning
	})).Run(func(args mock.Arguments) {
		created = args.Get(1).(*database.SearchJob)
	}).Return(nil)
	recorder.On("Record", ctx, mock.Anything, run).Return(nil)

	require.NoError(t, archive.Save(ctx, run))
	require.NotNil(t, created)
	recorder.AssertCalled(t, "Record", ctx, created.ID, run)
}
