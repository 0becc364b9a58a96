package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrInvalidTask = errors.New("invalid task")
)

// Task asks the worker to run one keyword search for a stored job.
type Task struct {
	JobID       string
	Keyword     string
	TargetCount int
	Priority    int
	CreatedAt   time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue orders tasks by descending priority and keeps insertion
// order among equal priorities.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	notify chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	if task == nil || task.JobID == "" || task.Keyword == "" {
		return ErrInvalidTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	q.tasks = append(q.tasks, task)
	slices.SortStableFunc(q.tasks, func(a, b *Task) int {
		return b.Priority - a.Priority
	})
	q.signal()

	return nil
}

// Pop blocks until a task is available, the queue is closed and drained,
// or ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			if len(q.tasks) > 0 && !q.closed {
				q.signal()
			}
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}

// signal must be called with mu held and the queue open.
func (q *InMemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
