package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/store"
)

// ProgressFunc reports pipeline progress as a 0-100 percentage. Reports are
// best-effort; a failed write never aborts the task.
type ProgressFunc func(progress int)

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, task *Task, report ProgressFunc) (any, error)

// Observer is notified once per task delivery with its terminal outcome.
// Requeued attempts are not terminal and are not reported.
type Observer func(taskType, status string, elapsed time.Duration)

// Executor owns the worker pool: it submits tasks from the API tier and
// drains them on the worker tier.
type Executor struct {
	store    store.JobStore
	broker   Broker
	logger   *slog.Logger
	handlers map[string]Handler
	workers  int
	delayFn  func(attempts int) time.Duration
	observer Observer
}

// SetObserver installs the outcome hook. Not safe to call once Run has
// started.
func (e *Executor) SetObserver(observer Observer) {
	e.observer = observer
}

func (e *Executor) observe(taskType, status string, elapsed time.Duration) {
	if e.observer != nil {
		e.observer(taskType, status, elapsed)
	}
}

func NewExecutor(jobStore store.JobStore, broker Broker, logger *slog.Logger, workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{
		store:    jobStore,
		broker:   broker,
		logger:   logger,
		handlers: make(map[string]Handler),
		workers:  workers,
		delayFn:  retryDelay,
	}
}

// Register binds a handler to a task type. Not safe to call once Run has
// started.
func (e *Executor) Register(taskType string, handler Handler) {
	e.handlers[taskType] = handler
}

// Submit creates the durable job record, then enqueues the task. The record
// exists before the task is visible so a status poll can never miss it.
func (e *Executor) Submit(ctx context.Context, orgID int64, taskType string, payload any) (*store.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs.Submit: %w", err)
	}

	job := &store.Job{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Type:      taskType,
		Status:    store.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs.Submit: %w", err)
	}

	task := &Task{
		ID:         job.ID,
		Type:       taskType,
		OrgID:      orgID,
		Payload:    raw,
		EnqueuedAt: job.CreatedAt,
	}
	if err := e.broker.Enqueue(ctx, task); err != nil {
		// The record exists but the task never will; fail it so the poll
		// does not hang on "queued" forever.
		if markErr := e.store.MarkJobFailed(ctx, job.ID, "enqueue failed"); markErr != nil {
			e.logger.Error("mark job failed after enqueue error", "error", markErr, "job_id", job.ID)
		}
		return nil, fmt.Errorf("jobs.Submit: %w", err)
	}
	return job, nil
}

// Cancel raises the cooperative cancellation flag. The running handler
// notices at its next checkpoint.
func (e *Executor) Cancel(ctx context.Context, taskID string) error {
	return e.broker.Cancel(ctx, taskID)
}

// Run drains the queue with the configured number of workers until the
// context ends.
func (e *Executor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		group.Go(func() error {
			return e.worker(ctx)
		})
	}
	return group.Wait()
}

func (e *Executor) worker(ctx context.Context) error {
	for {
		task, err := e.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("dequeue", "error", err)
			continue
		}
		e.execute(ctx, task)
	}
}

func (e *Executor) execute(ctx context.Context, task *Task) {
	logger := e.logger.With("job_id", task.ID, "type", task.Type, "org_id", task.OrgID, "attempt", task.Attempts)

	if canceled, err := e.broker.IsCanceled(ctx, task.ID); err == nil && canceled {
		logger.Info("task canceled before start")
		e.finish(ctx, task, func() error { return e.store.MarkJobFailed(ctx, task.ID, "canceled") })
		return
	}

	handler, ok := e.handlers[task.Type]
	if !ok {
		logger.Error("no handler registered")
		e.finish(ctx, task, func() error { return e.store.MarkJobFailed(ctx, task.ID, "unknown task type") })
		return
	}

	if err := e.store.MarkJobRunning(ctx, task.ID); err != nil {
		logger.Error("mark running", "error", err)
	}
	report := func(progress int) {
		if err := e.store.UpdateJobProgress(ctx, task.ID, progress); err != nil {
			logger.Warn("update progress", "error", err, "progress", progress)
		}
	}

	started := time.Now()
	result, err := handler(ctx, task, report)
	if err == nil {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			raw = nil
		}
		logger.Info("task completed", "duration", time.Since(started))
		e.observe(task.Type, string(store.JobCompleted), time.Since(started))
		e.finish(ctx, task, func() error { return e.store.MarkJobCompleted(ctx, task.ID, raw) })
		return
	}

	if apperr.Retryable(err) && task.Attempts+1 < maxAttempts {
		delay := e.delayFn(task.Attempts)
		logger.Warn("task failed, retrying", "error", err, "delay", delay)
		if markErr := e.store.MarkJobQueued(ctx, task.ID); markErr != nil {
			logger.Error("mark queued", "error", markErr)
		}
		if requeueErr := e.broker.Requeue(ctx, task, delay); requeueErr != nil {
			logger.Error("requeue", "error", requeueErr)
			_ = e.store.MarkJobFailed(ctx, task.ID, err.Error())
		}
		return
	}

	logger.Error("task failed", "error", err, "duration", time.Since(started))
	e.observe(task.Type, string(store.JobFailed), time.Since(started))
	e.finish(ctx, task, func() error { return e.store.MarkJobFailed(ctx, task.ID, err.Error()) })
}

// finish applies the terminal state and acks the delivery.
func (e *Executor) finish(ctx context.Context, task *Task, mark func() error) {
	if err := mark(); err != nil {
		e.logger.Error("mark terminal state", "error", err, "job_id", task.ID)
	}
	if err := e.broker.Ack(ctx, task); err != nil {
		e.logger.Error("ack", "error", err, "job_id", task.ID)
	}
}

func retryDelay(attempts int) time.Duration {
	return time.Duration(30*(1<<attempts)) * time.Second
}
