package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/envutil"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// Worker polls the queued_task table and feeds due tasks to their handlers.
// It is the delivery engine when no external scheduler is configured, and the
// redelivery backstop when one is: a delivery the scheduler dropped still
// sits as a pending row and gets picked up here.
type Worker struct {
	log      *logger.Logger
	tasks    repos.QueuedTaskRepo
	registry *Registry
	snap     config.Snapshot
}

func NewWorker(baseLog *logger.Logger, tasks repos.QueuedTaskRepo, registry *Registry, snap config.Snapshot) *Worker {
	return &Worker{
		log:      baseLog.With("component", "TaskWorker"),
		tasks:    tasks,
		registry: registry,
		snap:     snap,
	}
}

// Run blocks until ctx is cancelled, polling with WORKER_CONCURRENCY loops.
func (w *Worker) Run(ctx context.Context) error {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	pollInterval := envutil.Duration("WORKER_POLL_INTERVAL", time.Second)
	staleProcessing := envutil.Duration("WORKER_STALE_PROCESSING", 15*time.Minute)

	w.log.Info("Starting task worker pool",
		"concurrency", concurrency,
		"poll_interval", pollInterval.String(),
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runLoop(ctx, workerID, pollInterval, staleProcessing)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int, pollInterval, staleProcessing time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			w.poll(ctx, workerID, staleProcessing)
		}
	}
}

func (w *Worker) poll(ctx context.Context, workerID int, staleProcessing time.Duration) {
	dbc := dbctx.New(ctx)
	task, err := w.tasks.ClaimNextRunnable(dbc, staleProcessing)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err.Error())
		return
	}
	if task == nil {
		return
	}
	w.dispatch(ctx, workerID, task)
}

func (w *Worker) dispatch(ctx context.Context, workerID int, task *types.QueuedTask) {
	dbc := dbctx.New(ctx)

	h, ok := w.registry.Get(task.JobType)
	if !ok {
		w.log.Error("No handler registered for job type",
			"worker_id", workerID,
			"job_type", task.JobType,
			"task_id", task.ID.String(),
		)
		_ = w.tasks.MarkFailed(dbc, task.ID, "no handler registered for job_type="+task.JobType)
		return
	}

	err := w.handleSafely(ctx, h, task)
	if err == nil {
		if mErr := w.tasks.MarkCompleted(dbc, task.ID, nil); mErr != nil {
			w.log.Warn("MarkCompleted failed", "task_id", task.ID.String(), "error", mErr.Error())
		}
		return
	}

	if wait, ok := httpx.AdvisedWait(err); ok {
		// Upstream told us when to come back; the wait costs no retry budget.
		if rErr := w.tasks.RescheduleAt(dbc, task.ID, err.Error(), wait); rErr != nil {
			w.log.Error("RescheduleAt failed", "task_id", task.ID.String(), "error", rErr.Error())
			return
		}
		w.log.Warn("Task deferred for advised wait",
			"worker_id", workerID,
			"task_id", task.ID.String(),
			"wait", wait.String(),
			"error", err.Error(),
		)
		return
	}

	delay := httpx.Backoff(w.snap.RetryBackoff(), w.snap.RetryBackoffMax(), task.RetryCount)
	exhausted, rErr := w.tasks.Reschedule(dbc, task.ID, err.Error(), delay)
	if rErr != nil {
		w.log.Error("Reschedule failed", "task_id", task.ID.String(), "error", rErr.Error())
		return
	}
	if !exhausted {
		w.log.Warn("Task rescheduled",
			"worker_id", workerID,
			"task_id", task.ID.String(),
			"retry_count", task.RetryCount+1,
			"delay", delay.String(),
			"error", err.Error(),
		)
		return
	}

	w.log.Error("Task retries exhausted",
		"worker_id", workerID,
		"task_id", task.ID.String(),
		"job_type", task.JobType,
		"error", err.Error(),
	)
	if exErr := h.OnExhausted(ctx, json.RawMessage(task.Payload), err.Error()); exErr != nil {
		w.log.Error("Exhaustion handling failed", "task_id", task.ID.String(), "error", exErr.Error())
	}
}

func (w *Worker) handleSafely(ctx context.Context, h Handler, task *types.QueuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task handler panic",
				"task_id", task.ID.String(),
				"job_type", task.JobType,
				"panic", fmt.Sprintf("%v", r),
			)
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, json.RawMessage(task.Payload))
}
