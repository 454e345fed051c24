package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	"github.com/trendsift/trendsift-backend/internal/discovery/enrich"
	"github.com/trendsift/trendsift-backend/internal/discovery/pagination"
	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/httpx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
	"github.com/trendsift/trendsift-backend/internal/platform/taskqueue"
)

// TaskPayload is the body of one scheduled run delivery. The same payload
// flows through the external scheduler's callback and the polled queue; the
// cursor it carries is the cursor the run expects to find on the job.
type TaskPayload struct {
	JobID  uuid.UUID `json:"job_id"`
	Cursor string    `json:"cursor"`
}

// IdempotencyKey identifies this delivery's unit of work. Redeliveries of the
// same run carry the same job id and cursor, so they collide on the ledger.
func (p TaskPayload) IdempotencyKey() string {
	return p.JobID.String() + ":run:" + p.Cursor
}

// HandlerRegistry is the closed set of platform adapters the dispatcher
// resolves against.
type HandlerRegistry interface {
	Resolve(platform string) (platforms.Handler, error)
	ProfileSourceFor(platform string) (platforms.ProfileSource, error)
}

// TaskPublisher hands continuation tasks to the external scheduler.
type TaskPublisher interface {
	Enabled() bool
	Publish(ctx context.Context, req taskqueue.PublishRequest) (string, error)
}

// Dispatcher owns the processing side of the job state machine. HandleTask is
// written to be delivered more than once: every write it performs is either
// conditional, idempotent, or recomputed from stored rows, so a redelivery
// converges on the same state instead of doubling it.
type Dispatcher struct {
	log       *logger.Logger
	repos     repos.Set
	registry  HandlerRegistry
	engine    *pagination.Engine
	scheduler TaskPublisher
	notifier  JobNotifier
	snap      config.Snapshot
}

func NewDispatcher(log *logger.Logger, rs repos.Set, registry HandlerRegistry, engine *pagination.Engine, scheduler TaskPublisher, notifier JobNotifier, snap config.Snapshot) *Dispatcher {
	return &Dispatcher{
		log:       log.With("service", "Dispatcher"),
		repos:     rs,
		registry:  registry,
		engine:    engine,
		scheduler: scheduler,
		notifier:  notifier,
		snap:      snap,
	}
}

// HandleTask executes one delivery of one run. A nil return means the
// delivery is settled (work done, duplicate, stale, or job already concluded,
// including permanent failures recorded on the job). A non-nil return means
// the work is worth redelivering: the caller reschedules with backoff, using
// the advised wait for rate limits.
func (d *Dispatcher) HandleTask(ctx context.Context, payload TaskPayload) error {
	dbc := dbctx.New(ctx)
	key := payload.IdempotencyKey()

	existing, err := d.repos.JobEvent.GetByIdempotencyKey(dbc, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.ProcessingStatus == types.EventStatusProcessed {
		d.log.Info("Duplicate delivery ignored", "idempotency_key", key)
		return nil
	}

	accepted, err := d.repos.JobEvent.Append(dbc, &types.JobEvent{
		AggregateID:      payload.JobID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobRun,
		EventData:        eventData(map[string]any{"cursor": payload.Cursor}),
		IdempotencyKey:   key,
		ProcessingStatus: types.EventStatusPending,
		CorrelationID:    payload.JobID,
	})
	if err != nil {
		return err
	}
	if !accepted {
		d.log.Info("Resuming interrupted run", "idempotency_key", key)
	}

	job, err := d.repos.ScrapeJob.GetByID(dbc, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		d.log.Warn("Run delivered for missing job", "job_id", payload.JobID.String())
		return d.repos.JobEvent.MarkProcessed(dbc, key)
	}
	if job.Terminal() {
		d.log.Info("Run delivered for concluded job", "job_id", job.ID.String(), "status", job.Status)
		return d.repos.JobEvent.MarkProcessed(dbc, key)
	}
	if job.TimeoutAt != nil && time.Now().After(*job.TimeoutAt) {
		return d.timeoutJob(dbc, job, key)
	}

	if job.Cursor != payload.Cursor {
		d.log.Info("Stale cursor delivery ignored",
			"job_id", job.ID.String(),
			"payload_cursor", payload.Cursor,
			"job_cursor", job.Cursor,
		)
		return d.repos.JobEvent.MarkProcessed(dbc, key)
	}

	if job.Status == types.JobStatusPending {
		timeoutAt := timeoutAtFrom(d.snap, time.Now())
		claimed, err := d.repos.ScrapeJob.ClaimPending(dbc, job.ID, timeoutAt)
		if err != nil {
			return err
		}
		if !claimed {
			// A concurrent delivery won the claim and owns this key now.
			d.log.Info("Lost pending claim", "job_id", job.ID.String())
			return nil
		}
		job.Status = types.JobStatusProcessing
		job.TimeoutAt = &timeoutAt
	}

	tuning := d.snap.Platform(job.Platform)
	handler, err := d.registry.Resolve(job.Platform)
	if err != nil {
		return d.failJob(dbc, job, key, err)
	}

	res, err := d.engine.RunOnce(ctx, job, handler, tuning)
	if err != nil {
		kind := httpx.Classify(err)
		if kind == httpx.KindPermanent {
			return d.failJob(dbc, job, key, err)
		}
		d.log.Warn("Run fetch failed, leaving for redelivery",
			"job_id", job.ID.String(),
			"kind", kind.String(),
			"error", err.Error(),
		)
		return err
	}

	d.enhanceRecords(ctx, job, res, tuning)

	count, err := d.persistRun(dbc, job, payload.Cursor, res)
	if err != nil {
		return err
	}
	if count < 0 {
		// Cursor moved underneath us; the delivery that moved it owns the key.
		return nil
	}

	if err := d.repos.JobEvent.MarkProcessed(dbc, key); err != nil {
		return err
	}

	job.ProcessedResults = count
	job.ProgressPercent = job.ProgressFor(count)
	job.Cursor = res.NextCursor
	d.notifier.JobProgress(ctx, job)

	switch {
	case res.TimedOut:
		return d.timeoutJob(dbc, job, key)
	case count >= job.TargetResultCount || res.Exhausted:
		return d.completeJob(dbc, job)
	default:
		return d.EnqueueRun(dbc, job.ID, res.NextCursor, 0)
	}
}

// enhanceRecords walks the run's records sequentially, filling in biographies
// and emails. All lookups for the run share one pacer.
func (d *Dispatcher) enhanceRecords(ctx context.Context, job *types.ScrapeJob, res *pagination.RunResult, tuning config.PlatformTuning) {
	if len(res.Records) == 0 {
		return
	}
	source, err := d.registry.ProfileSourceFor(job.Platform)
	if err != nil {
		d.log.Warn("No profile source for platform", "platform", job.Platform)
		return
	}
	enricher := enrich.NewEnricher(d.log, source, tuning.EnrichDelay())
	for i := range res.Records {
		res.Records[i] = enricher.Enhance(ctx, res.Records[i])
	}
}

// persistRun stores the run's records and advances the job cursor in one
// optimistic step. The returned count is the job's recomputed result total,
// capped at target; -1 means the observed cursor went stale.
func (d *Dispatcher) persistRun(dbc dbctx.Context, job *types.ScrapeJob, observedCursor string, res *pagination.RunResult) (int, error) {
	rows := make([]*types.JobCreator, 0, len(res.Records))
	for _, rec := range res.Records {
		row := &types.JobCreator{
			JobID:             job.ID,
			Platform:          rec.Platform,
			ExternalID:        rec.ExternalID,
			Handle:            rec.Handle,
			DisplayName:       rec.DisplayName,
			FollowerCount:     rec.FollowerCount,
			Biography:         rec.Biography,
			EnhancementStatus: rec.EnhancementStatus,
		}
		if len(rec.Emails) > 0 {
			if raw, err := json.Marshal(rec.Emails); err == nil {
				row.Emails = datatypes.JSON(raw)
			}
		}
		rows = append(rows, row)
	}

	inserted, err := d.repos.JobCreator.UpsertBatch(dbc, rows)
	if err != nil {
		return 0, err
	}

	// Recount from stored rows rather than trusting in-memory math: replayed
	// pages insert zero new rows and the count stays correct.
	count, err := d.repos.JobCreator.CountByJob(dbc, job.ID)
	if err != nil {
		return 0, err
	}
	if count > job.TargetResultCount {
		count = job.TargetResultCount
	}

	advanced, err := d.repos.ScrapeJob.AdvanceCursor(dbc, job.ID, observedCursor, res.NextCursor, count, job.ProgressFor(count))
	if err != nil {
		return 0, err
	}
	if !advanced {
		d.log.Info("Cursor advance rejected as stale",
			"job_id", job.ID.String(),
			"observed_cursor", observedCursor,
		)
		return -1, nil
	}

	d.log.Info("Run persisted",
		"job_id", job.ID.String(),
		"pages", res.PagesFetched,
		"fetched", len(res.Records),
		"inserted", inserted,
		"total", count,
	)
	return count, nil
}

// EnqueueRun records the next run on the queue and, when a scheduler is
// configured, publishes it there too. A scheduler publish failure is logged
// and absorbed: the queued row keeps the polled delivery path alive.
func (d *Dispatcher) EnqueueRun(dbc dbctx.Context, jobID uuid.UUID, cursor string, delay time.Duration) error {
	payload := TaskPayload{JobID: jobID, Cursor: cursor}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}

	task, err := d.repos.QueuedTask.Create(dbc, &types.QueuedTask{
		JobType:      types.TaskTypeDiscoveryRun,
		Payload:      datatypes.JSON(raw),
		MaxRetries:   d.snap.TaskMaxRetries,
		ScheduledFor: time.Now().Add(delay),
		Status:       types.TaskStatusPending,
	})
	if err != nil {
		return err
	}

	if d.scheduler == nil || !d.scheduler.Enabled() {
		return nil
	}
	messageID, err := d.scheduler.Publish(dbc.Ctx, taskqueue.PublishRequest{
		Body:          payload,
		Delay:         delay,
		Deduplication: payload.IdempotencyKey(),
	})
	if err != nil {
		d.log.Warn("Scheduler publish failed, polling will deliver",
			"job_id", jobID.String(),
			"task_id", task.ID.String(),
			"error", err.Error(),
		)
		return nil
	}
	return d.repos.QueuedTask.SetExternalMessageID(dbc, task.ID, messageID)
}

// HandleTaskFailure concludes a job whose run exhausted its retry budget.
func (d *Dispatcher) HandleTaskFailure(ctx context.Context, payload TaskPayload, lastError string) error {
	dbc := dbctx.New(ctx)
	job, err := d.repos.ScrapeJob.GetByID(dbc, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil || job.Terminal() {
		return nil
	}
	return d.failJob(dbc, job, payload.IdempotencyKey(), fmt.Errorf("retries exhausted: %s", lastError))
}

func (d *Dispatcher) failJob(dbc dbctx.Context, job *types.ScrapeJob, runKey string, cause error) error {
	marked, err := d.repos.ScrapeJob.MarkError(dbc, job.ID, cause.Error())
	if err != nil {
		return err
	}
	if err := d.repos.JobEvent.MarkFailed(dbc, runKey); err != nil {
		return err
	}
	if !marked {
		return nil
	}
	if _, err := d.repos.JobEvent.Append(dbc, &types.JobEvent{
		AggregateID:      job.ID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobFailed,
		EventData:        eventData(map[string]any{"error": cause.Error()}),
		IdempotencyKey:   job.ID.String() + ":failed",
		ProcessingStatus: types.EventStatusProcessed,
		CorrelationID:    job.ID,
	}); err != nil {
		return err
	}

	d.log.Warn("Job failed", "job_id", job.ID.String(), "error", cause.Error())
	job.Status = types.JobStatusError
	job.LastError = cause.Error()
	d.notifier.JobFailed(dbc.Ctx, job)
	return nil
}

func (d *Dispatcher) timeoutJob(dbc dbctx.Context, job *types.ScrapeJob, runKey string) error {
	marked, err := d.repos.ScrapeJob.MarkTimeout(dbc, job.ID)
	if err != nil {
		return err
	}
	if err := d.repos.JobEvent.MarkProcessed(dbc, runKey); err != nil {
		return err
	}
	if !marked {
		return nil
	}
	if _, err := d.repos.JobEvent.Append(dbc, &types.JobEvent{
		AggregateID:      job.ID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobTimedOut,
		EventData:        eventData(map[string]any{"processed_results": job.ProcessedResults}),
		IdempotencyKey:   job.ID.String() + ":timeout",
		ProcessingStatus: types.EventStatusProcessed,
		CorrelationID:    job.ID,
	}); err != nil {
		return err
	}

	d.log.Warn("Job timed out, partial results kept",
		"job_id", job.ID.String(),
		"processed_results", job.ProcessedResults,
	)
	job.Status = types.JobStatusTimeout
	d.notifier.JobTimedOut(dbc.Ctx, job)
	return nil
}

func (d *Dispatcher) completeJob(dbc dbctx.Context, job *types.ScrapeJob) error {
	marked, err := d.repos.ScrapeJob.MarkCompleted(dbc, job.ID)
	if err != nil {
		return err
	}
	if !marked {
		return nil
	}
	if _, err := d.repos.JobEvent.Append(dbc, &types.JobEvent{
		AggregateID:      job.ID,
		AggregateType:    types.AggregateTypeScrapeJob,
		EventType:        types.EventTypeJobCompleted,
		EventData:        eventData(map[string]any{"processed_results": job.ProcessedResults}),
		IdempotencyKey:   job.ID.String() + ":completed",
		ProcessingStatus: types.EventStatusProcessed,
		CorrelationID:    job.ID,
	}); err != nil {
		return err
	}

	d.log.Info("Job completed",
		"job_id", job.ID.String(),
		"processed_results", job.ProcessedResults,
	)
	job.Status = types.JobStatusCompleted
	d.notifier.JobCompleted(dbc.Ctx, job)
	return nil
}
