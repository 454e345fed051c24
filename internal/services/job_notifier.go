package services

import (
	"context"
	"time"

	redisbus "github.com/trendsift/trendsift-backend/internal/clients/redis"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// JobNotifier announces job lifecycle changes to the presentation layer.
// Notification is fire-and-forget: a failed publish is logged and swallowed,
// never allowed to fail the job work that triggered it.
type JobNotifier interface {
	JobCreated(ctx context.Context, job *types.ScrapeJob)
	JobProgress(ctx context.Context, job *types.ScrapeJob)
	JobCompleted(ctx context.Context, job *types.ScrapeJob)
	JobFailed(ctx context.Context, job *types.ScrapeJob)
	JobTimedOut(ctx context.Context, job *types.ScrapeJob)
}

type jobNotification struct {
	Event             string    `json:"event"`
	JobID             string    `json:"job_id"`
	Status            string    `json:"status"`
	ProcessedResults  int       `json:"processed_results"`
	TargetResultCount int       `json:"target_result_count"`
	ProgressPercent   int       `json:"progress_percent"`
	LastError         string    `json:"last_error,omitempty"`
	At                time.Time `json:"at"`
}

type redisJobNotifier struct {
	log *logger.Logger
	bus redisbus.EventBus
}

func NewRedisJobNotifier(log *logger.Logger, bus redisbus.EventBus) JobNotifier {
	return &redisJobNotifier{log: log.With("service", "JobNotifier"), bus: bus}
}

func (n *redisJobNotifier) JobCreated(ctx context.Context, job *types.ScrapeJob) {
	n.publish(ctx, "job.created", job)
}

func (n *redisJobNotifier) JobProgress(ctx context.Context, job *types.ScrapeJob) {
	n.publish(ctx, "job.progress", job)
}

func (n *redisJobNotifier) JobCompleted(ctx context.Context, job *types.ScrapeJob) {
	n.publish(ctx, "job.completed", job)
}

func (n *redisJobNotifier) JobFailed(ctx context.Context, job *types.ScrapeJob) {
	n.publish(ctx, "job.failed", job)
}

func (n *redisJobNotifier) JobTimedOut(ctx context.Context, job *types.ScrapeJob) {
	n.publish(ctx, "job.timed_out", job)
}

func (n *redisJobNotifier) publish(ctx context.Context, event string, job *types.ScrapeJob) {
	if job == nil {
		return
	}
	msg := jobNotification{
		Event:             event,
		JobID:             job.ID.String(),
		Status:            job.Status,
		ProcessedResults:  job.ProcessedResults,
		TargetResultCount: job.TargetResultCount,
		ProgressPercent:   job.ProgressPercent,
		LastError:         job.LastError,
		At:                time.Now().UTC(),
	}
	if err := n.bus.Publish(ctx, "user:"+job.UserID.String(), msg); err != nil {
		n.log.Warn("Job notification publish failed",
			"event", event,
			"job_id", job.ID.String(),
			"error", err.Error(),
		)
	}
}

type nopJobNotifier struct{}

// NewNopJobNotifier is used when REDIS_ADDR is unset.
func NewNopJobNotifier() JobNotifier { return nopJobNotifier{} }

func (nopJobNotifier) JobCreated(context.Context, *types.ScrapeJob)   {}
func (nopJobNotifier) JobProgress(context.Context, *types.ScrapeJob)  {}
func (nopJobNotifier) JobCompleted(context.Context, *types.ScrapeJob) {}
func (nopJobNotifier) JobFailed(context.Context, *types.ScrapeJob)    {}
func (nopJobNotifier) JobTimedOut(context.Context, *types.ScrapeJob)  {}
