package pagination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// RunResult is what one invocation's fetch loop produced. NextCursor is only
// meaningful when the loop finished without error; callers persist Records and
// advance the job cursor together.
type RunResult struct {
	Records      []platforms.CreatorProfile
	NextCursor   string
	Exhausted    bool
	TimedOut     bool
	PagesFetched int
}

// Engine drives a platform handler through at most one invocation's worth of
// pages. It holds no per-job state; the cursor lives on the job row.
type Engine struct {
	log *logger.Logger
}

func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log.With("engine", "PaginationEngine")}
}

// RunOnce fetches pages starting at the job's cursor until the job's remaining
// target is covered, the source is exhausted, the per-run page budget is spent,
// or the job's deadline passes. A fetch error aborts the run; nothing from the
// failed run is returned, so a redelivery refetches from the same cursor and
// the result store's dedupe absorbs the overlap.
func (e *Engine) RunOnce(ctx context.Context, job *types.ScrapeJob, handler platforms.Handler, tuning config.PlatformTuning) (*RunResult, error) {
	params, err := searchParamsFor(job, tuning)
	if err != nil {
		return nil, err
	}

	remaining := job.TargetResultCount - job.ProcessedResults
	if remaining <= 0 {
		return &RunResult{NextCursor: job.Cursor, Exhausted: false}, nil
	}

	maxPages := tuning.MaxPagesPerRun
	if maxPages <= 0 {
		maxPages = 1
	}

	res := &RunResult{NextCursor: job.Cursor}
	for res.PagesFetched < maxPages {
		if deadlinePassed(job) {
			res.TimedOut = true
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		page, err := handler.FetchPage(ctx, params, res.NextCursor)
		if err != nil {
			return nil, err
		}
		res.PagesFetched++
		res.NextCursor = page.NextCursor

		res.Records = append(res.Records, page.Records...)
		if len(res.Records) >= remaining {
			res.Records = res.Records[:remaining]
			e.log.Debug("Run target covered",
				"job_id", job.ID.String(),
				"pages", res.PagesFetched,
				"records", len(res.Records),
			)
			return res, nil
		}

		if page.Exhausted {
			res.Exhausted = true
			e.log.Debug("Source exhausted",
				"job_id", job.ID.String(),
				"pages", res.PagesFetched,
				"records", len(res.Records),
			)
			return res, nil
		}
	}
	return res, nil
}

func deadlinePassed(job *types.ScrapeJob) bool {
	return job.TimeoutAt != nil && time.Now().After(*job.TimeoutAt)
}

func searchParamsFor(job *types.ScrapeJob, tuning config.PlatformTuning) (platforms.SearchParams, error) {
	params := platforms.SearchParams{
		Mode:         job.SearchMode,
		TargetHandle: job.TargetHandle,
		PageSize:     tuning.PageSize,
	}
	if len(job.Keywords) > 0 {
		if err := json.Unmarshal(job.Keywords, &params.Keywords); err != nil {
			return params, err
		}
	}
	return params, nil
}
