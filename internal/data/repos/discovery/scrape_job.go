package discovery

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type ScrapeJobRepo interface {
	Create(dbc dbctx.Context, job *types.ScrapeJob) (*types.ScrapeJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ScrapeJob, error)
	GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.ScrapeJob, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.ScrapeJob, error)
	// ClaimPending is the exclusive pending -> processing transition. It is a
	// single conditional update so two redelivered messages can never both
	// win the claim; the loser sees claimed=false.
	ClaimPending(dbc dbctx.Context, id uuid.UUID, timeoutAt time.Time) (bool, error)
	// AdvanceCursor applies one continuation: counters and cursor move forward
	// only if the caller still holds the cursor value it last observed
	// (optimistic concurrency). A stale observed cursor advances nothing.
	AdvanceCursor(dbc dbctx.Context, id uuid.UUID, observedCursor string, newCursor string, processedResults int, progressPercent int) (bool, error)
	MarkCompleted(dbc dbctx.Context, id uuid.UUID) (bool, error)
	MarkError(dbc dbctx.Context, id uuid.UUID, lastError string) (bool, error)
	MarkTimeout(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type scrapeJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScrapeJobRepo(db *gorm.DB, baseLog *logger.Logger) ScrapeJobRepo {
	return &scrapeJobRepo{
		db:  db,
		log: baseLog.With("repo", "ScrapeJobRepo"),
	}
}

func (r *scrapeJobRepo) Create(dbc dbctx.Context, job *types.ScrapeJob) (*types.ScrapeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *scrapeJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ScrapeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.ScrapeJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *scrapeJobRepo) GetByIDForUser(dbc dbctx.Context, userID uuid.UUID, id uuid.UUID) (*types.ScrapeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var job types.ScrapeJob
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *scrapeJobRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.ScrapeJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ScrapeJob
	if userID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scrapeJobRepo) ClaimPending(dbc dbctx.Context, id uuid.UUID, timeoutAt time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ScrapeJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     types.JobStatusProcessing,
			"started_at": now,
			"timeout_at": timeoutAt,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *scrapeJobRepo) AdvanceCursor(dbc dbctx.Context, id uuid.UUID, observedCursor string, newCursor string, processedResults int, progressPercent int) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ScrapeJob{}).
		Where("id = ? AND status = ? AND cursor = ?", id, types.JobStatusProcessing, observedCursor).
		Updates(map[string]interface{}{
			"cursor":            newCursor,
			"processed_runs":    gorm.Expr("processed_runs + 1"),
			"processed_results": gorm.Expr("LEAST(?, target_result_count)", processedResults),
			"progress_percent":  progressPercent,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *scrapeJobRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ScrapeJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":       types.JobStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *scrapeJobRepo) MarkError(dbc dbctx.Context, id uuid.UUID, lastError string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ScrapeJob{}).
		Where("id = ? AND status IN ?", id, []string{types.JobStatusPending, types.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       types.JobStatusError,
			"last_error":   lastError,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *scrapeJobRepo) MarkTimeout(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ScrapeJob{}).
		Where("id = ? AND status IN ?", id, []string{types.JobStatusPending, types.JobStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       types.JobStatusTimeout,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
