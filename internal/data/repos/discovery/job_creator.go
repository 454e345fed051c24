package discovery

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type JobCreatorRepo interface {
	// UpsertBatch inserts the records, silently skipping any
	// (job_id, platform, external_id) already stored for the job. The
	// returned count is how many rows the batch actually added, which keeps
	// replayed deliveries from double-counting.
	UpsertBatch(dbc dbctx.Context, records []*types.JobCreator) (inserted int, err error)
	CountByJob(dbc dbctx.Context, jobID uuid.UUID) (int, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID, offset, limit int) ([]*types.JobCreator, error)
}

type jobCreatorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobCreatorRepo(db *gorm.DB, baseLog *logger.Logger) JobCreatorRepo {
	return &jobCreatorRepo{
		db:  db,
		log: baseLog.With("repo", "JobCreatorRepo"),
	}
}

func (r *jobCreatorRepo) UpsertBatch(dbc dbctx.Context, records []*types.JobCreator) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "platform"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&records)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *jobCreatorRepo) CountByJob(dbc dbctx.Context, jobID uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.JobCreator{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *jobCreatorRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, offset, limit int) ([]*types.JobCreator, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobCreator
	if jobID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("follower_count DESC, created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
