package discovery

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type JobEventRepo interface {
	// Append inserts the event unless its idempotency key was already seen.
	// accepted=false is the normal duplicate-delivery signal, not an error.
	Append(dbc dbctx.Context, event *types.JobEvent) (accepted bool, err error)
	GetByIdempotencyKey(dbc dbctx.Context, key string) (*types.JobEvent, error)
	MarkProcessed(dbc dbctx.Context, key string) error
	MarkFailed(dbc dbctx.Context, key string) error
	ListByCorrelation(dbc dbctx.Context, correlationID uuid.UUID) ([]*types.JobEvent, error)
}

type jobEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobEventRepo(db *gorm.DB, baseLog *logger.Logger) JobEventRepo {
	return &jobEventRepo{
		db:  db,
		log: baseLog.With("repo", "JobEventRepo"),
	}
}

func (r *jobEventRepo) Append(dbc dbctx.Context, event *types.JobEvent) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if event == nil || event.IdempotencyKey == "" {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *jobEventRepo) GetByIdempotencyKey(dbc dbctx.Context, key string) (*types.JobEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var event types.JobEvent
	err := transaction.WithContext(dbc.Ctx).
		Where("idempotency_key = ?", key).
		Limit(1).
		Find(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == uuid.Nil {
		return nil, nil
	}
	return &event, nil
}

func (r *jobEventRepo) MarkProcessed(dbc dbctx.Context, key string) error {
	return r.setStatus(dbc, key, types.EventStatusProcessed)
}

func (r *jobEventRepo) MarkFailed(dbc dbctx.Context, key string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.JobEvent{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]interface{}{
			"processing_status": types.EventStatusFailed,
			"retry_count":       gorm.Expr("retry_count + 1"),
		}).Error
}

func (r *jobEventRepo) setStatus(dbc dbctx.Context, key string, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.JobEvent{}).
		Where("idempotency_key = ?", key).
		Update("processing_status", status).Error
}

func (r *jobEventRepo) ListByCorrelation(dbc dbctx.Context, correlationID uuid.UUID) ([]*types.JobEvent, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobEvent
	if correlationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
