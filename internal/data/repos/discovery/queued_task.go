package discovery

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/dbctx"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type QueuedTaskRepo interface {
	Create(dbc dbctx.Context, task *types.QueuedTask) (*types.QueuedTask, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.QueuedTask, error)
	// ClaimNextRunnable picks one due task and marks it processing under
	// FOR UPDATE SKIP LOCKED, so concurrent pollers never claim the same row.
	ClaimNextRunnable(dbc dbctx.Context, staleProcessing time.Duration) (*types.QueuedTask, error)
	MarkCompleted(dbc dbctx.Context, id uuid.UUID, result map[string]any) error
	// Reschedule records a retryable failure and pushes scheduled_for out by
	// delay; once retry_count reaches max_retries the task goes terminal
	// failed instead and exhausted=true is returned.
	Reschedule(dbc dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) (exhausted bool, err error)
	// RescheduleAt pushes the task out by delay without spending retry
	// budget. Used when the upstream advised its own wait: waiting out a
	// rate limit is not a failed attempt.
	RescheduleAt(dbc dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error
	SetExternalMessageID(dbc dbctx.Context, id uuid.UUID, messageID string) error
}

type queuedTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueuedTaskRepo(db *gorm.DB, baseLog *logger.Logger) QueuedTaskRepo {
	return &queuedTaskRepo{
		db:  db,
		log: baseLog.With("repo", "QueuedTaskRepo"),
	}
}

func (r *queuedTaskRepo) Create(dbc dbctx.Context, task *types.QueuedTask) (*types.QueuedTask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if task == nil {
		return nil, errors.New("nil task")
	}
	if err := transaction.WithContext(dbc.Ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *queuedTaskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.QueuedTask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task types.QueuedTask
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *queuedTaskRepo) ClaimNextRunnable(dbc dbctx.Context, staleProcessing time.Duration) (*types.QueuedTask, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleProcessing)
	var claimed *types.QueuedTask
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var task types.QueuedTask
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND scheduled_for <= ?)
          OR (
            status = ?
            AND locked_at IS NOT NULL
            AND locked_at < ?
          )
        )
      `, types.TaskStatusPending, now, types.TaskStatusProcessing, staleCutoff).
			Order("priority DESC, scheduled_for ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.QueuedTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":     types.TaskStatusProcessing,
				"locked_at":  now,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queuedTaskRepo) MarkCompleted(dbc dbctx.Context, id uuid.UUID, result map[string]any) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":     types.TaskStatusCompleted,
		"locked_at":  nil,
		"last_error": "",
		"updated_at": now,
	}
	if result != nil {
		updates["result"] = jsonValue(result)
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.QueuedTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *queuedTaskRepo) Reschedule(dbc dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	task, err := r.GetByID(dbctx.New(dbc.Ctx).WithTx(transaction), id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	now := time.Now()
	if task.RetryCount+1 >= task.MaxRetries {
		err := transaction.WithContext(dbc.Ctx).
			Model(&types.QueuedTask{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":      types.TaskStatusFailed,
				"retry_count": gorm.Expr("retry_count + 1"),
				"last_error":  lastError,
				"locked_at":   nil,
				"updated_at":  now,
			}).Error
		return true, err
	}
	err = transaction.WithContext(dbc.Ctx).
		Model(&types.QueuedTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.TaskStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    lastError,
			"scheduled_for": now.Add(delay),
			"locked_at":     nil,
			"updated_at":    now,
		}).Error
	return false, err
}

func (r *queuedTaskRepo) RescheduleAt(dbc dbctx.Context, id uuid.UUID, lastError string, delay time.Duration) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.QueuedTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.TaskStatusPending,
			"last_error":    lastError,
			"scheduled_for": now.Add(delay),
			"locked_at":     nil,
			"updated_at":    now,
		}).Error
}

func (r *queuedTaskRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.QueuedTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     types.TaskStatusFailed,
			"last_error": lastError,
			"locked_at":  nil,
			"updated_at": now,
		}).Error
}

func (r *queuedTaskRepo) SetExternalMessageID(dbc dbctx.Context, id uuid.UUID, messageID string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || messageID == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.QueuedTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"external_message_id": messageID,
			"updated_at":          time.Now(),
		}).Error
}
