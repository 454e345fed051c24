package discovery

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

const (
	TaskTypeDiscoveryRun = "discovery_run"
)

// QueuedTask is one scheduled delivery of pipeline work. The external
// scheduler redelivers on failure (at-least-once); external_message_id is the
// handle it returned on publish. When no scheduler is configured the worker
// pool polls this table directly with the same semantics.
type QueuedTask struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobType           string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Payload           datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Priority          int            `gorm:"column:priority;not null;default:0" json:"priority"`
	MaxRetries        int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	RetryCount        int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	ScheduledFor      time.Time      `gorm:"column:scheduled_for;not null;index" json:"scheduled_for"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	ExternalMessageID string         `gorm:"column:external_message_id" json:"external_message_id,omitempty"`
	Result            datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	LastError         string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LockedAt          *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (QueuedTask) TableName() string { return "queued_task" }
