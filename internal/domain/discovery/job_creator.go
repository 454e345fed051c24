package discovery

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EnhancementNotAttempted = "not_attempted"
	EnhancementEnhanced     = "enhanced"
	EnhancementFailed       = "failed"
)

// JobCreator is one normalized creator profile accumulated for a job.
// (platform, external_id) identifies the same creator across jobs; within a
// job the composite unique index makes inserts idempotent under redelivery.
type JobCreator struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID             uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uniq_job_platform_external" json:"job_id"`
	Platform          string         `gorm:"column:platform;not null;uniqueIndex:uniq_job_platform_external" json:"platform"`
	ExternalID        string         `gorm:"column:external_id;not null;uniqueIndex:uniq_job_platform_external" json:"external_id"`
	Handle            string         `gorm:"column:handle;index" json:"handle"`
	DisplayName       string         `gorm:"column:display_name" json:"display_name,omitempty"`
	FollowerCount     int64          `gorm:"column:follower_count;not null;default:0" json:"follower_count"`
	Biography         string         `gorm:"column:biography;type:text" json:"biography,omitempty"`
	Emails            datatypes.JSON `gorm:"column:emails;type:jsonb" json:"emails,omitempty"`
	EnhancementStatus string         `gorm:"column:enhancement_status;not null;default:'not_attempted'" json:"enhancement_status"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobCreator) TableName() string { return "job_creator" }
