package discovery

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusError      = "error"
	JobStatusTimeout    = "timeout"
)

const (
	SearchModeKeyword = "keyword"
	SearchModeSimilar = "similar"
)

const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

// ScrapeJob is one logical unit of creator-discovery work. The row is the
// single source of truth for the job state machine:
//
//	pending -> processing -> {completed, error, timeout}
//
// with processing -> processing continuations that advance the cursor.
// Terminal states are never left.
type ScrapeJob struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CampaignID        *uuid.UUID     `gorm:"type:uuid;column:campaign_id;index" json:"campaign_id,omitempty"`
	Platform          string         `gorm:"column:platform;not null;index" json:"platform"`
	SearchMode        string         `gorm:"column:search_mode;not null" json:"search_mode"`
	Keywords          datatypes.JSON `gorm:"column:keywords;type:jsonb" json:"keywords,omitempty"`
	TargetHandle      string         `gorm:"column:target_handle" json:"target_handle,omitempty"`
	TargetResultCount int            `gorm:"column:target_result_count;not null" json:"target_result_count"`
	Cursor            string         `gorm:"column:cursor;not null;default:''" json:"cursor"`
	ProcessedRuns     int            `gorm:"column:processed_runs;not null;default:0" json:"processed_runs"`
	ProcessedResults  int            `gorm:"column:processed_results;not null;default:0" json:"processed_results"`
	ProgressPercent   int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	LastError         string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	StartedAt         *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	TimeoutAt         *time.Time     `gorm:"column:timeout_at;index" json:"timeout_at,omitempty"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ScrapeJob) TableName() string { return "scrape_job" }

func (j *ScrapeJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusError, JobStatusTimeout:
		return true
	default:
		return false
	}
}

// ProgressFor derives the clamped 0-100 progress for a result count against
// the job's target.
func (j *ScrapeJob) ProgressFor(results int) int {
	if j.TargetResultCount <= 0 {
		return 0
	}
	pct := results * 100 / j.TargetResultCount
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
