package discovery

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventStatusPending   = "pending"
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
)

const (
	EventTypeJobSubmitted  = "job.submitted"
	EventTypeJobRun        = "job.run"
	EventTypeJobCompleted  = "job.completed"
	EventTypeJobFailed     = "job.failed"
	EventTypeJobTimedOut   = "job.timed_out"
	AggregateTypeScrapeJob = "scrape_job"
)

// JobEvent is the append-only ledger of state transitions. The unique
// idempotency_key is what makes duplicate task delivery safe: a second insert
// with a seen key is reported as a duplicate, never reprocessed. Rows are
// never updated beyond processing_status/retry_count and never deleted;
// corrections are new events with causation_id pointing at what they correct.
type JobEvent struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AggregateID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"aggregate_id"`
	AggregateType    string         `gorm:"column:aggregate_type;not null" json:"aggregate_type"`
	EventType        string         `gorm:"column:event_type;not null;index" json:"event_type"`
	EventData        datatypes.JSON `gorm:"column:event_data;type:jsonb" json:"event_data,omitempty"`
	IdempotencyKey   string         `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	ProcessingStatus string         `gorm:"column:processing_status;not null;default:'pending';index" json:"processing_status"`
	RetryCount       int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	CorrelationID    uuid.UUID      `gorm:"type:uuid;column:correlation_id;index" json:"correlation_id"`
	CausationID      *uuid.UUID     `gorm:"type:uuid;column:causation_id" json:"causation_id,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobEvent) TableName() string { return "scrape_job_event" }
