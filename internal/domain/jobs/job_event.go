package jobs

import (
	"time"

	"github.com/google/uuid"
)

// JobEvent is an append-only record of a status transition. Events are never
// updated or deleted, giving a full replayable history per job.
type JobEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	FromStatus string    `gorm:"column:from_status;not null" json:"from_status"`
	ToStatus   string    `gorm:"column:to_status;not null" json:"to_status"`
	Cause      string    `gorm:"column:cause" json:"cause,omitempty"`
	CreatedAt  time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (JobEvent) TableName() string { return "job_event" }
