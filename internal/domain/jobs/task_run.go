package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// TaskRun is one dispatched unit of stage work. The unique
// (job_id, stage, partition_key) triple makes dispatch idempotent: a stage
// task set can be re-dispatched any number of times without duplicating work.
type TaskRun struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID        uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_task_dispatch_key,priority:1" json:"job_id"`
	Stage        string         `gorm:"column:stage;not null;index;uniqueIndex:idx_task_dispatch_key,priority:2" json:"stage"`
	PartitionKey string         `gorm:"column:partition_key;not null;uniqueIndex:idx_task_dispatch_key,priority:3" json:"partition_key"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts  int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	Retryable    bool           `gorm:"column:retryable;not null;default:true" json:"retryable"`
	DeadlineSecs int            `gorm:"column:deadline_secs;not null;default:0" json:"deadline_secs"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	LockedAt     *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	NextRunAt    *time.Time     `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (TaskRun) TableName() string { return "task_run" }

// Terminal reports whether this task counts toward its stage barrier.
// A failed task is terminal once it is non-retryable or out of attempts.
func (t *TaskRun) Terminal() bool {
	switch t.Status {
	case TaskSucceeded, TaskCancelled:
		return true
	case TaskFailed:
		return !t.Retryable || t.Attempts >= t.MaxAttempts
	}
	return false
}
