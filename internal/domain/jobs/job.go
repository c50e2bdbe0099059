package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses form a one-way pipeline; failed and cancelled are reachable
// from any non-terminal status and no status ever regresses.
const (
	StatusPending     = "pending"
	StatusDiscovering = "discovering"
	StatusAnalyzing   = "analyzing"
	StatusSelecting   = "selecting"
	StatusRendering   = "rendering"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

const (
	TypeRanking     = "ranking"
	TypeCompilation = "compilation"
	TypeHighlights  = "highlights"
)

// Job is one campaign run from discovery to output artifact. Mutated only by
// the orchestrator; Version is bumped on every status transition so racing
// decision-makers serialize through compare-and-swap.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Version     int            `gorm:"column:version;not null;default:0" json:"version"`
	Config      datatypes.JSON `gorm:"column:config;type:jsonb" json:"config"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	FailedStage string         `gorm:"column:failed_stage" json:"failed_stage,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job" }

func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
