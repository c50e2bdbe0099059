package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Output is the artifact record for a job, created once by the selecting
// stage and immutable apart from the artifact path the render stage fills in.
// RankedItems is the ordered selected set (rank = position), JSON-encoded
// list of item UUIDs with no duplicates.
type Output struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`
	Title          string         `gorm:"column:title" json:"title,omitempty"`
	RankedItems    datatypes.JSON `gorm:"column:ranked_items;type:jsonb;not null" json:"ranked_items"`
	ArtifactPath   string         `gorm:"column:artifact_path" json:"artifact_path,omitempty"`
	DurationSecs   float64        `gorm:"column:duration_secs" json:"duration_secs,omitempty"`
	UsedFallback   bool           `gorm:"column:used_fallback;not null;default:false" json:"used_fallback"`
	FallbackCount  int            `gorm:"column:fallback_count;not null;default:0" json:"fallback_count"`
	RenderSettings datatypes.JSON `gorm:"column:render_settings;type:jsonb" json:"render_settings,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Output) TableName() string { return "output" }
