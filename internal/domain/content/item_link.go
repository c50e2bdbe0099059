package content

import (
	"time"

	"github.com/google/uuid"
)

// ItemLink makes a canonical Item owned by an earlier job visible to a later
// job's analysis stage (cross-job dedup). Unique per (job, item).
type ItemLink struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_item_link,priority:1" json:"job_id"`
	ItemID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_item_link,priority:2;index" json:"item_id"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ItemLink) TableName() string { return "item_link" }
