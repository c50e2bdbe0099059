package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Analysis is one scoring result for one Item. Re-analysis appends a new row
// rather than mutating; only the latest row per item is authoritative.
// Composite is derived from the dimension scores by the selection package and
// never set independently.
type Analysis struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"item_id"`
	Model          string         `gorm:"column:model;not null" json:"model"`
	QualityScore   float64        `gorm:"column:quality_score" json:"quality_score"`
	ViralityScore  float64        `gorm:"column:virality_score" json:"virality_score"`
	RelevanceScore float64        `gorm:"column:relevance_score" json:"relevance_score"`
	CompositeScore float64        `gorm:"column:composite_score;index" json:"composite_score"`
	Summary        string         `gorm:"column:summary" json:"summary,omitempty"`
	Topics         datatypes.JSON `gorm:"column:topics;type:jsonb" json:"topics,omitempty"`
	Recommended    bool           `gorm:"column:recommended;not null;default:false;index" json:"recommended"`
	AnalyzedAt     time.Time      `gorm:"column:analyzed_at;not null;default:now();index" json:"analyzed_at"`
}

func (Analysis) TableName() string { return "analysis" }
