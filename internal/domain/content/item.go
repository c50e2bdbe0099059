package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Item is one canonicalized piece of discovered content. The
// (platform, platform_video_id) pair is globally unique: the same video
// discovered twice, even across jobs, resolves to one row.
type Item struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Platform        string         `gorm:"column:platform;not null;uniqueIndex:idx_platform_video,priority:1" json:"platform"`
	PlatformVideoID string         `gorm:"column:platform_video_id;not null;uniqueIndex:idx_platform_video,priority:2" json:"platform_video_id"`
	URL             string         `gorm:"column:url;not null" json:"url"`
	Title           string         `gorm:"column:title" json:"title,omitempty"`
	Description     string         `gorm:"column:description" json:"description,omitempty"`
	Author          string         `gorm:"column:author;index" json:"author,omitempty"`
	Views           int64          `gorm:"column:views;not null;default:0" json:"views"`
	Likes           int64          `gorm:"column:likes;not null;default:0" json:"likes"`
	Comments        int64          `gorm:"column:comments;not null;default:0" json:"comments"`
	DurationSecs    float64        `gorm:"column:duration_secs" json:"duration_secs,omitempty"`
	UploadDate      *time.Time     `gorm:"column:upload_date" json:"upload_date,omitempty"`
	TrendingScore   float64        `gorm:"column:trending_score;index" json:"trending_score"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	DiscoveredAt    time.Time      `gorm:"column:discovered_at;not null;default:now();index" json:"discovered_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Item) TableName() string { return "item" }
