// Package stages holds the built-in stage handlers. Handlers bridge the task
// runtime to external collaborators (platform APIs, the analyzer, the video
// compositor); all campaign semantics stay in orchestrator and the content
// packages.
package stages

import (
	"context"
	"time"

	"gorm.io/datatypes"

	types "github.com/reelforge/reelforge-backend/internal/domain"
)

// PlatformClient searches one content platform. Implementations live outside
// this service; errors they return are treated as transient unless wrapped
// otherwise.
type PlatformClient interface {
	Platform() string
	Search(ctx context.Context, query string, limit int) ([]DiscoveredVideo, error)
}

// DiscoveredVideo is the raw shape a platform client returns before
// canonicalization.
type DiscoveredVideo struct {
	PlatformVideoID string
	URL             string
	Title           string
	Description     string
	Author          string
	Views           int64
	Likes           int64
	Comments        int64
	DurationSecs    float64
	UploadDate      *time.Time
	TrendingScore   float64
	Metadata        datatypes.JSON
}

// AnalyzerClient scores one item.
type AnalyzerClient interface {
	Analyze(ctx context.Context, item *types.Item) (*AnalysisResult, error)
}

type AnalysisResult struct {
	Model          string
	QualityScore   float64
	ViralityScore  float64
	RelevanceScore float64
	Summary        string
	Topics         datatypes.JSON
	Recommended    bool
}

// Compositor assembles the final artifact from the ranked working set.
type Compositor interface {
	Render(ctx context.Context, output *types.Output, items []*types.Item) (artifactPath string, durationSecs float64, err error)
}
