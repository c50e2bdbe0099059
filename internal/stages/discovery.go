package stages

import (
	"fmt"

	"github.com/reelforge/reelforge-backend/internal/content/dedup"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

// DiscoveryHandler runs one platform's search and funnels every hit through
// the deduplicator. One task per platform; the partition key is the platform
// name.
type DiscoveryHandler struct {
	clients map[string]PlatformClient
	deduper *dedup.Deduper
	log     *logger.Logger
}

func NewDiscoveryHandler(clients []PlatformClient, deduper *dedup.Deduper, baseLog *logger.Logger) *DiscoveryHandler {
	byName := map[string]PlatformClient{}
	for _, c := range clients {
		byName[c.Platform()] = c
	}
	return &DiscoveryHandler{
		clients: byName,
		deduper: deduper,
		log:     baseLog.With("handler", "discovery"),
	}
}

func (h *DiscoveryHandler) Stage() string { return orchestrator.StageDiscovery }

func (h *DiscoveryHandler) Run(rc *runtime.Context) (map[string]any, error) {
	platform, ok := rc.PayloadString("platform")
	if !ok || platform == "" {
		return nil, fmt.Errorf("discovery task missing platform")
	}
	client, ok := h.clients[platform]
	if !ok {
		return nil, fmt.Errorf("no client configured for platform %s", platform)
	}

	query, _ := rc.PayloadString("query")
	limit := 50
	if v, ok := rc.Payload()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	videos, err := client.Search(rc.Ctx, query, limit)
	if err != nil {
		return nil, dispatch.Transientf("search %s: %v", platform, err)
	}

	recs := make([]dedup.Record, 0, len(videos))
	for _, v := range videos {
		recs = append(recs, dedup.Record{
			Platform:        platform,
			PlatformVideoID: v.PlatformVideoID,
			URL:             v.URL,
			Title:           v.Title,
			Description:     v.Description,
			Author:          v.Author,
			Views:           v.Views,
			Likes:           v.Likes,
			Comments:        v.Comments,
			DurationSecs:    v.DurationSecs,
			UploadDate:      v.UploadDate,
			TrendingScore:   v.TrendingScore,
			Metadata:        v.Metadata,
		})
	}
	stats, err := h.deduper.IngestBatch(dbctx.Context{Ctx: rc.Ctx}, rc.Job.ID, recs)
	if err != nil {
		return nil, err
	}

	h.log.Info("discovery pass finished",
		"job_id", rc.Job.ID, "platform", platform,
		"created", stats.Created, "linked", stats.Linked, "updated", stats.Updated, "skipped", stats.Skipped)
	return map[string]any{
		"platform": platform,
		"created":  stats.Created,
		"linked":   stats.Linked,
		"updated":  stats.Updated,
		"skipped":  stats.Skipped,
	}, nil
}
