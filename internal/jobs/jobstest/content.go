package jobstest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

type ItemRepo struct {
	mu    sync.Mutex
	byKey map[string]*types.Item
	byID  map[uuid.UUID]*types.Item
	links map[uuid.UUID]map[uuid.UUID]bool
}

func NewItemRepo() *ItemRepo {
	return &ItemRepo{
		byKey: map[string]*types.Item{},
		byID:  map[uuid.UUID]*types.Item{},
		links: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func itemKey(platform, videoID string) string { return platform + "|" + videoID }

func (r *ItemRepo) InsertIfAbsent(_ dbctx.Context, item *types.Item) (*types.Item, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := itemKey(item.Platform, item.PlatformVideoID)
	if existing, ok := r.byKey[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *item
	r.byKey[k] = &cp
	r.byID[cp.ID] = &cp
	return item, true, nil
}

func (r *ItemRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.byID[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r *ItemRepo) GetByKey(_ dbctx.Context, platform, videoID string) (*types.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.byKey[itemKey(platform, videoID)]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, nil
}

func (r *ItemRepo) MergeMetrics(_ dbctx.Context, id uuid.UUID, views, likes, comments int64, trending float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.byID[id]
	if !ok {
		return nil
	}
	if views > it.Views {
		it.Views = views
	}
	if likes > it.Likes {
		it.Likes = likes
	}
	if comments > it.Comments {
		it.Comments = comments
	}
	if trending > it.TrendingScore {
		it.TrendingScore = trending
	}
	it.UpdatedAt = time.Now()
	return nil
}

func (r *ItemRepo) Link(_ dbctx.Context, jobID, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links[jobID] == nil {
		r.links[jobID] = map[uuid.UUID]bool{}
	}
	r.links[jobID][itemID] = true
	return nil
}

func (r *ItemRepo) ListForJob(_ dbctx.Context, jobID uuid.UUID) ([]*types.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Item
	for _, it := range r.byID {
		if it.JobID == jobID || r.links[jobID][it.ID] {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].DiscoveredAt.Equal(out[k].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[k].DiscoveredAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

func (r *ItemRepo) CountForJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	items, _ := r.ListForJob(dbc, jobID)
	return int64(len(items)), nil
}

type AnalysisRepo struct {
	mu   sync.Mutex
	rows []*types.Analysis
}

func NewAnalysisRepo() *AnalysisRepo { return &AnalysisRepo{} }

func (r *AnalysisRepo) Create(_ dbctx.Context, a *types.Analysis) (*types.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	if cp.AnalyzedAt.IsZero() {
		cp.AnalyzedAt = time.Now()
	}
	r.rows = append(r.rows, &cp)
	return a, nil
}

func (r *AnalysisRepo) LatestByItemIDs(_ dbctx.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*types.Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range itemIDs {
		want[id] = true
	}
	out := map[uuid.UUID]*types.Analysis{}
	for _, a := range r.rows {
		if !want[a.ItemID] {
			continue
		}
		if prev, ok := out[a.ItemID]; !ok || a.AnalyzedAt.After(prev.AnalyzedAt) {
			cp := *a
			out[a.ItemID] = &cp
		}
	}
	return out, nil
}

type OutputRepo struct {
	mu    sync.Mutex
	byJob map[uuid.UUID]*types.Output
}

func NewOutputRepo() *OutputRepo {
	return &OutputRepo{byJob: map[uuid.UUID]*types.Output{}}
}

func (r *OutputRepo) CreateIfAbsent(_ dbctx.Context, output *types.Output) (*types.Output, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byJob[output.JobID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *output
	cp.CreatedAt = time.Now()
	r.byJob[output.JobID] = &cp
	return output, true, nil
}

func (r *OutputRepo) GetByJobID(_ dbctx.Context, jobID uuid.UUID) (*types.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out, ok := r.byJob[jobID]; ok {
		cp := *out
		return &cp, nil
	}
	return nil, nil
}

func (r *OutputRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.byJob {
		if out.ID != id {
			continue
		}
		for k, v := range updates {
			switch k {
			case "artifact_path":
				out.ArtifactPath = v.(string)
			case "duration_secs":
				out.DurationSecs = v.(float64)
			case "ranked_items":
				if raw, ok := v.(datatypes.JSON); ok {
					out.RankedItems = raw
				}
			case "updated_at":
				if t, ok := v.(time.Time); ok {
					out.UpdatedAt = t
				}
			}
		}
	}
	return nil
}
