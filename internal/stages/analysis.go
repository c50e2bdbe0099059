package stages

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/content/selection"
	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

// AnalysisHandler scores one item through the analyzer. One task per item;
// the partition key is the item id, so re-dispatch never double-analyzes.
type AnalysisHandler struct {
	analyzer AnalyzerClient
	items    repos.ItemRepo
	analyses repos.AnalysisRepo
	weights  selection.Weights
	log      *logger.Logger
}

func NewAnalysisHandler(
	analyzer AnalyzerClient,
	items repos.ItemRepo,
	analyses repos.AnalysisRepo,
	cfg config.SelectionConfig,
	baseLog *logger.Logger,
) *AnalysisHandler {
	return &AnalysisHandler{
		analyzer: analyzer,
		items:    items,
		analyses: analyses,
		weights: selection.Weights{
			Trending:  cfg.TrendingWeight,
			Quality:   cfg.QualityWeight,
			Relevance: cfg.RelevanceWeight,
		},
		log: baseLog.With("handler", "analysis"),
	}
}

func (h *AnalysisHandler) Stage() string { return orchestrator.StageAnalysis }

func (h *AnalysisHandler) Run(rc *runtime.Context) (map[string]any, error) {
	itemID, ok := rc.PayloadUUID("item_id")
	if !ok {
		return nil, fmt.Errorf("analysis task missing item_id")
	}
	dbc := dbctx.Context{Ctx: rc.Ctx}
	item, err := h.items.GetByID(dbc, itemID)
	if err != nil {
		return nil, dispatch.Transient(err)
	}
	if item == nil {
		return nil, fmt.Errorf("item %s not found", itemID)
	}

	res, err := h.analyzer.Analyze(rc.Ctx, item)
	if err != nil {
		return nil, dispatch.Transientf("analyze item %s: %v", itemID, err)
	}

	composite := selection.Composite(h.weights, item.TrendingScore, res.QualityScore, res.RelevanceScore)
	if _, err := h.analyses.Create(dbc, &types.Analysis{
		ID:             uuid.New(),
		ItemID:         item.ID,
		Model:          res.Model,
		QualityScore:   res.QualityScore,
		ViralityScore:  res.ViralityScore,
		RelevanceScore: res.RelevanceScore,
		CompositeScore: composite,
		Summary:        res.Summary,
		Topics:         res.Topics,
		Recommended:    res.Recommended,
		AnalyzedAt:     time.Now(),
	}); err != nil {
		return nil, err
	}

	return map[string]any{
		"item_id":     item.ID.String(),
		"composite":   composite,
		"recommended": res.Recommended,
	}, nil
}
