package content

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type AnalysisRepo interface {
	// Create appends a new analysis row. Re-analysis supersedes rather than
	// mutates; LatestByItemIDs resolves which row is authoritative.
	Create(dbc dbctx.Context, analysis *types.Analysis) (*types.Analysis, error)
	LatestByItemIDs(dbc dbctx.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*types.Analysis, error)
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return &analysisRepo{
		db:  db,
		log: baseLog.With("repo", "AnalysisRepo"),
	}
}

func (r *analysisRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *analysisRepo) Create(dbc dbctx.Context, analysis *types.Analysis) (*types.Analysis, error) {
	if analysis == nil {
		return nil, errors.New("nil analysis")
	}
	if analysis.ItemID == uuid.Nil {
		return nil, errors.New("analysis missing item id")
	}
	if err := r.conn(dbc).Create(analysis).Error; err != nil {
		return nil, err
	}
	return analysis, nil
}

func (r *analysisRepo) LatestByItemIDs(dbc dbctx.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*types.Analysis, error) {
	out := map[uuid.UUID]*types.Analysis{}
	if len(itemIDs) == 0 {
		return out, nil
	}
	var rows []*types.Analysis
	err := r.conn(dbc).
		Where("item_id IN ?", itemIDs).
		Order("analyzed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// Rows are ordered oldest first, so the map ends up holding the latest
	// analysis per item.
	for _, a := range rows {
		out[a.ItemID] = a
	}
	return out, nil
}
