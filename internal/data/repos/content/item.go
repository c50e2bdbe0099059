package content

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type ItemRepo interface {
	// InsertIfAbsent attempts the canonical-key insert. When the key already
	// exists the existing row is returned with created=false.
	InsertIfAbsent(dbc dbctx.Context, item *types.Item) (*types.Item, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Item, error)
	GetByKey(dbc dbctx.Context, platform, platformVideoID string) (*types.Item, error)
	// MergeMetrics refreshes engagement counters monotonically: each counter
	// only ever moves up (GREATEST), so repeat discovery passes never regress
	// a metric.
	MergeMetrics(dbc dbctx.Context, id uuid.UUID, views, likes, comments int64, trendingScore float64) error
	Link(dbc dbctx.Context, jobID, itemID uuid.UUID) error
	// ListForJob returns items owned by the job plus items linked to it via
	// cross-job dedup.
	ListForJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Item, error)
	CountForJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
}

type itemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewItemRepo(db *gorm.DB, baseLog *logger.Logger) ItemRepo {
	return &itemRepo{
		db:  db,
		log: baseLog.With("repo", "ItemRepo"),
	}
}

func (r *itemRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *itemRepo) InsertIfAbsent(dbc dbctx.Context, item *types.Item) (*types.Item, bool, error) {
	if item == nil {
		return nil, false, errors.New("nil item")
	}
	if item.Platform == "" || item.PlatformVideoID == "" {
		return nil, false, errors.New("item missing canonical key")
	}
	res := r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "platform_video_id"}},
			DoNothing: true,
		}).
		Create(item)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return item, true, nil
	}
	existing, err := r.GetByKey(dbc, item.Platform, item.PlatformVideoID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// The conflicting row vanished between insert and read; callers
		// (the deduplicator) retry.
		return nil, false, gorm.ErrRecordNotFound
	}
	return existing, false, nil
}

func (r *itemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Item, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var item types.Item
	if err := r.conn(dbc).Where("id = ?", id).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, nil
	}
	return &item, nil
}

func (r *itemRepo) GetByKey(dbc dbctx.Context, platform, platformVideoID string) (*types.Item, error) {
	if platform == "" || platformVideoID == "" {
		return nil, nil
	}
	var item types.Item
	err := r.conn(dbc).
		Where("platform = ? AND platform_video_id = ?", platform, platformVideoID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, nil
	}
	return &item, nil
}

func (r *itemRepo) MergeMetrics(dbc dbctx.Context, id uuid.UUID, views, likes, comments int64, trendingScore float64) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(dbc).
		Model(&types.Item{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"views":          gorm.Expr("GREATEST(views, ?)", views),
			"likes":          gorm.Expr("GREATEST(likes, ?)", likes),
			"comments":       gorm.Expr("GREATEST(comments, ?)", comments),
			"trending_score": gorm.Expr("GREATEST(trending_score, ?)", trendingScore),
			"updated_at":     time.Now(),
		}).Error
}

func (r *itemRepo) Link(dbc dbctx.Context, jobID, itemID uuid.UUID) error {
	if jobID == uuid.Nil || itemID == uuid.Nil {
		return errors.New("link requires job and item ids")
	}
	link := &types.ItemLink{
		ID:        uuid.New(),
		JobID:     jobID,
		ItemID:    itemID,
		CreatedAt: time.Now(),
	}
	return r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(link).Error
}

func (r *itemRepo) ListForJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Item, error) {
	var out []*types.Item
	if jobID == uuid.Nil {
		return out, nil
	}
	err := r.conn(dbc).
		Where("job_id = ? OR id IN (?)",
			jobID,
			r.conn(dbc).Model(&types.ItemLink{}).Select("item_id").Where("job_id = ?", jobID),
		).
		Order("discovered_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *itemRepo) CountForJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	if jobID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := r.conn(dbc).
		Model(&types.Item{}).
		Where("job_id = ? OR id IN (?)",
			jobID,
			r.conn(dbc).Model(&types.ItemLink{}).Select("item_id").Where("job_id = ?", jobID),
		).
		Count(&count).Error
	return count, err
}
