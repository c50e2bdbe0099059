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

type OutputRepo interface {
	// CreateIfAbsent creates the single output record for a job; a repeat
	// call (replayed selecting stage) returns the existing record.
	CreateIfAbsent(dbc dbctx.Context, output *types.Output) (*types.Output, bool, error)
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.Output, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type outputRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutputRepo(db *gorm.DB, baseLog *logger.Logger) OutputRepo {
	return &outputRepo{
		db:  db,
		log: baseLog.With("repo", "OutputRepo"),
	}
}

func (r *outputRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *outputRepo) CreateIfAbsent(dbc dbctx.Context, output *types.Output) (*types.Output, bool, error) {
	if output == nil {
		return nil, false, errors.New("nil output")
	}
	if output.JobID == uuid.Nil {
		return nil, false, errors.New("output missing job id")
	}
	res := r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoNothing: true,
		}).
		Create(output)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return output, true, nil
	}
	existing, err := r.GetByJobID(dbc, output.JobID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return existing, false, nil
}

func (r *outputRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*types.Output, error) {
	if jobID == uuid.Nil {
		return nil, nil
	}
	var output types.Output
	err := r.conn(dbc).Where("job_id = ?", jobID).Limit(1).Find(&output).Error
	if err != nil {
		return nil, err
	}
	if output.ID == uuid.Nil {
		return nil, nil
	}
	return &output, nil
}

func (r *outputRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).
		Model(&types.Output{}).
		Where("id = ?", id).
		Updates(updates).Error
}
