package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	domjobs "github.com/reelforge/reelforge-backend/internal/domain/jobs"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error)
	ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.Job, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatus string, fromVersion int, toStatus string, cause string, extra map[string]interface{}) (bool, error)
	ListEvents(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobEvent, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := r.conn(dbc).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := r.conn(dbc).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	var out []*types.Job
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := r.conn(dbc).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.Job, error) {
	var out []*types.Job
	if len(statuses) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.conn(dbc).Model(&types.Job{}).Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TransitionStatus performs the compare-and-swap advancement: the update only
// lands when both the status and the version still match what the caller
// read, so concurrent decision-makers for the same job cannot both advance
// it. The winner gets an appended JobEvent; losers see false, nil.
func (r *jobRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatus string, fromVersion int, toStatus string, cause string, extra map[string]interface{}) (bool, error) {
	if id == uuid.Nil || fromStatus == "" || toStatus == "" {
		return false, errors.New("invalid transition arguments")
	}
	if !domjobs.CanTransition(fromStatus, toStatus) {
		return false, errors.New("illegal transition " + fromStatus + " -> " + toStatus)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     toStatus,
		"version":    fromVersion + 1,
		"updated_at": now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if domjobs.TerminalStatus(toStatus) {
		if _, ok := updates["completed_at"]; !ok {
			updates["completed_at"] = now
		}
	}

	var won bool
	err := r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Job{}).
			Where("id = ? AND status = ? AND version = ?", id, fromStatus, fromVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true
		event := &types.JobEvent{
			ID:         uuid.New(),
			JobID:      id,
			FromStatus: fromStatus,
			ToStatus:   toStatus,
			Cause:      cause,
			CreatedAt:  now,
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (r *jobRepo) ListEvents(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobEvent, error) {
	var out []*types.JobEvent
	if jobID == uuid.Nil {
		return out, nil
	}
	if err := r.conn(dbc).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
