package jobs

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

type TaskRunRepo interface {
	// CreateIfAbsent inserts the task unless a row with the same
	// (job_id, stage, partition_key) already exists; the existing row is
	// returned in that case. This is what makes stage dispatch idempotent.
	CreateIfAbsent(dbc dbctx.Context, task *types.TaskRun) (*types.TaskRun, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TaskRun, error)
	ListByJobStage(dbc dbctx.Context, jobID uuid.UUID, stage string) ([]*types.TaskRun, error)
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.TaskRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	CountNonTerminal(dbc dbctx.Context, jobID uuid.UUID, stage string) (int64, error)
	CountByStatus(dbc dbctx.Context, jobID uuid.UUID, stage string, status string) (int64, error)
	CancelPending(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRunRepo"),
	}
}

func (r *taskRunRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *taskRunRepo) CreateIfAbsent(dbc dbctx.Context, task *types.TaskRun) (*types.TaskRun, bool, error) {
	if task == nil {
		return nil, false, errors.New("nil task")
	}
	res := r.conn(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "stage"}, {Name: "partition_key"}},
			DoNothing: true,
		}).
		Create(task)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return task, true, nil
	}
	var existing types.TaskRun
	err := r.conn(dbc).
		Where("job_id = ? AND stage = ? AND partition_key = ?", task.JobID, task.Stage, task.PartitionKey).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return nil, false, err
	}
	if existing.ID == uuid.Nil {
		return nil, false, errors.New("task insert lost conflict but no existing row found")
	}
	return &existing, false, nil
}

func (r *taskRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TaskRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var task types.TaskRun
	err := r.conn(dbc).Where("id = ?", id).Limit(1).Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRunRepo) ListByJobStage(dbc dbctx.Context, jobID uuid.UUID, stage string) ([]*types.TaskRun, error) {
	var out []*types.TaskRun
	if jobID == uuid.Nil || stage == "" {
		return out, nil
	}
	if err := r.conn(dbc).
		Where("job_id = ? AND stage = ?", jobID, stage).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable picks the oldest queued task whose backoff window has
// elapsed, or a running task whose worker stopped heartbeating, and marks it
// running under SKIP LOCKED so concurrent workers never double-claim.
func (r *taskRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.TaskRun, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.TaskRun
	err := r.conn(dbc).Transaction(func(tx *gorm.DB) error {
		var task types.TaskRun
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          AND (next_run_at IS NULL OR next_run_at <= ?)
        )
        OR (
          status = ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      `, types.TaskQueued, now, types.TaskRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&types.TaskRun{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       types.TaskRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"next_run_at":  nil,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		task.Status = types.TaskRunning
		task.Attempts++
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus only applies when the row is still in one of the
// allowed statuses. Outcome reporting goes through this so a duplicate
// delivery against an already-terminal task is a no-op.
func (r *taskRunRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(allowedStatuses) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.conn(dbc).
		Model(&types.TaskRun{}).
		Where("id = ? AND status IN ?", id, allowedStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.conn(dbc).
		Model(&types.TaskRun{}).
		Where("id = ? AND status = ?", id, types.TaskRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *taskRunRepo) CountNonTerminal(dbc dbctx.Context, jobID uuid.UUID, stage string) (int64, error) {
	if jobID == uuid.Nil || stage == "" {
		return 0, nil
	}
	var count int64
	err := r.conn(dbc).
		Model(&types.TaskRun{}).
		Where("job_id = ? AND stage = ? AND status IN ?", jobID, stage, []string{types.TaskQueued, types.TaskRunning}).
		Count(&count).Error
	return count, err
}

func (r *taskRunRepo) CountByStatus(dbc dbctx.Context, jobID uuid.UUID, stage string, status string) (int64, error) {
	if jobID == uuid.Nil || stage == "" {
		return 0, nil
	}
	var count int64
	err := r.conn(dbc).
		Model(&types.TaskRun{}).
		Where("job_id = ? AND stage = ? AND status = ?", jobID, stage, status).
		Count(&count).Error
	return count, err
}

// CancelPending marks all still-queued tasks of a job cancelled. Running
// tasks are left to finish; their results are ignored once the job is
// cancelled.
func (r *taskRunRepo) CancelPending(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	if jobID == uuid.Nil {
		return 0, nil
	}
	res := r.conn(dbc).
		Model(&types.TaskRun{}).
		Where("job_id = ? AND status = ?", jobID, types.TaskQueued).
		Updates(map[string]interface{}{
			"status":     types.TaskCancelled,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}
