// Package jobstest provides in-memory repo fakes for exercising the
// orchestration logic without a database. The fakes honor the same guards the
// real repos enforce (conflict keys, status-guarded updates, compare-and-swap
// transitions) so the concurrency contracts stay testable.
package jobstest

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	domjobs "github.com/reelforge/reelforge-backend/internal/domain/jobs"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

type JobRepo struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*types.Job
	events []*types.JobEvent
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: map[uuid.UUID]*types.Job{}}
}

func (r *JobRepo) Create(_ dbctx.Context, job *types.Job) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return job, nil
}

func (r *JobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (r *JobRepo) ListByOwner(_ dbctx.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Job
	for _, j := range r.jobs {
		if j.OwnerID == ownerID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) ListByStatus(_ dbctx.Context, statuses []string) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*types.Job
	for _, j := range r.jobs {
		if want[j.Status] {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *JobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if j.Status == s {
			return false, nil
		}
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func (r *JobRepo) TransitionStatus(_ dbctx.Context, id uuid.UUID, fromStatus string, fromVersion int, toStatus string, cause string, extra map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if !domjobs.CanTransition(fromStatus, toStatus) {
		return false, nil
	}
	if j.Status != fromStatus || j.Version != fromVersion {
		return false, nil
	}
	now := time.Now()
	j.Status = toStatus
	j.Version = fromVersion + 1
	j.UpdatedAt = now
	applyJobUpdates(j, extra)
	if domjobs.TerminalStatus(toStatus) && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	r.events = append(r.events, &types.JobEvent{
		ID:         uuid.New(),
		JobID:      id,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Cause:      cause,
		CreatedAt:  now,
	})
	return true, nil
}

func (r *JobRepo) ListEvents(_ dbctx.Context, jobID uuid.UUID) ([]*types.JobEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobEvent
	for _, e := range r.events {
		if e.JobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func applyJobUpdates(j *types.Job, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "version":
			j.Version = v.(int)
		case "error":
			j.Error = v.(string)
		case "failed_stage":
			j.FailedStage = v.(string)
		case "config":
			if raw, ok := v.(datatypes.JSON); ok {
				j.Config = raw
			}
		case "completed_at":
			switch t := v.(type) {
			case time.Time:
				j.CompletedAt = &t
			case *time.Time:
				j.CompletedAt = t
			case nil:
				j.CompletedAt = nil
			}
		case "updated_at":
			if t, ok := v.(time.Time); ok {
				j.UpdatedAt = t
			}
		}
	}
}

type TaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*types.TaskRun
	byKey map[string]uuid.UUID
	seq   int
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{
		tasks: map[uuid.UUID]*types.TaskRun{},
		byKey: map[string]uuid.UUID{},
	}
}

func taskKey(jobID uuid.UUID, stage, partition string) string {
	return jobID.String() + "|" + stage + "|" + partition
}

func (r *TaskRepo) CreateIfAbsent(_ dbctx.Context, task *types.TaskRun) (*types.TaskRun, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := taskKey(task.JobID, task.Stage, task.PartitionKey)
	if id, ok := r.byKey[k]; ok {
		cp := *r.tasks[id]
		return &cp, false, nil
	}
	cp := *task
	// Synthetic creation order keeps claim order stable even when tasks are
	// created within the same clock tick.
	r.seq++
	cp.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Microsecond)
	r.tasks[cp.ID] = &cp
	r.byKey[k] = cp.ID
	out := cp
	return &out, true, nil
}

func (r *TaskRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (r *TaskRepo) ListByJobStage(_ dbctx.Context, jobID uuid.UUID, stage string) ([]*types.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.TaskRun
	for _, t := range r.tasks {
		if t.JobID == jobID && t.Stage == stage {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *TaskRepo) ClaimNextRunnable(_ dbctx.Context, staleRunning time.Duration) (*types.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var candidates []*types.TaskRun
	for _, t := range r.tasks {
		runnable := t.Status == types.TaskQueued && (t.NextRunAt == nil || !t.NextRunAt.After(now))
		stale := t.Status == types.TaskRunning && t.HeartbeatAt != nil && t.HeartbeatAt.Before(staleCutoff)
		if runnable || stale {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	t := candidates[0]
	t.Status = types.TaskRunning
	t.Attempts++
	t.LockedAt = &now
	t.HeartbeatAt = &now
	t.NextRunAt = nil
	t.UpdatedAt = now
	cp := *t
	return &cp, nil
}

func (r *TaskRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		applyTaskUpdates(t, updates)
	}
	return nil
}

func (r *TaskRepo) UpdateFieldsIfStatus(_ dbctx.Context, id uuid.UUID, allowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range allowed {
		if t.Status == s {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	applyTaskUpdates(t, updates)
	return true, nil
}

func (r *TaskRepo) Heartbeat(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && t.Status == types.TaskRunning {
		now := time.Now()
		t.HeartbeatAt = &now
		t.UpdatedAt = now
	}
	return nil
}

func (r *TaskRepo) CountNonTerminal(_ dbctx.Context, jobID uuid.UUID, stage string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.JobID == jobID && t.Stage == stage &&
			(t.Status == types.TaskQueued || t.Status == types.TaskRunning) {
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) CountByStatus(_ dbctx.Context, jobID uuid.UUID, stage string, status string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.JobID == jobID && t.Stage == stage && t.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *TaskRepo) CancelPending(_ dbctx.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tasks {
		if t.JobID == jobID && t.Status == types.TaskQueued {
			t.Status = types.TaskCancelled
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func applyTaskUpdates(t *types.TaskRun, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			t.Status = v.(string)
		case "retryable":
			t.Retryable = v.(bool)
		case "error":
			t.Error = v.(string)
		case "result":
			if raw, ok := v.(datatypes.JSON); ok {
				t.Result = raw
			}
		case "locked_at":
			t.LockedAt = timePtr(v)
		case "heartbeat_at":
			t.HeartbeatAt = timePtr(v)
		case "last_error_at":
			t.LastErrorAt = timePtr(v)
		case "next_run_at":
			t.NextRunAt = timePtr(v)
		case "updated_at":
			if tm, ok := v.(time.Time); ok {
				t.UpdatedAt = tm
			}
		}
	}
}

func timePtr(v interface{}) *time.Time {
	switch tm := v.(type) {
	case time.Time:
		return &tm
	case *time.Time:
		return tm
	}
	return nil
}
