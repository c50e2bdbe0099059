// Package dispatch owns the task contract: idempotent task creation, outcome
// reporting, and the retry/backoff schedule. Workers execute tasks; this
// package decides what a task's failure means.
package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type Dispatcher struct {
	tasks        repos.TaskRunRepo
	retry        RetryPolicy
	deadlineSecs map[string]int
	log          *logger.Logger
}

func NewDispatcher(tasks repos.TaskRunRepo, cfg config.DispatchConfig, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		tasks: tasks,
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			MinBackoff:  cfg.MinBackoff,
			MaxBackoff:  cfg.MaxBackoff,
			JitterFrac:  cfg.JitterFrac,
		},
		deadlineSecs: cfg.DeadlineSecs,
		log:          baseLog.With("component", "Dispatcher"),
	}
}

func (d *Dispatcher) Policy() RetryPolicy { return d.retry }

// Deadline returns the per-stage execution deadline, zero when unbounded.
func (d *Dispatcher) Deadline(stage string) time.Duration {
	return time.Duration(d.deadlineSecs[stage]) * time.Second
}

// Dispatch enqueues one unit of stage work. The (job, stage, partition) key
// dedupes: dispatching twice returns the already-existing task with
// created=false, so callers can blanket re-dispatch a whole stage on every
// orchestrator pass.
func (d *Dispatcher) Dispatch(dbc dbctx.Context, jobID uuid.UUID, stage, partitionKey string, payload map[string]any) (*types.TaskRun, bool, error) {
	if jobID == uuid.Nil || stage == "" || partitionKey == "" {
		return nil, false, errors.New("dispatch requires job, stage and partition key")
	}
	var raw datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, false, err
		}
		raw = datatypes.JSON(b)
	}
	task := &types.TaskRun{
		ID:           uuid.New(),
		JobID:        jobID,
		Stage:        stage,
		PartitionKey: partitionKey,
		Status:       types.TaskQueued,
		MaxAttempts:  d.retry.MaxAttempts,
		Retryable:    true,
		DeadlineSecs: d.deadlineSecs[stage],
		Payload:      raw,
	}
	out, created, err := d.tasks.CreateIfAbsent(dbc, task)
	if err != nil {
		return nil, false, err
	}
	if created {
		d.log.Info("task dispatched", "job_id", jobID, "stage", stage, "partition_key", partitionKey)
	}
	return out, created, nil
}

// ReportSuccess records a successful execution. Duplicate deliveries and
// deliveries against cancelled tasks are no-ops; the first delivery wins.
func (d *Dispatcher) ReportSuccess(dbc dbctx.Context, taskID uuid.UUID, result map[string]any) (bool, error) {
	var raw datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, err
		}
		raw = datatypes.JSON(b)
	}
	now := time.Now()
	return d.tasks.UpdateFieldsIfStatus(dbc, taskID,
		[]string{types.TaskRunning, types.TaskQueued},
		map[string]interface{}{
			"status":       types.TaskSucceeded,
			"result":       raw,
			"error":        "",
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
}

// ReportFailure applies the retry policy to a failed attempt. A retryable
// failure with attempts left goes back to queued with a backoff window; any
// other failure is recorded terminally failed. Returns whether the task was
// requeued.
func (d *Dispatcher) ReportFailure(dbc dbctx.Context, task *types.TaskRun, execErr error) (bool, error) {
	if task == nil || task.ID == uuid.Nil {
		return false, errors.New("nil task")
	}
	msg := ""
	if execErr != nil {
		msg = execErr.Error()
	}
	now := time.Now()

	if d.retry.shouldRetry(task.Attempts, execErr) {
		nextRun := now.Add(d.retry.computeBackoff(task.Attempts))
		applied, err := d.tasks.UpdateFieldsIfStatus(dbc, task.ID,
			[]string{types.TaskRunning},
			map[string]interface{}{
				"status":        types.TaskQueued,
				"error":         msg,
				"last_error_at": now,
				"locked_at":     nil,
				"next_run_at":   nextRun,
				"updated_at":    now,
			})
		if err != nil {
			return false, err
		}
		if applied {
			d.log.Warn("task requeued after failure",
				"task_id", task.ID, "stage", task.Stage, "attempts", task.Attempts, "error", msg)
		}
		return applied, nil
	}

	retryable := IsRetryable(execErr)
	applied, err := d.tasks.UpdateFieldsIfStatus(dbc, task.ID,
		[]string{types.TaskRunning, types.TaskQueued},
		map[string]interface{}{
			"status":        types.TaskFailed,
			"retryable":     retryable,
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
	if err != nil {
		return false, err
	}
	if applied {
		d.log.Error("task failed terminally",
			"task_id", task.ID, "stage", task.Stage, "attempts", task.Attempts, "error", msg)
	}
	return false, nil
}
