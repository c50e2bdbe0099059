// Package worker runs the claim/execute loops. Workers are stateless: every
// decision about retries, barriers and transitions lives in dispatch and
// orchestrator, so any number of worker processes can run side by side.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	domjobs "github.com/reelforge/reelforge-backend/internal/domain/jobs"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

const heartbeatInterval = 15 * time.Second

type Worker struct {
	db         *gorm.DB
	log        *logger.Logger
	jobs       repos.JobRepo
	tasks      repos.TaskRunRepo
	registry   *runtime.Registry
	dispatcher *dispatch.Dispatcher
	orch       *orchestrator.Orchestrator
	cfg        config.WorkerConfig

	global    *semaphore.Weighted
	stageCaps map[string]*semaphore.Weighted
}

func NewWorker(
	db *gorm.DB,
	baseLog *logger.Logger,
	rset *repos.Set,
	registry *runtime.Registry,
	dispatcher *dispatch.Dispatcher,
	orch *orchestrator.Orchestrator,
	cfg config.WorkerConfig,
) *Worker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	caps := map[string]*semaphore.Weighted{}
	for stage, limit := range cfg.StageLimits {
		if limit > 0 {
			caps[stage] = semaphore.NewWeighted(limit)
		}
	}
	return &Worker{
		db:         db,
		log:        baseLog.With("component", "TaskWorker"),
		jobs:       rset.Jobs,
		tasks:      rset.Tasks,
		registry:   registry,
		dispatcher: dispatcher,
		orch:       orch,
		cfg:        cfg,
		global:     semaphore.NewWeighted(int64(concurrency)),
		stageCaps:  caps,
	}
}

// Start launches the claim loop and the periodic sweep. Both stop when ctx is
// cancelled; in-flight tasks finish their attempt.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("starting task worker", "concurrency", w.cfg.Concurrency)
	go w.claimLoop(ctx)
	go w.sweepLoop(ctx)
}

func (w *Worker) claimLoop(ctx context.Context) {
	interval := w.cfg.ClaimInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("claim loop stopped")
			return
		case <-ticker.C:
			w.claimAndRun(ctx)
		}
	}
}

// claimAndRun drains runnable tasks until the queue is empty or the pool is
// saturated, then yields back to the ticker.
func (w *Worker) claimAndRun(ctx context.Context) {
	for {
		if !w.global.TryAcquire(1) {
			return
		}
		task, err := w.tasks.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.StaleRunning)
		if err != nil {
			w.global.Release(1)
			w.log.Warn("claim failed", "error", err)
			return
		}
		if task == nil {
			w.global.Release(1)
			return
		}
		go func(task *types.TaskRun) {
			defer w.global.Release(1)
			w.execute(ctx, task)
		}(task)
	}
}

func (w *Worker) execute(ctx context.Context, task *types.TaskRun) {
	if sem, ok := w.stageCaps[task.Stage]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)
	}

	dbc := dbctx.Context{Ctx: ctx}
	job, err := w.jobs.GetByID(dbc, task.JobID)
	if err != nil {
		w.log.Error("load job for task", "task_id", task.ID, "error", err)
		_, _ = w.dispatcher.ReportFailure(dbc, task, dispatch.Transient(err))
		return
	}
	if job == nil || domjobs.TerminalStatus(job.Status) {
		// The job ended while this task sat in the queue.
		_, _ = w.tasks.UpdateFieldsIfStatus(dbc, task.ID,
			[]string{types.TaskRunning, types.TaskQueued},
			map[string]interface{}{"status": types.TaskCancelled, "locked_at": nil})
		return
	}

	h, ok := w.registry.Get(task.Stage)
	if !ok {
		w.log.Error("no handler registered", "stage", task.Stage, "task_id", task.ID)
		_, _ = w.dispatcher.ReportFailure(dbc, task, fmt.Errorf("no handler registered for stage=%s", task.Stage))
		w.kick(ctx, job.ID)
		return
	}

	execCtx := ctx
	cancel := func() {}
	if deadline := w.dispatcher.Deadline(task.Stage); deadline > 0 {
		execCtx, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	execCtx, span := otel.Tracer("worker").Start(execCtx, "task."+task.Stage,
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("task.id", task.ID.String()),
			attribute.Int("task.attempt", task.Attempts),
		))
	defer span.End()

	rc := runtime.NewContext(execCtx, w.db, job, task, w.tasks)
	stopBeat := w.startHeartbeat(execCtx, rc)

	result, runErr := w.runHandler(h, rc)
	stopBeat()

	if runErr == nil && execCtx.Err() != nil {
		runErr = dispatch.Transientf("stage %s deadline exceeded: %v", task.Stage, execCtx.Err())
	}

	if runErr != nil {
		span.RecordError(runErr)
		if _, err := w.dispatcher.ReportFailure(dbc, task, runErr); err != nil {
			w.log.Error("report failure", "task_id", task.ID, "error", err)
		}
	} else {
		if _, err := w.dispatcher.ReportSuccess(dbc, task.ID, result); err != nil {
			w.log.Error("report success", "task_id", task.ID, "error", err)
		}
	}
	w.kick(ctx, job.ID)
}

// runHandler isolates handler panics: a panic fails the attempt like any
// other transient error instead of taking the worker down.
func (w *Worker) runHandler(h runtime.Handler, rc *runtime.Context) (result map[string]any, runErr error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panic",
				"stage", rc.Task.Stage, "task_id", rc.Task.ID, "panic", r)
			runErr = dispatch.Transientf("handler panic in stage %s", rc.Task.Stage)
		}
	}()
	return h.Run(rc)
}

func (w *Worker) startHeartbeat(ctx context.Context, rc *runtime.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := rc.Heartbeat(); err != nil {
					w.log.Warn("heartbeat failed", "task_id", rc.Task.ID, "error", err)
				}
			}
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// kick advances the job right after a task outcome so completed stages do
// not wait for the next sweep.
func (w *Worker) kick(ctx context.Context, jobID uuid.UUID) {
	if err := w.orch.Advance(ctx, jobID); err != nil {
		w.log.Warn("advance after outcome failed", "job_id", jobID, "error", err)
	}
}

// sweepLoop periodically re-advances every active job. This is the crash
// recovery path: a job whose worker died between an outcome and the advance
// kick gets picked up here.
func (w *Worker) sweepLoop(ctx context.Context) {
	interval := w.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweep loop stopped")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context) {
	jobs, err := w.jobs.ListByStatus(dbctx.Context{Ctx: ctx}, domjobs.ActiveStatuses())
	if err != nil {
		w.log.Warn("sweep list failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := w.orch.Advance(ctx, job.ID); err != nil {
			w.log.Warn("sweep advance failed", "job_id", job.ID, "error", err)
		}
	}
}
