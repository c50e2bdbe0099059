package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/jobstest"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type stageFunc struct {
	stage string
	run   func(rc *runtime.Context) (map[string]any, error)
}

func (h *stageFunc) Stage() string                                   { return h.stage }
func (h *stageFunc) Run(rc *runtime.Context) (map[string]any, error) { return h.run(rc) }

type env struct {
	worker     *Worker
	registry   *runtime.Registry
	dispatcher *dispatch.Dispatcher
	orch       *orchestrator.Orchestrator
	jobs       *jobstest.JobRepo
	tasks      *jobstest.TaskRepo
	items      *jobstest.ItemRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	cfg := config.Default()
	cfg.Discovery.Platforms = []string{"youtube"}

	e := &env{
		registry: runtime.NewRegistry(),
		jobs:     jobstest.NewJobRepo(),
		tasks:    jobstest.NewTaskRepo(),
		items:    jobstest.NewItemRepo(),
	}
	rset := &repos.Set{
		Jobs:     e.jobs,
		Tasks:    e.tasks,
		Items:    e.items,
		Analyses: jobstest.NewAnalysisRepo(),
		Outputs:  jobstest.NewOutputRepo(),
	}
	e.dispatcher = dispatch.NewDispatcher(e.tasks, cfg.Dispatch, log)
	e.orch = orchestrator.New(rset, e.dispatcher, cfg, nil, log)
	e.worker = NewWorker(nil, log, rset, e.registry, e.dispatcher, e.orch, cfg.Worker)
	return e
}

func dbc() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func (e *env) startJob(t *testing.T) *types.Job {
	t.Helper()
	job := &types.Job{ID: uuid.New(), OwnerID: uuid.New(), JobType: "ranking", Status: types.JobPending}
	if _, err := e.jobs.Create(dbc(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := e.orch.Advance(context.Background(), job.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	return job
}

func (e *env) claim(t *testing.T) *types.TaskRun {
	t.Helper()
	task, err := e.tasks.ClaimNextRunnable(dbc(), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task == nil {
		t.Fatal("no runnable task")
	}
	return task
}

func TestExecuteReportsSuccessAndAdvances(t *testing.T) {
	e := newEnv(t)
	ran := false
	_ = e.registry.Register(&stageFunc{stage: orchestrator.StageDiscovery, run: func(rc *runtime.Context) (map[string]any, error) {
		ran = true
		platform, _ := rc.PayloadString("platform")
		item := &types.Item{
			ID: uuid.New(), JobID: rc.Job.ID,
			Platform: platform, PlatformVideoID: "v1",
			DiscoveredAt: time.Now(),
		}
		_, _, err := e.items.InsertIfAbsent(dbctx.Context{Ctx: rc.Ctx}, item)
		return map[string]any{"discovered": 1}, err
	}})

	job := e.startJob(t)
	task := e.claim(t)
	e.worker.execute(context.Background(), task)

	if !ran {
		t.Fatal("handler did not run")
	}
	got, _ := e.tasks.GetByID(dbc(), task.ID)
	if got.Status != types.TaskSucceeded {
		t.Fatalf("task status = %s, want succeeded", got.Status)
	}
	// The post-outcome kick advanced the job past the settled barrier.
	reloaded, _ := e.jobs.GetByID(dbc(), job.ID)
	if reloaded.Status != types.JobAnalyzing {
		t.Fatalf("job status = %s, want analyzing", reloaded.Status)
	}
}

func TestExecutePanicBecomesRetryableFailure(t *testing.T) {
	e := newEnv(t)
	_ = e.registry.Register(&stageFunc{stage: orchestrator.StageDiscovery, run: func(rc *runtime.Context) (map[string]any, error) {
		panic("handler bug")
	}})

	e.startJob(t)
	task := e.claim(t)
	e.worker.execute(context.Background(), task)

	got, _ := e.tasks.GetByID(dbc(), task.ID)
	if got.Status != types.TaskQueued {
		t.Fatalf("task status = %s, want queued (requeued)", got.Status)
	}
	if got.NextRunAt == nil {
		t.Fatal("requeued task missing backoff window")
	}
}

func TestExecuteMissingHandlerFailsTerminally(t *testing.T) {
	e := newEnv(t)

	e.startJob(t)
	task := e.claim(t)
	e.worker.execute(context.Background(), task)

	got, _ := e.tasks.GetByID(dbc(), task.ID)
	if got.Status != types.TaskFailed || got.Retryable {
		t.Fatalf("task = %s retryable=%v, want failed/false", got.Status, got.Retryable)
	}
}

func TestExecuteSkipsTaskOfTerminalJob(t *testing.T) {
	e := newEnv(t)
	_ = e.registry.Register(&stageFunc{stage: orchestrator.StageDiscovery, run: func(rc *runtime.Context) (map[string]any, error) {
		t.Fatal("handler ran for a cancelled job")
		return nil, nil
	}})

	job := e.startJob(t)
	task := e.claim(t)
	if _, err := e.orch.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	e.worker.execute(context.Background(), task)
	got, _ := e.tasks.GetByID(dbc(), task.ID)
	if got.Status != types.TaskCancelled {
		t.Fatalf("task status = %s, want cancelled", got.Status)
	}
}

func TestSweepAdvancesActiveJobs(t *testing.T) {
	e := newEnv(t)
	job := &types.Job{ID: uuid.New(), OwnerID: uuid.New(), JobType: "ranking", Status: types.JobPending}
	if _, err := e.jobs.Create(dbc(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	e.worker.sweepOnce(context.Background())

	reloaded, _ := e.jobs.GetByID(dbc(), job.ID)
	if reloaded.Status != types.JobDiscovering {
		t.Fatalf("job status = %s, want discovering", reloaded.Status)
	}
}
