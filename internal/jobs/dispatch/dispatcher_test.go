package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/jobstest"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

func testDispatcher(t *testing.T) (*Dispatcher, *jobstest.TaskRepo) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	tasks := jobstest.NewTaskRepo()
	cfg := config.Default().Dispatch
	return NewDispatcher(tasks, cfg, log), tasks
}

func dbc() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestDispatchIsIdempotentPerPartition(t *testing.T) {
	d, _ := testDispatcher(t)
	jobID := uuid.New()

	first, created, err := d.Dispatch(dbc(), jobID, "discovery", "youtube", map[string]any{"platform": "youtube"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !created {
		t.Fatal("first dispatch did not create")
	}

	second, created, err := d.Dispatch(dbc(), jobID, "discovery", "youtube", map[string]any{"platform": "youtube"})
	if err != nil {
		t.Fatalf("re-dispatch: %v", err)
	}
	if created {
		t.Fatal("re-dispatch created a second task")
	}
	if second.ID != first.ID {
		t.Fatal("re-dispatch returned a different task")
	}

	// A different partition of the same stage is its own task.
	_, created, err = d.Dispatch(dbc(), jobID, "discovery", "tiktok", nil)
	if err != nil {
		t.Fatalf("dispatch tiktok: %v", err)
	}
	if !created {
		t.Fatal("distinct partition did not create")
	}
}

func TestReportSuccessFirstDeliveryWins(t *testing.T) {
	d, tasks := testDispatcher(t)
	jobID := uuid.New()

	task, _, err := d.Dispatch(dbc(), jobID, "analysis", "item-1", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := tasks.ClaimNextRunnable(dbc(), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	applied, err := d.ReportSuccess(dbc(), task.ID, map[string]any{"score": 0.9})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !applied {
		t.Fatal("first delivery rejected")
	}

	// Duplicate delivery is a no-op.
	applied, err = d.ReportSuccess(dbc(), task.ID, map[string]any{"score": 0.1})
	if err != nil {
		t.Fatalf("duplicate report: %v", err)
	}
	if applied {
		t.Fatal("duplicate delivery applied")
	}

	got, _ := tasks.GetByID(dbc(), task.ID)
	if got.Status != types.TaskSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
}

func TestReportFailureTransientRequeuesWithBackoff(t *testing.T) {
	d, tasks := testDispatcher(t)
	jobID := uuid.New()

	if _, _, err := d.Dispatch(dbc(), jobID, "discovery", "youtube", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	claimed, err := tasks.ClaimNextRunnable(dbc(), time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	requeued, err := d.ReportFailure(dbc(), claimed, Transientf("rate limited"))
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if !requeued {
		t.Fatal("transient failure was not requeued")
	}

	got, _ := tasks.GetByID(dbc(), claimed.ID)
	if got.Status != types.TaskQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Fatal("requeued task has no future backoff window")
	}
	if got.Terminal() {
		t.Fatal("requeued task must not be terminal")
	}
}

func TestReportFailurePermanentIsTerminal(t *testing.T) {
	d, tasks := testDispatcher(t)
	jobID := uuid.New()

	if _, _, err := d.Dispatch(dbc(), jobID, "analysis", "item-1", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	claimed, _ := tasks.ClaimNextRunnable(dbc(), time.Minute)

	requeued, err := d.ReportFailure(dbc(), claimed, errors.New("malformed source"))
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if requeued {
		t.Fatal("permanent failure was requeued")
	}

	got, _ := tasks.GetByID(dbc(), claimed.ID)
	if got.Status != types.TaskFailed || got.Retryable {
		t.Fatalf("status = %s retryable = %v, want failed/false", got.Status, got.Retryable)
	}
	if !got.Terminal() {
		t.Fatal("permanent failure must be terminal")
	}
}

func TestReportFailureAttemptCeilingConvertsToTerminal(t *testing.T) {
	d, tasks := testDispatcher(t)
	jobID := uuid.New()

	if _, _, err := d.Dispatch(dbc(), jobID, "discovery", "youtube", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	maxAttempts := d.Policy().MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Clear the backoff window so the fake claims immediately.
		claimed, err := tasks.ClaimNextRunnable(dbc(), time.Minute)
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if claimed == nil {
			var all []*types.TaskRun
			all, _ = tasks.ListByJobStage(dbc(), jobID, "discovery")
			_ = tasks.UpdateFields(dbc(), all[0].ID, map[string]interface{}{"next_run_at": nil})
			claimed, _ = tasks.ClaimNextRunnable(dbc(), time.Minute)
		}
		requeued, err := d.ReportFailure(dbc(), claimed, Transientf("upstream timeout"))
		if err != nil {
			t.Fatalf("report attempt %d: %v", attempt, err)
		}
		if attempt < maxAttempts && !requeued {
			t.Fatalf("attempt %d should have requeued", attempt)
		}
		if attempt == maxAttempts && requeued {
			t.Fatal("final attempt should not requeue")
		}
	}

	all, _ := tasks.ListByJobStage(dbc(), jobID, "discovery")
	if !all[0].Terminal() {
		t.Fatal("exhausted task must be terminal")
	}
	if all[0].Status != types.TaskFailed {
		t.Fatalf("status = %s, want failed", all[0].Status)
	}
}

func TestBackoffGrowsAndStaysBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, MinBackoff: time.Second, MaxBackoff: 30 * time.Second, JitterFrac: 0.2}

	prevHigh := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.computeBackoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive backoff %v", attempt, d)
		}
		if d > 36*time.Second {
			t.Fatalf("attempt %d: backoff %v above cap+jitter", attempt, d)
		}
		// Window lower bound must not shrink between attempts below the cap.
		if attempt <= 5 {
			low := time.Duration(float64(time.Second) * float64(int(1)<<(attempt-1)) * 0.8)
			if d < low/2 {
				t.Fatalf("attempt %d: backoff %v implausibly small", attempt, d)
			}
			if low > prevHigh {
				prevHigh = low
			}
		}
	}
}

func TestInsufficientResultsIsPermanent(t *testing.T) {
	err := &InsufficientResults{Stage: "discovery", Got: 0, Want: 1}
	if IsRetryable(err) {
		t.Fatal("barrier shortfall must not be retryable")
	}
	if err.Error() == "" {
		t.Fatal("empty error message")
	}
}
