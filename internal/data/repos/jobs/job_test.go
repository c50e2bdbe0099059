package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/data/repos/testutil"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

func newTestJob(ownerID uuid.UUID) *types.Job {
	return &types.Job{
		ID:      uuid.New(),
		OwnerID: ownerID,
		JobType: "compilation",
		Status:  types.JobPending,
	}
}

func TestTransitionStatusCompareAndSwap(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	job := newTestJob(uuid.New())
	if _, err := repo.Create(dbc, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	won, err := repo.TransitionStatus(dbc, job.ID, types.JobPending, 0, types.JobDiscovering, "dispatching discovery", nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !won {
		t.Fatalf("expected first transition to win")
	}

	// Same read (status + version) cannot win twice.
	won, err = repo.TransitionStatus(dbc, job.ID, types.JobPending, 0, types.JobDiscovering, "replay", nil)
	if err != nil {
		t.Fatalf("replayed transition: %v", err)
	}
	if won {
		t.Fatalf("stale transition should lose")
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != types.JobDiscovering {
		t.Fatalf("status = %q, want discovering", got.Status)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}

	events, err := repo.ListEvents(dbc, job.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].FromStatus != types.JobPending || events[0].ToStatus != types.JobDiscovering {
		t.Fatalf("event = %s -> %s", events[0].FromStatus, events[0].ToStatus)
	}
}

func TestTransitionStatusRejectsIllegalHop(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	job := newTestJob(uuid.New())
	if _, err := repo.Create(dbc, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := repo.TransitionStatus(dbc, job.ID, types.JobPending, 0, types.JobCompleted, "skip ahead", nil); err == nil {
		t.Fatalf("pending -> completed should be rejected")
	}
}

func TestTransitionStatusSetsFailureFields(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	job := newTestJob(uuid.New())
	if _, err := repo.Create(dbc, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	won, err := repo.TransitionStatus(dbc, job.ID, types.JobPending, 0, types.JobFailed, "discovery yield too low", map[string]interface{}{
		"error":        "discovery produced 0 items",
		"failed_stage": "discovery",
	})
	if err != nil || !won {
		t.Fatalf("fail transition: won=%v err=%v", won, err)
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.FailedStage != "discovery" {
		t.Fatalf("failed_stage = %q", got.FailedStage)
	}
	if got.Error == "" {
		t.Fatalf("expected error recorded")
	}
	if got.CompletedAt == nil {
		t.Fatalf("terminal transition should stamp completed_at")
	}
}

func TestListByOwnerScopesToOwner(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	ownerA := uuid.New()
	ownerB := uuid.New()
	for _, owner := range []uuid.UUID{ownerA, ownerA, ownerB} {
		if _, err := repo.Create(dbc, newTestJob(owner)); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}

	jobs, err := repo.ListByOwner(dbc, ownerA, 10)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs for owner A, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.OwnerID != ownerA {
			t.Fatalf("job %s belongs to %s", j.ID, j.OwnerID)
		}
	}
}
