package content

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/data/repos/testutil"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

func newTestItem(jobID uuid.UUID, videoID string) *types.Item {
	return &types.Item{
		ID:              uuid.New(),
		JobID:           jobID,
		Platform:        "youtube",
		PlatformVideoID: videoID,
		URL:             "https://youtube.com/watch?v=" + videoID,
		Author:          "creator",
		Views:           100,
		Likes:           10,
		DiscoveredAt:    time.Now(),
	}
}

func TestInsertIfAbsentSharesCanonicalRow(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewItemRepo(db, testutil.Logger(t))

	jobA := uuid.New()
	videoID := uuid.NewString()
	first, created, err := repo.InsertIfAbsent(dbc, newTestItem(jobA, videoID))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created {
		t.Fatalf("first sighting should create")
	}

	// Same video found by another job resolves to the same row; ownership
	// does not move.
	jobB := uuid.New()
	second, created, err := repo.InsertIfAbsent(dbc, newTestItem(jobB, videoID))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Fatalf("repeat sighting should not create")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same canonical row, got %s vs %s", second.ID, first.ID)
	}
	if second.JobID != jobA {
		t.Fatalf("ownership moved to %s", second.JobID)
	}
}

func TestMergeMetricsNeverRegresses(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewItemRepo(db, testutil.Logger(t))

	item, _, err := repo.InsertIfAbsent(dbc, newTestItem(uuid.New(), uuid.NewString()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Higher views, lower likes: views moves up, likes stays.
	if err := repo.MergeMetrics(dbc, item.ID, 500, 3, 0, 0); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, err := repo.GetByID(dbc, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Views != 500 {
		t.Fatalf("views = %d, want 500", got.Views)
	}
	if got.Likes != 10 {
		t.Fatalf("likes regressed to %d", got.Likes)
	}
}

func TestLinkMakesItemVisibleToJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewItemRepo(db, testutil.Logger(t))

	owner := uuid.New()
	linker := uuid.New()
	owned, _, err := repo.InsertIfAbsent(dbc, newTestItem(owner, uuid.NewString()))
	if err != nil {
		t.Fatalf("insert owned: %v", err)
	}
	shared, _, err := repo.InsertIfAbsent(dbc, newTestItem(linker, uuid.NewString()))
	if err != nil {
		t.Fatalf("insert shared: %v", err)
	}

	if err := repo.Link(dbc, owner, shared.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Linking twice is a no-op.
	if err := repo.Link(dbc, owner, shared.ID); err != nil {
		t.Fatalf("repeat link: %v", err)
	}

	items, err := repo.ListForJob(dbc, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected owned + linked = 2 items, got %d", len(items))
	}
	seen := map[uuid.UUID]bool{}
	for _, it := range items {
		seen[it.ID] = true
	}
	if !seen[owned.ID] || !seen[shared.ID] {
		t.Fatalf("working set missing an item: %v", seen)
	}

	count, err := repo.CountForJob(dbc, owner)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}
