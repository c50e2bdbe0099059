package content

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelforge/reelforge-backend/internal/data/repos/testutil"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

func TestOutputCreateIfAbsentIsOncePerJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewOutputRepo(db, testutil.Logger(t))

	jobID := uuid.New()
	first, created, err := repo.CreateIfAbsent(dbc, &types.Output{
		ID:          uuid.New(),
		JobID:       jobID,
		RankedItems: datatypes.JSON(`["` + uuid.NewString() + `"]`),
	})
	if err != nil {
		t.Fatalf("create output: %v", err)
	}
	if !created {
		t.Fatalf("first create should insert")
	}

	// A replayed selecting stage converges on the existing record.
	replay, created, err := repo.CreateIfAbsent(dbc, &types.Output{
		ID:          uuid.New(),
		JobID:       jobID,
		RankedItems: datatypes.JSON(`[]`),
	})
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if created {
		t.Fatalf("replay should not insert")
	}
	if replay.ID != first.ID {
		t.Fatalf("replay returned different output: %s vs %s", replay.ID, first.ID)
	}

	if err := repo.UpdateFields(dbc, first.ID, map[string]interface{}{
		"artifact_path": "s3://artifacts/final.mp4",
		"duration_secs": 57.5,
	}); err != nil {
		t.Fatalf("update fields: %v", err)
	}
	got, err := repo.GetByJobID(dbc, jobID)
	if err != nil {
		t.Fatalf("get by job: %v", err)
	}
	if got.ArtifactPath != "s3://artifacts/final.mp4" {
		t.Fatalf("artifact_path = %q", got.ArtifactPath)
	}
}
