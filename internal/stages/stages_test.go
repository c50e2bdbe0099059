package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelforge/reelforge-backend/internal/content/dedup"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/jobstest"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type stubPlatform struct {
	name   string
	videos []DiscoveredVideo
	err    error
}

func (s *stubPlatform) Platform() string { return s.name }
func (s *stubPlatform) Search(context.Context, string, int) ([]DiscoveredVideo, error) {
	return s.videos, s.err
}

type stubAnalyzer struct {
	res *AnalysisResult
	err error
}

func (s *stubAnalyzer) Analyze(context.Context, *types.Item) (*AnalysisResult, error) {
	return s.res, s.err
}

type stubCompositor struct {
	path string
	err  error
	got  []*types.Item
}

func (s *stubCompositor) Render(_ context.Context, _ *types.Output, items []*types.Item) (string, float64, error) {
	s.got = items
	return s.path, 42.0, s.err
}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func taskCtx(t *testing.T, job *types.Job, stage string, payload map[string]any) *runtime.Context {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := &types.TaskRun{
		ID: uuid.New(), JobID: job.ID, Stage: stage,
		PartitionKey: "test", Status: types.TaskRunning,
		Payload: datatypes.JSON(raw),
	}
	return runtime.NewContext(context.Background(), nil, job, task, jobstest.NewTaskRepo())
}

func dbc() dbctx.Context { return dbctx.Context{Ctx: context.Background()} }

func TestDiscoveryHandlerIngestsThroughDeduper(t *testing.T) {
	log := testLog(t)
	items := jobstest.NewItemRepo()
	client := &stubPlatform{name: "youtube", videos: []DiscoveredVideo{
		{PlatformVideoID: "a", Author: "alice", Views: 100},
		{PlatformVideoID: "b", Author: "bob", Views: 200},
		{PlatformVideoID: "a", Author: "alice", Views: 300}, // repeat within one pass
	}}
	h := NewDiscoveryHandler([]PlatformClient{client}, dedup.NewDeduper(items, log), log)

	job := &types.Job{ID: uuid.New(), Status: types.JobDiscovering}
	res, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"platform": "youtube", "query": "q", "limit": 10}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res["created"] != 2 || res["updated"] != 1 {
		t.Fatalf("result = %v, want 2 created / 1 updated", res)
	}
	count, _ := items.CountForJob(dbc(), job.ID)
	if count != 2 {
		t.Fatalf("item count = %d, want 2", count)
	}
	// The repeat sighting refreshed views upward.
	it, _ := items.GetByKey(dbc(), "youtube", "a")
	if it.Views != 300 {
		t.Fatalf("views = %d, want 300", it.Views)
	}
}

func TestDiscoveryHandlerClientErrorIsTransient(t *testing.T) {
	log := testLog(t)
	client := &stubPlatform{name: "youtube", err: errors.New("rate limited")}
	h := NewDiscoveryHandler([]PlatformClient{client}, dedup.NewDeduper(jobstest.NewItemRepo(), log), log)

	job := &types.Job{ID: uuid.New(), Status: types.JobDiscovering}
	_, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"platform": "youtube"}))
	if !dispatch.IsRetryable(err) {
		t.Fatalf("client error not retryable: %v", err)
	}
}

func TestDiscoveryHandlerUnknownPlatformIsPermanent(t *testing.T) {
	log := testLog(t)
	h := NewDiscoveryHandler(nil, dedup.NewDeduper(jobstest.NewItemRepo(), log), log)

	job := &types.Job{ID: uuid.New(), Status: types.JobDiscovering}
	_, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"platform": "myspace"}))
	if err == nil || dispatch.IsRetryable(err) {
		t.Fatalf("want permanent error, got %v", err)
	}
}

func TestAnalysisHandlerPersistsScoredAnalysis(t *testing.T) {
	log := testLog(t)
	items := jobstest.NewItemRepo()
	analyses := jobstest.NewAnalysisRepo()

	job := &types.Job{ID: uuid.New(), Status: types.JobAnalyzing}
	item := &types.Item{
		ID: uuid.New(), JobID: job.ID,
		Platform: "youtube", PlatformVideoID: "v1",
		TrendingScore: 0.5, DiscoveredAt: time.Now(),
	}
	if _, _, err := items.InsertIfAbsent(dbc(), item); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	h := NewAnalysisHandler(&stubAnalyzer{res: &AnalysisResult{
		Model: "scorer-v2", QualityScore: 0.8, RelevanceScore: 0.6, Recommended: true,
	}}, items, analyses, config.Default().Selection, log)

	res, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"item_id": item.ID.String()}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	latest, _ := analyses.LatestByItemIDs(dbc(), []uuid.UUID{item.ID})
	a := latest[item.ID]
	if a == nil {
		t.Fatal("analysis not persisted")
	}
	// 0.4*0.5 + 0.3*0.8 + 0.3*0.6 = 0.62
	if a.CompositeScore < 0.61 || a.CompositeScore > 0.63 {
		t.Fatalf("composite = %v, want ~0.62", a.CompositeScore)
	}
	if !a.Recommended || a.Model != "scorer-v2" {
		t.Fatalf("analysis fields wrong: %+v", a)
	}
	if res["recommended"] != true {
		t.Fatalf("result = %v", res)
	}
}

func TestAnalysisHandlerAnalyzerErrorIsTransient(t *testing.T) {
	log := testLog(t)
	items := jobstest.NewItemRepo()
	job := &types.Job{ID: uuid.New(), Status: types.JobAnalyzing}
	item := &types.Item{ID: uuid.New(), JobID: job.ID, Platform: "youtube", PlatformVideoID: "v1"}
	_, _, _ = items.InsertIfAbsent(dbc(), item)

	h := NewAnalysisHandler(&stubAnalyzer{err: errors.New("model overloaded")},
		items, jobstest.NewAnalysisRepo(), config.Default().Selection, log)

	_, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"item_id": item.ID.String()}))
	if !dispatch.IsRetryable(err) {
		t.Fatalf("analyzer error not retryable: %v", err)
	}
}

func TestRenderHandlerResolvesRankOrder(t *testing.T) {
	log := testLog(t)
	items := jobstest.NewItemRepo()
	outputs := jobstest.NewOutputRepo()

	job := &types.Job{ID: uuid.New(), Status: types.JobRendering}
	first := &types.Item{ID: uuid.New(), JobID: job.ID, Platform: "youtube", PlatformVideoID: "v1"}
	second := &types.Item{ID: uuid.New(), JobID: job.ID, Platform: "youtube", PlatformVideoID: "v2"}
	_, _, _ = items.InsertIfAbsent(dbc(), first)
	_, _, _ = items.InsertIfAbsent(dbc(), second)

	ranked, _ := json.Marshal([]uuid.UUID{second.ID, first.ID})
	output := &types.Output{ID: uuid.New(), JobID: job.ID, RankedItems: datatypes.JSON(ranked)}
	if _, _, err := outputs.CreateIfAbsent(dbc(), output); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	comp := &stubCompositor{path: "/artifacts/out.mp4"}
	h := NewRenderHandler(comp, items, outputs, log)

	res, err := h.Run(taskCtx(t, job, h.Stage(), map[string]any{"output_id": output.ID.String()}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res["artifact_path"] != "/artifacts/out.mp4" {
		t.Fatalf("result = %v", res)
	}
	if len(comp.got) != 2 || comp.got[0].ID != second.ID || comp.got[1].ID != first.ID {
		t.Fatal("compositor did not receive items in rank order")
	}
}
