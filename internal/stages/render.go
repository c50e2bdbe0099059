package stages

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/jobs/runtime"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

// RenderHandler hands the ranked working set to the compositor. The download
// and edit steps live inside the compositor; this service only cares about
// the resulting artifact.
type RenderHandler struct {
	compositor Compositor
	items      repos.ItemRepo
	outputs    repos.OutputRepo
	log        *logger.Logger
}

func NewRenderHandler(compositor Compositor, items repos.ItemRepo, outputs repos.OutputRepo, baseLog *logger.Logger) *RenderHandler {
	return &RenderHandler{
		compositor: compositor,
		items:      items,
		outputs:    outputs,
		log:        baseLog.With("handler", "render"),
	}
}

func (h *RenderHandler) Stage() string { return orchestrator.StageRender }

func (h *RenderHandler) Run(rc *runtime.Context) (map[string]any, error) {
	outputID, ok := rc.PayloadUUID("output_id")
	if !ok {
		return nil, fmt.Errorf("render task missing output_id")
	}
	dbc := dbctx.Context{Ctx: rc.Ctx}
	output, err := h.outputs.GetByJobID(dbc, rc.Job.ID)
	if err != nil {
		return nil, dispatch.Transient(err)
	}
	if output == nil || output.ID != outputID {
		return nil, fmt.Errorf("output %s not found for job %s", outputID, rc.Job.ID)
	}

	var ranked []uuid.UUID
	if err := json.Unmarshal(output.RankedItems, &ranked); err != nil {
		return nil, fmt.Errorf("decode ranked items: %w", err)
	}
	// Resolve in rank order; a missing item is a data integrity problem, not
	// a retry candidate.
	items := make([]*types.Item, 0, len(ranked))
	for _, id := range ranked {
		item, err := h.items.GetByID(dbc, id)
		if err != nil {
			return nil, dispatch.Transient(err)
		}
		if item == nil {
			return nil, fmt.Errorf("ranked item %s not found", id)
		}
		items = append(items, item)
	}

	path, duration, err := h.compositor.Render(rc.Ctx, output, items)
	if err != nil {
		return nil, dispatch.Transientf("render output %s: %v", output.ID, err)
	}

	h.log.Info("artifact rendered", "job_id", rc.Job.ID, "artifact_path", path, "duration_secs", duration)
	return map[string]any{
		"artifact_path": path,
		"duration_secs": duration,
		"clip_count":    len(items),
	}, nil
}
