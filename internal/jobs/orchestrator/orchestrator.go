// Package orchestrator advances jobs through the campaign pipeline. Advance
// is the single decision point: it is safe to call from any number of workers
// at any time, because every step is either idempotent (task dispatch) or
// serialized through the job row's compare-and-swap transition.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelforge/reelforge-backend/internal/content/selection"
	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/jobs/dispatch"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/config"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

const (
	StageDiscovery = "discovery"
	StageAnalysis  = "analysis"
	StageSelection = "selection"
	StageRender    = "render"
)

// Notifier receives job lifecycle events. Implementations must be
// non-blocking; the orchestrator calls them inline.
type Notifier interface {
	JobTransition(job *types.Job, from, to, cause string)
}

type Orchestrator struct {
	jobs     repos.JobRepo
	tasks    repos.TaskRunRepo
	items    repos.ItemRepo
	analyses repos.AnalysisRepo
	outputs  repos.OutputRepo

	dispatcher *dispatch.Dispatcher
	cfg        config.Config
	notify     Notifier
	log        *logger.Logger
}

func New(
	rset *repos.Set,
	dispatcher *dispatch.Dispatcher,
	cfg config.Config,
	notify Notifier,
	baseLog *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:       rset.Jobs,
		tasks:      rset.Tasks,
		items:      rset.Items,
		analyses:   rset.Analyses,
		outputs:    rset.Outputs,
		dispatcher: dispatcher,
		cfg:        cfg,
		notify:     notify,
		log:        baseLog.With("component", "Orchestrator"),
	}
}

// Advance makes at most one forward decision for the job. Callers loop it (or
// kick it after every task outcome); a crash between any two steps is
// recovered by the next call re-reading the same state.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	switch job.Status {
	case types.JobPending:
		return o.advancePending(dbc, job)
	case types.JobDiscovering:
		return o.advanceDiscovering(dbc, job)
	case types.JobAnalyzing:
		return o.advanceAnalyzing(dbc, job)
	case types.JobSelecting:
		return o.advanceSelecting(dbc, job)
	case types.JobRendering:
		return o.advanceRendering(dbc, job)
	case types.JobCancelled:
		// Late observer: make sure no queued work survives cancellation.
		_, err := o.tasks.CancelPending(dbc, job.ID)
		return err
	default:
		return nil
	}
}

func (o *Orchestrator) advancePending(dbc dbctx.Context, job *types.Job) error {
	won, err := o.transition(dbc, job, types.JobDiscovering, "job started", nil)
	if err != nil || !won {
		return err
	}
	job.Status = types.JobDiscovering
	job.Version++
	return o.ensureDiscoveryTasks(dbc, job)
}

func (o *Orchestrator) advanceDiscovering(dbc dbctx.Context, job *types.Job) error {
	if err := o.ensureDiscoveryTasks(dbc, job); err != nil {
		return err
	}
	settled, allFailed, err := o.stageSettled(dbc, job.ID, StageDiscovery)
	if err != nil || !settled {
		return err
	}

	count, err := o.items.CountForJob(dbc, job.ID)
	if err != nil {
		return err
	}
	minItems := int64(o.cfg.Thresholds.MinItems)
	if count < minItems || allFailed {
		return o.failJob(dbc, job, StageDiscovery,
			&dispatch.InsufficientResults{Stage: StageDiscovery, Got: count, Want: minItems})
	}

	won, err := o.transition(dbc, job, types.JobAnalyzing, "discovery settled", nil)
	if err != nil || !won {
		return err
	}
	job.Status = types.JobAnalyzing
	job.Version++
	return o.ensureAnalysisTasks(dbc, job)
}

func (o *Orchestrator) advanceAnalyzing(dbc dbctx.Context, job *types.Job) error {
	if err := o.ensureAnalysisTasks(dbc, job); err != nil {
		return err
	}
	settled, _, err := o.stageSettled(dbc, job.ID, StageAnalysis)
	if err != nil || !settled {
		return err
	}

	analyzed, err := o.countAnalyzed(dbc, job.ID)
	if err != nil {
		return err
	}
	minAnalyses := int64(o.cfg.Thresholds.MinAnalyses)
	if analyzed < minAnalyses {
		return o.failJob(dbc, job, StageAnalysis,
			&dispatch.InsufficientResults{Stage: StageAnalysis, Got: analyzed, Want: minAnalyses})
	}

	won, err := o.transition(dbc, job, types.JobSelecting, "analysis settled", nil)
	if err != nil || !won {
		return err
	}
	job.Status = types.JobSelecting
	job.Version++
	return o.advanceSelecting(dbc, job)
}

// advanceSelecting runs selection inline: it is pure compute over persisted
// rows, so there is nothing to dispatch. The output row's unique job_id makes
// a replay after a crash converge on the same record.
func (o *Orchestrator) advanceSelecting(dbc dbctx.Context, job *types.Job) error {
	cands, err := o.loadCandidates(dbc, job.ID)
	if err != nil {
		return err
	}

	params := o.selectionParams(job)
	res, err := selection.Select(params, cands)
	if errors.Is(err, selection.ErrNoEligible) {
		// No recommended survivors and fallback off: the shortfall belongs
		// to the analysis stage that produced it.
		return o.failJob(dbc, job, StageAnalysis, err)
	}
	if err != nil {
		return err
	}
	if len(res.Items) == 0 {
		return o.failJob(dbc, job, StageSelection,
			&dispatch.InsufficientResults{Stage: StageSelection, Got: 0, Want: 1})
	}

	ranked, err := json.Marshal(res.Items)
	if err != nil {
		return err
	}
	output := &types.Output{
		ID:            uuid.New(),
		JobID:         job.ID,
		RankedItems:   datatypes.JSON(ranked),
		UsedFallback:  res.UsedFallback,
		FallbackCount: res.FallbackCount,
	}
	output, created, err := o.outputs.CreateIfAbsent(dbc, output)
	if err != nil {
		return err
	}
	if created {
		o.log.Info("working set selected",
			"job_id", job.ID, "selected", len(res.Items), "fallback", res.FallbackCount)
	}

	won, err := o.transition(dbc, job, types.JobRendering, "selection complete", nil)
	if err != nil || !won {
		return err
	}
	job.Status = types.JobRendering
	job.Version++
	return o.ensureRenderTask(dbc, job, output.ID)
}

func (o *Orchestrator) advanceRendering(dbc dbctx.Context, job *types.Job) error {
	output, err := o.outputs.GetByJobID(dbc, job.ID)
	if err != nil {
		return err
	}
	if output == nil {
		return fmt.Errorf("job %s rendering without an output record", job.ID)
	}
	if err := o.ensureRenderTask(dbc, job, output.ID); err != nil {
		return err
	}
	settled, allFailed, err := o.stageSettled(dbc, job.ID, StageRender)
	if err != nil || !settled {
		return err
	}
	if allFailed {
		return o.failJob(dbc, job, StageRender, errors.New("render task exhausted retries"))
	}

	// Pull the artifact path off the succeeded render task. A completed job
	// always names its artifact; a success without one is a broken compositor
	// contract and fails the job.
	runs, err := o.tasks.ListByJobStage(dbc, job.ID, StageRender)
	if err != nil {
		return err
	}
	artifactPath := ""
	for _, run := range runs {
		if run.Status != types.TaskSucceeded || len(run.Result) == 0 {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal(run.Result, &out); err != nil {
			continue
		}
		p, ok := out["artifact_path"].(string)
		if !ok || p == "" {
			continue
		}
		artifactPath = p
		updates := map[string]interface{}{"artifact_path": p}
		if d, ok := out["duration_secs"].(float64); ok && d > 0 {
			updates["duration_secs"] = d
		}
		if err := o.outputs.UpdateFields(dbc, output.ID, updates); err != nil {
			return err
		}
	}
	if artifactPath == "" {
		return o.failJob(dbc, job, StageRender, errors.New("render result missing artifact path"))
	}

	_, err = o.transition(dbc, job, types.JobCompleted, "render complete", nil)
	return err
}

// Cancel requests cooperative cancellation. Queued tasks are cancelled
// immediately; running tasks finish their attempt and their late results are
// persisted but never advance the job again.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, errors.New("job not found")
	}
	if jobTerminal(job.Status) {
		return false, nil
	}
	won, err := o.transition(dbc, job, types.JobCancelled, "cancel requested", nil)
	if err != nil || !won {
		return won, err
	}
	_, err = o.tasks.CancelPending(dbc, job.ID)
	return true, err
}

// -------------------- stage dispatch --------------------

func (o *Orchestrator) ensureDiscoveryTasks(dbc dbctx.Context, job *types.Job) error {
	platforms := o.discoveryPlatforms(job)
	if len(platforms) == 0 {
		return errors.New("no discovery platforms configured")
	}
	query, _ := configString(job.Config, "query")
	for _, platform := range platforms {
		_, _, err := o.dispatcher.Dispatch(dbc, job.ID, StageDiscovery, platform, map[string]any{
			"platform": platform,
			"query":    query,
			"limit":    o.cfg.Discovery.PerPlatformLimit,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) ensureAnalysisTasks(dbc dbctx.Context, job *types.Job) error {
	items, err := o.items.ListForJob(dbc, job.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		_, _, err := o.dispatcher.Dispatch(dbc, job.ID, StageAnalysis, item.ID.String(), map[string]any{
			"item_id": item.ID.String(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) ensureRenderTask(dbc dbctx.Context, job *types.Job, outputID uuid.UUID) error {
	_, _, err := o.dispatcher.Dispatch(dbc, job.ID, StageRender, "artifact", map[string]any{
		"output_id": outputID.String(),
	})
	return err
}

// -------------------- barriers --------------------

// stageSettled reports whether every dispatched task of the stage is
// terminal, and whether none of them succeeded.
func (o *Orchestrator) stageSettled(dbc dbctx.Context, jobID uuid.UUID, stage string) (settled bool, allFailed bool, err error) {
	outstanding, err := o.tasks.CountNonTerminal(dbc, jobID, stage)
	if err != nil {
		return false, false, err
	}
	if outstanding > 0 {
		return false, false, nil
	}
	succeeded, err := o.tasks.CountByStatus(dbc, jobID, stage, types.TaskSucceeded)
	if err != nil {
		return false, false, err
	}
	return true, succeeded == 0, nil
}

func (o *Orchestrator) countAnalyzed(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	items, err := o.items.ListForJob(dbc, jobID)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	latest, err := o.analyses.LatestByItemIDs(dbc, ids)
	if err != nil {
		return 0, err
	}
	return int64(len(latest)), nil
}

// -------------------- transitions --------------------

func (o *Orchestrator) transition(dbc dbctx.Context, job *types.Job, to, cause string, extra map[string]interface{}) (bool, error) {
	won, err := o.jobs.TransitionStatus(dbc, job.ID, job.Status, job.Version, to, cause, extra)
	if err != nil {
		return false, err
	}
	if won {
		o.log.Info("job transitioned", "job_id", job.ID, "from", job.Status, "to", to, "cause", cause)
		if o.notify != nil {
			o.notify.JobTransition(job, job.Status, to, cause)
		}
	}
	return won, nil
}

func (o *Orchestrator) failJob(dbc dbctx.Context, job *types.Job, stage string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	won, err := o.transition(dbc, job, types.JobFailed, msg, map[string]interface{}{
		"error":        msg,
		"failed_stage": stage,
	})
	if err != nil || !won {
		return err
	}
	_, err = o.tasks.CancelPending(dbc, job.ID)
	return err
}

// -------------------- config plumbing --------------------

func (o *Orchestrator) discoveryPlatforms(job *types.Job) []string {
	if list, ok := configStringList(job.Config, "platforms"); ok && len(list) > 0 {
		return list
	}
	return o.cfg.Discovery.Platforms
}

// selectionParams layers per-job config overrides on the service defaults.
func (o *Orchestrator) selectionParams(job *types.Job) selection.Params {
	p := selection.Params{
		Weights: selection.Weights{
			Trending:  o.cfg.Selection.TrendingWeight,
			Quality:   o.cfg.Selection.QualityWeight,
			Relevance: o.cfg.Selection.RelevanceWeight,
		},
		MaxClips:      o.cfg.Selection.MaxClips,
		MaxPerAuthor:  o.cfg.Selection.MaxPerAuthor,
		AllowFallback: o.cfg.Selection.AllowFallback,
	}
	if n, ok := configInt(job.Config, "max_clips"); ok && n > 0 {
		p.MaxClips = n
	}
	if n, ok := configInt(job.Config, "max_per_author"); ok && n >= 0 {
		p.MaxPerAuthor = n
	}
	if b, ok := configBool(job.Config, "allow_fallback"); ok {
		p.AllowFallback = b
	}
	return p
}

func (o *Orchestrator) loadCandidates(dbc dbctx.Context, jobID uuid.UUID) ([]selection.Candidate, error) {
	items, err := o.items.ListForJob(dbc, jobID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	latest, err := o.analyses.LatestByItemIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	cands := make([]selection.Candidate, 0, len(items))
	for _, it := range items {
		a, ok := latest[it.ID]
		if !ok {
			continue
		}
		cands = append(cands, selection.Candidate{
			ItemID:         it.ID,
			Author:         it.Author,
			Views:          it.Views,
			DiscoveredAt:   it.DiscoveredAt,
			TrendingScore:  it.TrendingScore,
			QualityScore:   a.QualityScore,
			RelevanceScore: a.RelevanceScore,
			Recommended:    a.Recommended,
		})
	}
	return cands, nil
}

func jobTerminal(status string) bool {
	switch status {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		return true
	}
	return false
}

func configString(raw datatypes.JSON, key string) (string, bool) {
	m := decodeConfig(raw)
	if v, ok := m[key].(string); ok {
		return v, true
	}
	return "", false
}

func configStringList(raw datatypes.JSON, key string) ([]string, bool) {
	m := decodeConfig(raw)
	list, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func configInt(raw datatypes.JSON, key string) (int, bool) {
	m := decodeConfig(raw)
	if v, ok := m[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

func configBool(raw datatypes.JSON, key string) (bool, bool) {
	m := decodeConfig(raw)
	if v, ok := m[key].(bool); ok {
		return v, true
	}
	return false, false
}

func decodeConfig(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}
