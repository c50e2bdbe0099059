package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	domjobs "github.com/reelforge/reelforge-backend/internal/domain/jobs"
	"github.com/reelforge/reelforge-backend/internal/jobs/orchestrator"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotOwner    = errors.New("job belongs to another owner")
	ErrJobActive   = errors.New("job is still active")
)

var validJobTypes = map[string]bool{
	domjobs.TypeRanking:     true,
	domjobs.TypeCompilation: true,
	domjobs.TypeHighlights:  true,
}

// JobService is the trigger surface: everything a caller can do to a
// campaign from the outside. All pipeline decisions stay in the
// orchestrator.
type JobService interface {
	Create(ctx context.Context, ownerID uuid.UUID, jobType string, cfg map[string]any) (*types.Job, error)
	Get(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Job, error)
	List(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error)
	Events(ctx context.Context, ownerID, jobID uuid.UUID) ([]*types.JobEvent, error)
	Output(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Output, error)
	Items(ctx context.Context, ownerID, jobID uuid.UUID) ([]*types.Item, error)
	Cancel(ctx context.Context, ownerID, jobID uuid.UUID) error
	Restart(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Job, error)
}

type jobService struct {
	jobs    repos.JobRepo
	items   repos.ItemRepo
	outputs repos.OutputRepo
	orch    *orchestrator.Orchestrator
	notify  JobNotifier
	log     *logger.Logger
}

func NewJobService(
	rset *repos.Set,
	orch *orchestrator.Orchestrator,
	notify JobNotifier,
	baseLog *logger.Logger,
) JobService {
	return &jobService{
		jobs:    rset.Jobs,
		items:   rset.Items,
		outputs: rset.Outputs,
		orch:    orch,
		notify:  notify,
		log:     baseLog.With("service", "JobService"),
	}
}

func (s *jobService) Create(ctx context.Context, ownerID uuid.UUID, jobType string, cfg map[string]any) (*types.Job, error) {
	if ownerID == uuid.Nil {
		return nil, errors.New("owner required")
	}
	if !validJobTypes[jobType] {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	var raw datatypes.JSON
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		raw = datatypes.JSON(b)
	}
	job := &types.Job{
		ID:      uuid.New(),
		OwnerID: ownerID,
		JobType: jobType,
		Status:  types.JobPending,
		Config:  raw,
	}
	if _, err := s.jobs.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		return nil, err
	}
	s.log.Info("job created", "job_id", job.ID, "owner_id", ownerID, "job_type", jobType)
	if s.notify != nil {
		s.notify.JobCreated(job)
	}
	// Kick the first advance so discovery starts without waiting for the
	// sweep.
	if err := s.orch.Advance(ctx, job.ID); err != nil {
		s.log.Warn("initial advance failed, sweep will retry", "job_id", job.ID, "error", err)
	}
	return s.jobs.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
}

func (s *jobService) Get(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Job, error) {
	return s.owned(ctx, ownerID, jobID)
}

func (s *jobService) List(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error) {
	return s.jobs.ListByOwner(dbctx.Context{Ctx: ctx}, ownerID, limit)
}

func (s *jobService) Events(ctx context.Context, ownerID, jobID uuid.UUID) ([]*types.JobEvent, error) {
	if _, err := s.owned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.jobs.ListEvents(dbctx.Context{Ctx: ctx}, jobID)
}

func (s *jobService) Output(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Output, error) {
	if _, err := s.owned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.outputs.GetByJobID(dbctx.Context{Ctx: ctx}, jobID)
}

func (s *jobService) Items(ctx context.Context, ownerID, jobID uuid.UUID) ([]*types.Item, error) {
	if _, err := s.owned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.items.ListForJob(dbctx.Context{Ctx: ctx}, jobID)
}

func (s *jobService) Cancel(ctx context.Context, ownerID, jobID uuid.UUID) error {
	if _, err := s.owned(ctx, ownerID, jobID); err != nil {
		return err
	}
	_, err := s.orch.Cancel(ctx, jobID)
	return err
}

// Restart clones a finished job into a fresh run. Statuses never regress, so
// a new job row carries the same type and config; the old run and its history
// stay untouched.
func (s *jobService) Restart(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Job, error) {
	prev, err := s.owned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if !domjobs.TerminalStatus(prev.Status) {
		return nil, fmt.Errorf("%w (%s), cancel it before restarting", ErrJobActive, prev.Status)
	}
	job := &types.Job{
		ID:      uuid.New(),
		OwnerID: prev.OwnerID,
		JobType: prev.JobType,
		Status:  types.JobPending,
		Config:  prev.Config,
	}
	if _, err := s.jobs.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		return nil, err
	}
	s.log.Info("job restarted", "job_id", job.ID, "previous_job_id", prev.ID)
	if s.notify != nil {
		s.notify.JobCreated(job)
	}
	if err := s.orch.Advance(ctx, job.ID); err != nil {
		s.log.Warn("initial advance failed, sweep will retry", "job_id", job.ID, "error", err)
	}
	return s.jobs.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
}

func (s *jobService) owned(ctx context.Context, ownerID, jobID uuid.UUID) (*types.Job, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return job, nil
}
