package domain

import (
	"github.com/reelforge/reelforge-backend/internal/domain/content"
	"github.com/reelforge/reelforge-backend/internal/domain/jobs"
)

type Job = jobs.Job
type JobEvent = jobs.JobEvent
type TaskRun = jobs.TaskRun

type Item = content.Item
type ItemLink = content.ItemLink
type Analysis = content.Analysis
type Output = content.Output

const (
	JobPending     = jobs.StatusPending
	JobDiscovering = jobs.StatusDiscovering
	JobAnalyzing   = jobs.StatusAnalyzing
	JobSelecting   = jobs.StatusSelecting
	JobRendering   = jobs.StatusRendering
	JobCompleted   = jobs.StatusCompleted
	JobFailed      = jobs.StatusFailed
	JobCancelled   = jobs.StatusCancelled

	TaskQueued    = jobs.TaskQueued
	TaskRunning   = jobs.TaskRunning
	TaskSucceeded = jobs.TaskSucceeded
	TaskFailed    = jobs.TaskFailed
	TaskCancelled = jobs.TaskCancelled
)
