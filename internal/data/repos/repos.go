package repos

import (
	"gorm.io/gorm"

	"github.com/reelforge/reelforge-backend/internal/data/repos/content"
	"github.com/reelforge/reelforge-backend/internal/data/repos/jobs"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
)

type JobRepo = jobs.JobRepo
type TaskRunRepo = jobs.TaskRunRepo

type ItemRepo = content.ItemRepo
type AnalysisRepo = content.AnalysisRepo
type OutputRepo = content.OutputRepo

// Set bundles every repo for wiring in cmd and the worker.
type Set struct {
	Jobs     JobRepo
	Tasks    TaskRunRepo
	Items    ItemRepo
	Analyses AnalysisRepo
	Outputs  OutputRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) *Set {
	return &Set{
		Jobs:     jobs.NewJobRepo(db, log),
		Tasks:    jobs.NewTaskRunRepo(db, log),
		Items:    content.NewItemRepo(db, log),
		Analyses: content.NewAnalysisRepo(db, log),
		Outputs:  content.NewOutputRepo(db, log),
	}
}
