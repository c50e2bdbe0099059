package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelforge/reelforge-backend/internal/http/middleware"
	"github.com/reelforge/reelforge-backend/internal/http/response"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
	"github.com/reelforge/reelforge-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
	log  *logger.Logger
}

func NewJobHandler(jobs services.JobService, baseLog *logger.Logger) *JobHandler {
	return &JobHandler{
		jobs: jobs,
		log:  baseLog.With("handler", "JobHandler"),
	}
}

type createJobRequest struct {
	JobType string         `json:"job_type" binding:"required"`
	Config  map[string]any `json:"config"`
}

func (h *JobHandler) Create(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing owner"))
		return
	}
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), ownerID, req.JobType, req.Config)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "create_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

func (h *JobHandler) List(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing owner"))
		return
	}
	jobs, err := h.jobs.List(c.Request.Context(), ownerID, 100)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

func (h *JobHandler) Get(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), ownerID, jobID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

func (h *JobHandler) Events(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	events, err := h.jobs.Events(c.Request.Context(), ownerID, jobID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"events": events})
}

func (h *JobHandler) Output(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	output, err := h.jobs.Output(c.Request.Context(), ownerID, jobID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if output == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("no output yet"))
		return
	}
	response.RespondOK(c, gin.H{"output": output})
}

func (h *JobHandler) Items(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	items, err := h.jobs.Items(c.Request.Context(), ownerID, jobID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"items": items})
}

func (h *JobHandler) Cancel(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	if err := h.jobs.Cancel(c.Request.Context(), ownerID, jobID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": true})
}

func (h *JobHandler) Restart(c *gin.Context) {
	ownerID, jobID, ok := h.ownerAndJob(c)
	if !ok {
		return
	}
	job, err := h.jobs.Restart(c.Request.Context(), ownerID, jobID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

func (h *JobHandler) ownerAndJob(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing owner"))
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid job id"))
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, jobID, true
}

func (h *JobHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrNotOwner):
		response.RespondError(c, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, services.ErrJobActive):
		response.RespondError(c, http.StatusConflict, "conflict", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
