package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type JobsHandler struct {
	jobs services.JobService
}

func NewJobsHandler(jobs services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// GET /api/jobs
func (h *JobsHandler) List(c *gin.Context) {
	filter := services.JobListFilter{
		Status:       c.Query("status"),
		StaleMinutes: intQuery(c, "stale_minutes", 0),
	}
	if raw := c.Query("start_date"); raw != "" {
		t, err := parseDateOrTime(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_start_date", err)
			return
		}
		filter.StartDate = &t
	}
	resp, err := h.jobs.List(dbctx.Context{Ctx: c.Request.Context()}, filter)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// GET /api/jobs/:id
func (h *JobsHandler) Get(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/cancel
func (h *JobsHandler) Cancel(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	resp, err := h.jobs.Cancel(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// POST /api/jobs/:id/requeue
func (h *JobsHandler) Requeue(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	resp, err := h.jobs.Requeue(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// POST /api/jobs/queues/:queue/clear
func (h *JobsHandler) ClearQueue(c *gin.Context) {
	resp, err := h.jobs.ClearQueue(dbctx.Context{Ctx: c.Request.Context()}, c.Param("queue"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// parseDateOrTime accepts RFC 3339 timestamps and bare YYYY-MM-DD dates.
func parseDateOrTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
