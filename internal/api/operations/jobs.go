// Package operations holds the mutating endpoints whose side effects land in
// the ledger: jobs and team invitations.
package operations

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
)

// JobStore persists jobs inside one organization
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	SetJobFlag(ctx context.Context, orgID, jobID string, flagged bool) (bool, error)
}

// Recorder writes ledger events
type Recorder interface {
	RecordAuditLog(ctx context.Context, e ledger.Entry) ledger.Result
	RecordAsync(e ledger.Entry)
}

// JobHandlers serves the job endpoints
type JobHandlers struct {
	jobs     JobStore
	recorder Recorder
}

// NewJobHandlers creates the job handlers
func NewJobHandlers(jobs JobStore, recorder Recorder) *JobHandlers {
	return &JobHandlers{jobs: jobs, recorder: recorder}
}

type createJobRequest struct {
	Title     string                 `json:"title" binding:"required"`
	SiteID    *string                `json:"site_id"`
	RiskScore *float64               `json:"risk_score"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func principal(c *gin.Context) (middleware.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		middleware.Reject(c, http.StatusUnauthorized, middleware.CodeInvalidContext, "Authentication context is incomplete")
	}
	return p, ok
}

// record writes e with the request context attached and returns the event ID,
// or "" when the write failed
func record(c *gin.Context, rec Recorder, e ledger.Entry) string {
	e.Client = "api"
	e.Context = middleware.LedgerContext(c)
	res := rec.RecordAuditLog(c.Request.Context(), e)
	if !res.OK() {
		msg := "no event returned"
		if res.Err != nil {
			msg = res.Err.Message
		}
		slog.Warn("ledger event not recorded", "event_name", e.EventName, "target_id", e.TargetID, "error", msg)
		return ""
	}
	return res.Data.ID
}

// @Summary      Create a job
// @Tags         Jobs
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  createJobRequest  true  "Job"
// @Success      201  {object}  map[string]interface{}  "ok: true, data: models.Job, ledger_event_id"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Read-only role"
// @Router       /api/jobs [post]
// CreateJob creates a job and records job.created
// POST /api/jobs
func (h *JobHandlers) CreateJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}

		var req createJobRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
			middleware.Reject(c, http.StatusBadRequest, "INVALID_REQUEST", "title is required")
			return
		}

		job := &models.Job{
			OrganizationID: p.OrganizationID,
			SiteID:         req.SiteID,
			Title:          strings.TrimSpace(req.Title),
			RiskScore:      req.RiskScore,
		}
		if len(req.Metadata) > 0 {
			raw, err := json.Marshal(req.Metadata)
			if err != nil {
				middleware.Reject(c, http.StatusBadRequest, "INVALID_REQUEST", "metadata must be an object")
				return
			}
			job.Metadata = raw
		}

		if err := h.jobs.CreateJob(c.Request.Context(), job); err != nil {
			slog.Error("failed to create job", "org_id", p.OrganizationID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "JOB_CREATE_FAILED", "Failed to create job")
			return
		}

		meta := map[string]interface{}{"title": job.Title}
		if job.RiskScore != nil {
			meta["risk_score"] = *job.RiskScore
		}
		eventID := record(c, h.recorder, ledger.Entry{
			OrganizationID: p.OrganizationID,
			ActorID:        p.UserID,
			EventName:      "job.created",
			TargetType:     ledger.TargetJob,
			TargetID:       job.ID,
			JobID:          job.ID,
			SiteID:         deref(job.SiteID),
			Metadata:       meta,
		})

		c.JSON(http.StatusCreated, gin.H{"ok": true, "data": job, "ledger_event_id": eventID})
	}
}

// @Summary      Flag a job
// @Tags         Jobs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Job ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Job not found"
// @Router       /api/jobs/{id}/flag [post]
// FlagJob marks a job for review and records job.flagged
// POST /api/jobs/:id/flag
func (h *JobHandlers) FlagJob() gin.HandlerFunc {
	return h.setFlag(true)
}

// @Summary      Unflag a job
// @Tags         Jobs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Job ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}  "Job not found"
// @Router       /api/jobs/{id}/unflag [post]
// UnflagJob clears the review flag and records job.unflagged
// POST /api/jobs/:id/unflag
func (h *JobHandlers) UnflagJob() gin.HandlerFunc {
	return h.setFlag(false)
}

func (h *JobHandlers) setFlag(flagged bool) gin.HandlerFunc {
	eventName := "job.unflagged"
	if flagged {
		eventName = "job.flagged"
	}
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		jobID := c.Param("id")

		found, err := h.jobs.SetJobFlag(c.Request.Context(), p.OrganizationID, jobID, flagged)
		if err != nil {
			slog.Error("failed to update job flag", "org_id", p.OrganizationID, "job_id", jobID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "JOB_UPDATE_FAILED", "Failed to update job")
			return
		}
		if !found {
			middleware.Reject(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found")
			return
		}

		eventID := record(c, h.recorder, ledger.Entry{
			OrganizationID: p.OrganizationID,
			ActorID:        p.UserID,
			EventName:      eventName,
			TargetType:     ledger.TargetJob,
			TargetID:       jobID,
			JobID:          jobID,
			Metadata:       map[string]interface{}{"flagged": flagged},
		})

		c.JSON(http.StatusOK, gin.H{
			"ok":              true,
			"data":            gin.H{"id": jobID, "flagged": flagged},
			"ledger_event_id": eventID,
		})
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
