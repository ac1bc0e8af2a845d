// Package exports implements the proof-pack endpoints: creating an export job,
// polling it, downloading the finished archive and verifying a manifest
// against the export record and the ledger.
//
// Every lookup is scoped to the caller's organization. A job that belongs to
// another organization is reported as not found.
package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
	"github.com/riskmate/riskmate/internal/storage"
	"github.com/riskmate/riskmate/internal/telemetry"
)

const (
	exportTypeProofPack  = "proof_pack"
	maxIdempotencyKeyLen = 255
	defaultPollBudget    = 2 * time.Minute
	defaultDownloadTTL   = 15 * time.Minute
)

// JobStore is the subset of the export job repository the handlers use
type JobStore interface {
	CreateOrGet(ctx context.Context, job *models.ExportJob) (*models.ExportJob, bool, error)
	GetByID(ctx context.Context, orgID, id string) (*models.ExportJob, error)
}

// EventReader loads the ledger event that recorded a completed export
type EventReader interface {
	GetByID(ctx context.Context, orgID, eventID string) (*models.AuditEvent, error)
}

// Recorder appends ledger events
type Recorder interface {
	RecordAuditLog(ctx context.Context, e ledger.Entry) ledger.Result
}

// Handlers serves the export endpoints
type Handlers struct {
	jobs        JobStore
	events      EventReader
	recorder    Recorder
	store       storage.Storage
	pollBudget  time.Duration
	downloadTTL time.Duration
	now         func() time.Time
}

// NewHandlers creates the export handlers
func NewHandlers(jobs JobStore, events EventReader, recorder Recorder, store storage.Storage, cfg *config.ExportConfig) *Handlers {
	h := &Handlers{
		jobs:        jobs,
		events:      events,
		recorder:    recorder,
		store:       store,
		pollBudget:  defaultPollBudget,
		downloadTTL: defaultDownloadTTL,
		now:         time.Now,
	}
	if cfg != nil {
		if cfg.PollBudget > 0 {
			h.pollBudget = cfg.PollBudget
		}
		if cfg.DownloadURLTTL > 0 {
			h.downloadTTL = cfg.DownloadURLTTL
		}
	}
	return h
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":      message,
		"code":       code,
		"request_id": middleware.GetRequestID(c),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// record writes an export event. A failed write is logged and never changes
// the response.
func (h *Handlers) record(c *gin.Context, e ledger.Entry) *ledger.ResultData {
	if e.Client == "" {
		e.Client = "api"
	}
	if e.Context.RequestID == "" {
		rc := middleware.LedgerContext(c)
		rc.RelatedEventID = e.Context.RelatedEventID
		e.Context = rc
	}
	res := h.recorder.RecordAuditLog(c.Request.Context(), e)
	if !res.OK() {
		msg := "no event returned"
		if res.Err != nil {
			msg = res.Err.Message
		}
		slog.Warn("export event not recorded", "event_name", e.EventName, "export_id", e.TargetID, "error", msg)
		return nil
	}
	return res.Data
}

type createRequest struct {
	Filters export.Filters `json:"filters"`
}

// @Summary      Request a proof pack
// @Description  Queues a proof-pack export for the filtered ledger slice. The Idempotency-Key header is required; repeating a key returns the existing job.
// @Tags         Exports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string  true  "Client-chosen key, unique per logical request"
// @Success      200  {object}  map[string]interface{}  "data: {id, state, progress} (existing job)"
// @Success      202  {object}  map[string]interface{}  "data: {id, state, progress} (new job)"
// @Failure      400  {object}  map[string]interface{}  "Missing idempotency key or invalid filters"
// @Failure      403  {object}  map[string]interface{}  "Role or scope check failed"
// @Router       /api/audit/export/proof-pack [post]
// CreateProofPack queues a proof-pack export
// POST /api/audit/export/proof-pack
func (h *Handlers) CreateProofPack() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			middleware.Reject(c, http.StatusUnauthorized, middleware.CodeInvalidContext, "Authentication context is incomplete")
			return
		}

		key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		if key == "" {
			errorJSON(c, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", "Idempotency-Key header is required")
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			errorJSON(c, http.StatusBadRequest, "IDEMPOTENCY_KEY_INVALID",
				fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen))
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be JSON with a filters object")
			return
		}
		filters, err := req.Filters.Normalize()
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "INVALID_FILTER", err.Error())
			return
		}
		filtersJSON, err := json.Marshal(filters)
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, "EXPORT_CREATE_FAILED", "Failed to encode filters")
			return
		}

		now := h.now().UTC()
		requestedBy := p.UserID
		job := &models.ExportJob{
			ID:             uuid.NewString(),
			OrganizationID: p.OrganizationID,
			RequestedBy:    &requestedBy,
			IdempotencyKey: key,
			ExportType:     exportTypeProofPack,
			Filters:        types.JSONText(filtersJSON),
			State:          string(export.StateQueued),
			Progress:       export.StateQueued.Progress(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		got, created, err := h.jobs.CreateOrGet(c.Request.Context(), job)
		if err != nil {
			slog.Error("failed to create export job", "org_id", p.OrganizationID, "error", err)
			errorJSON(c, http.StatusInternalServerError, "EXPORT_CREATE_FAILED", "Failed to create export job")
			return
		}

		body := gin.H{"data": gin.H{
			"id":       got.ID,
			"state":    got.State,
			"progress": got.Progress,
		}}
		if !created {
			c.JSON(http.StatusOK, body)
			return
		}

		telemetry.ExportJobsTotal.WithLabelValues(string(export.StateQueued)).Inc()
		active := make(map[string]interface{})
		for _, af := range filters.Active() {
			active[af.Label] = af.Value
		}
		h.record(c, ledger.Entry{
			OrganizationID: p.OrganizationID,
			ActorID:        p.UserID,
			EventName:      "export.requested",
			TargetType:     ledger.TargetExport,
			TargetID:       got.ID,
			JobID:          filters.JobID,
			SiteID:         filters.SiteID,
			Metadata: map[string]interface{}{
				"export_type":         exportTypeProofPack,
				"filters":             active,
				"active_filter_count": export.ActiveFilterCount(filters),
			},
		})
		c.JSON(http.StatusAccepted, body)
	}
}

// @Summary      Export status
// @Description  Returns the current state of an export job. Clients poll this until state is ready or failed, giving up after poll_budget_seconds; an export may still complete after that.
// @Tags         Exports
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Export ID"
// @Success      200  {object}  map[string]interface{}  "data: {id, state, progress, download_url?, manifest_hash?, error_message?, failure_reason?, poll_budget_seconds}"
// @Failure      404  {object}  map[string]interface{}  "Export not found"
// @Router       /api/exports/{id} [get]
// GetStatus returns an export job's state
// GET /api/exports/:id
func (h *Handlers) GetStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.loadJob(c)
		if !ok {
			return
		}

		data := gin.H{
			"id":                  job.ID,
			"state":               job.State,
			"progress":            job.Progress,
			"poll_budget_seconds": int(h.pollBudget / time.Second),
			"created_at":          job.CreatedAt,
		}
		if job.ManifestHash != nil {
			data["manifest_hash"] = *job.ManifestHash
		}
		if job.ErrorMessage != nil {
			data["error_message"] = *job.ErrorMessage
		}
		if job.FailureReason != nil {
			data["failure_reason"] = *job.FailureReason
		}
		if job.CompletedAt != nil {
			data["completed_at"] = job.CompletedAt
		}
		if job.State == string(export.StateReady) {
			data["download_url"] = h.downloadURL(c, job)
		}

		c.JSON(http.StatusOK, gin.H{"data": data})
	}
}

// downloadURL prefers a signed backend URL and falls back to the streaming endpoint
func (h *Handlers) downloadURL(c *gin.Context, job *models.ExportJob) string {
	fallback := "/api/exports/" + job.ID + "/download"
	if job.StoragePath == nil {
		return fallback
	}
	url, err := h.store.SignedURL(c.Request.Context(), *job.StoragePath, h.downloadTTL)
	if err != nil {
		slog.Warn("failed to sign download url", "export_id", job.ID, "error", err)
		return fallback
	}
	if url == "" {
		return fallback
	}
	return url
}

// @Summary      Download a proof pack
// @Description  Redirects to a signed storage URL, or streams the ZIP archive when the backend cannot sign.
// @Tags         Exports
// @Security     Bearer
// @Produce      application/zip
// @Param        id  path  string  true  "Export ID"
// @Success      200  {file}    binary                  "Proof-pack archive"
// @Success      302  {string}  string                  "Redirect to signed URL"
// @Failure      404  {object}  map[string]interface{}  "Export not found"
// @Failure      409  {object}  map[string]interface{}  "Export is not ready"
// @Router       /api/exports/{id}/download [get]
// Download serves a ready proof pack
// GET /api/exports/:id/download
func (h *Handlers) Download() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := h.loadJob(c)
		if !ok {
			return
		}
		if job.State != string(export.StateReady) || job.StoragePath == nil {
			errorJSON(c, http.StatusConflict, "EXPORT_NOT_READY",
				fmt.Sprintf("Export is %s; download is available once it is ready", job.State))
			return
		}
		key := *job.StoragePath
		ctx := c.Request.Context()

		if url, err := h.store.SignedURL(ctx, key, h.downloadTTL); err == nil && url != "" {
			c.Redirect(http.StatusFound, url)
			return
		}

		obj, err := h.store.Stat(ctx, key)
		if err != nil {
			h.storageError(c, job, err)
			return
		}
		rc, err := h.store.Open(ctx, key)
		if err != nil {
			h.storageError(c, job, err)
			return
		}
		defer rc.Close()

		c.DataFromReader(http.StatusOK, obj.Size, storage.ContentTypeZip, rc, map[string]string{
			"Content-Disposition": fmt.Sprintf(`attachment; filename="proof-pack-%s.zip"`, job.ID),
			"X-Checksum-SHA256":   obj.Checksum,
		})
	}
}

func (h *Handlers) storageError(c *gin.Context, job *models.ExportJob, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		slog.Error("proof pack missing from storage", "export_id", job.ID, "storage_path", deref(job.StoragePath))
		errorJSON(c, http.StatusNotFound, "EXPORT_ARTIFACT_MISSING", "Proof pack archive not found")
		return
	}
	slog.Error("failed to read proof pack", "export_id", job.ID, "error", err)
	errorJSON(c, http.StatusInternalServerError, "EXPORT_DOWNLOAD_FAILED", "Failed to read proof pack")
}

// loadJob resolves :id inside the caller's organization and writes the error
// response when it cannot
func (h *Handlers) loadJob(c *gin.Context) (*models.ExportJob, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		middleware.Reject(c, http.StatusUnauthorized, middleware.CodeInvalidContext, "Authentication context is incomplete")
		return nil, false
	}
	return h.lookup(c, p.OrganizationID, c.Param("id"))
}

func (h *Handlers) lookup(c *gin.Context, orgID, id string) (*models.ExportJob, bool) {
	job, err := h.jobs.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		slog.Error("failed to load export job", "export_id", id, "error", err)
		errorJSON(c, http.StatusInternalServerError, "EXPORT_LOOKUP_FAILED", "Failed to load export")
		return nil, false
	}
	if job == nil {
		errorJSON(c, http.StatusNotFound, "EXPORT_NOT_FOUND", "Export not found")
		return nil, false
	}
	return job, true
}
