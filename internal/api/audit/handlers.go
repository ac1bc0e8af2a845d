// Package audit serves the read side of the ledger: the readiness summary and
// tenant-scoped event listings. Errors use the gate's {"ok": false, "code"}
// shape so dashboards can handle both the same way.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/db/repositories"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/middleware"
	"github.com/riskmate/riskmate/internal/readiness"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// ReadinessComputer computes the readiness summary for one organization
type ReadinessComputer interface {
	Compute(ctx context.Context, orgID string, f readiness.Filters) (*readiness.Result, error)
}

// EventLister reads ledger events inside one organization
type EventLister interface {
	List(ctx context.Context, filters repositories.EventFilters, limit, offset int) ([]*models.AuditEvent, int, error)
	GetByID(ctx context.Context, orgID, eventID string) (*models.AuditEvent, error)
}

// Handlers serves the audit read endpoints
type Handlers struct {
	readiness ReadinessComputer
	events    EventLister
	now       func() time.Time
}

// NewHandlers creates the audit handlers
func NewHandlers(r ReadinessComputer, events EventLister) *Handlers {
	return &Handlers{readiness: r, events: events, now: time.Now}
}

func principal(c *gin.Context) (middleware.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		middleware.Reject(c, http.StatusUnauthorized, middleware.CodeInvalidContext, "Authentication context is incomplete")
	}
	return p, ok
}

// @Summary      Audit readiness
// @Description  Returns the readiness score, deficiency counts per category and severity, the estimated hours to clear, and the deficiency items sorted by the requested mode.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        category    query  string  false  "evidence, controls, attestations, incidents or access"
// @Param        time_range  query  string  false  "7d, 30d, 90d or all (default all)"
// @Param        severity    query  string  false  "critical, material or info"
// @Param        status      query  string  false  "open, in_progress, waived or resolved"
// @Param        sort        query  string  false  "severity (default), oldest or risk"
// @Success      200  {object}  map[string]interface{}  "ok: true, data: {summary, items}"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/audit/readiness [get]
// GetReadiness computes audit readiness for the caller's organization
// GET /api/audit/readiness
func (h *Handlers) GetReadiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}

		res, err := h.readiness.Compute(c.Request.Context(), p.OrganizationID, readiness.Filters{
			Category:  c.Query("category"),
			TimeRange: c.Query("time_range"),
			Severity:  c.Query("severity"),
			Status:    c.Query("status"),
			Sort:      c.Query("sort"),
		})
		if errors.Is(err, readiness.ErrInvalidFilter) {
			middleware.Reject(c, http.StatusBadRequest, "READINESS_INVALID_FILTER", err.Error())
			return
		}
		if err != nil {
			slog.Error("failed to compute readiness", "org_id", p.OrganizationID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "READINESS_UNAVAILABLE", "Failed to compute readiness")
			return
		}

		c.JSON(http.StatusOK, gin.H{"ok": true, "data": res})
	}
}

// @Summary      List ledger events
// @Description  Returns one page of ledger events for the caller's organization, newest first.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        time_range   query  string  false  "7d, 30d, 90d or all"
// @Param        job_id       query  string  false  "Job ID"
// @Param        site_id      query  string  false  "Site ID"
// @Param        category     query  string  false  "governance, operations, access, or an event name fragment"
// @Param        actor_id     query  string  false  "Actor user ID"
// @Param        severity     query  string  false  "info, material or critical"
// @Param        outcome      query  string  false  "allowed or blocked"
// @Param        event_name   query  string  false  "Exact event name"
// @Param        target_type  query  string  false  "Target type"
// @Param        target_id    query  string  false  "Target ID"
// @Param        page         query  int     false  "Page number (default 1)"
// @Param        per_page     query  int     false  "Items per page, max 200 (default 50)"
// @Success      200  {object}  map[string]interface{}  "ok: true, data: []models.AuditEvent, pagination: {page, per_page, total}"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      403  {object}  map[string]interface{}  "Scope required"
// @Router       /api/audit/events [get]
// ListEvents lists ledger events
// GET /api/audit/events
func (h *Handlers) ListEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}

		f, err := export.Filters{
			TimeRange: c.Query("time_range"),
			JobID:     c.Query("job_id"),
			SiteID:    c.Query("site_id"),
			Category:  c.Query("category"),
			ActorID:   c.Query("actor_id"),
			Severity:  c.Query("severity"),
			Outcome:   c.Query("outcome"),
		}.Normalize()
		if err != nil {
			middleware.Reject(c, http.StatusBadRequest, "AUDIT_INVALID_FILTER", err.Error())
			return
		}
		ef := f.EventFilters(p.OrganizationID, h.now())

		if name := strings.TrimSpace(c.Query("event_name")); name != "" {
			ef.EventName = &name
		}
		if tt := strings.TrimSpace(c.Query("target_type")); tt != "" {
			if _, err := ledger.ParseTargetType(tt); err != nil {
				middleware.Reject(c, http.StatusBadRequest, "AUDIT_INVALID_FILTER", err.Error())
				return
			}
			ef.TargetType = &tt
		}
		if id := strings.TrimSpace(c.Query("target_id")); id != "" {
			ef.TargetID = &id
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > maxPerPage {
			perPage = defaultPerPage
		}

		events, total, err := h.events.List(c.Request.Context(), ef, perPage, (page-1)*perPage)
		if err != nil {
			slog.Error("failed to list audit events", "org_id", p.OrganizationID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "AUDIT_UNAVAILABLE", "Failed to list audit events")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":   true,
			"data": events,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get a ledger event
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Event ID"
// @Success      200  {object}  map[string]interface{}  "ok: true, data: models.AuditEvent"
// @Failure      404  {object}  map[string]interface{}  "Event not found"
// @Router       /api/audit/events/{id} [get]
// GetEvent returns one ledger event
// GET /api/audit/events/:id
func (h *Handlers) GetEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		ev, err := h.events.GetByID(c.Request.Context(), p.OrganizationID, c.Param("id"))
		if err != nil {
			slog.Error("failed to load audit event", "org_id", p.OrganizationID, "error", err)
			middleware.Reject(c, http.StatusInternalServerError, "AUDIT_UNAVAILABLE", "Failed to load audit event")
			return
		}
		if ev == nil {
			middleware.Reject(c, http.StatusNotFound, "AUDIT_EVENT_NOT_FOUND", "Event not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "data": ev})
	}
}
