// Package middleware (rbac.go) implements the role checks of the access policy gate.
//
// Two independent axes apply. ReadOnlyGuard blocks mutating verbs for the
// read-only roles (executive, auditor) whatever their rank; RequireRole checks
// the numeric hierarchy. Roles are read from the request context on every
// request, so a membership change applies on the caller's next request.
// Both record the rejected attempt as auth.role_violation before responding.

package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/export"
	"github.com/riskmate/riskmate/internal/ledger"
	"github.com/riskmate/riskmate/internal/telemetry"
)

// ViolationRecorder writes rejected attempts to the ledger without blocking
type ViolationRecorder interface {
	RecordAsync(e ledger.Entry)
}

// maxScopeBody caps how much of a request body RequireAuditScope inspects
const maxScopeBody = 64 << 10

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// RecordViolation counts one blocked attempt and records it as auth.role_violation.
// Handlers that make their own policy decisions call it too.
func RecordViolation(c *gin.Context, rec ViolationRecorder, p Principal, reason string, extra map[string]interface{}) {
	telemetry.LedgerRoleViolationsTotal.WithLabelValues(string(p.Role)).Inc()
	if rec == nil {
		return
	}
	meta := map[string]interface{}{
		"attempted_action": fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
		"role":             string(p.Role),
		"reason":           reason,
	}
	for k, v := range extra {
		meta[k] = v
	}
	rec.RecordAsync(ledger.Entry{
		OrganizationID: p.OrganizationID,
		ActorID:        p.UserID,
		EventName:      "auth.role_violation",
		TargetType:     ledger.TargetSystem,
		Metadata:       meta,
		Client:         "api",
		Context:        LedgerContext(c),
	})
}

// ReadOnlyGuard rejects POST, PUT, PATCH and DELETE from read-only roles
// with 403 AUTH_ROLE_READ_ONLY. Safe methods pass through.
func ReadOnlyGuard(rec ViolationRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}
		p, ok := GetPrincipal(c)
		if !ok {
			Reject(c, http.StatusUnauthorized, CodeInvalidContext, "Authentication context is incomplete")
			return
		}
		if auth.IsReadOnly(p.Role) {
			RecordViolation(c, rec, p, "read_only_role", nil)
			Reject(c, http.StatusForbidden, CodeRoleReadOnly, auth.ReadOnlyMessage(p.Role))
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers ranked below min with 403 AUTH_ROLE_FORBIDDEN
func RequireRole(min auth.Role, rec ViolationRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			Reject(c, http.StatusUnauthorized, CodeInvalidContext, "Authentication context is incomplete")
			return
		}
		if !auth.HasRoleAtLeast(p.Role, min) {
			RecordViolation(c, rec, p, "insufficient_role", map[string]interface{}{"required_role": string(min)})
			Reject(c, http.StatusForbidden, CodeRoleForbidden,
				fmt.Sprintf("This action requires the %s role or higher", min))
			return
		}
		c.Next()
	}
}

// RequireAuditScope makes roles that must scope their audit reads supply a
// job, time range or category. GET requests are read from the query string;
// other methods from the "filters" object of the JSON body, which is restored
// for the handler.
func RequireAuditScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			Reject(c, http.StatusUnauthorized, CodeInvalidContext, "Authentication context is incomplete")
			return
		}
		if !auth.RequiresScope(p.Role) {
			c.Next()
			return
		}

		f, err := requestFilters(c)
		if err != nil || !f.HasScope() {
			Reject(c, http.StatusForbidden, CodeScopeRequired,
				"Provide a job, time range or category filter to query audit data")
			return
		}
		c.Next()
	}
}

func requestFilters(c *gin.Context) (export.Filters, error) {
	if c.Request.Method == http.MethodGet {
		return export.Filters{
			TimeRange: c.Query("time_range"),
			JobID:     c.Query("job_id"),
			Category:  c.Query("category"),
		}, nil
	}

	var body struct {
		Filters export.Filters `json:"filters"`
	}
	if c.Request.Body == nil {
		return body.Filters, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScopeBody))
	if err != nil {
		return body.Filters, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return body.Filters, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body.Filters, err
	}
	return body.Filters, nil
}
