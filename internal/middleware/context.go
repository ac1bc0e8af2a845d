package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/ledger"
)

// gin.Context keys populated by AuthMiddleware
const (
	ContextKeyUserID         = "user_id"
	ContextKeyOrganizationID = "organization_id"
	ContextKeyRole           = "role"
	ContextKeyEmail          = "email"
	ContextKeyAuthMethod     = "auth_method"
	ContextKeyAPIKeyID       = "api_key_id"
)

// Stable rejection codes returned by the access policy gate
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidContext     = "AUTH_INVALID_CONTEXT"
	CodeRoleReadOnly       = "AUTH_ROLE_READ_ONLY"
	CodeRoleForbidden      = "AUTH_ROLE_FORBIDDEN"
	CodeScopeRequired      = "AUTH_SCOPE_REQUIRED"
	CodeAuthUnavailable    = "AUTH_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
)

// Principal is the authenticated caller
type Principal struct {
	UserID         string
	OrganizationID string
	Role           auth.Role
	Email          string
	AuthMethod     string
}

// GetPrincipal reads the caller identity set by AuthMiddleware. ok is false
// when any of user, organization or role is missing.
func GetPrincipal(c *gin.Context) (p Principal, ok bool) {
	p.UserID = c.GetString(ContextKeyUserID)
	p.OrganizationID = c.GetString(ContextKeyOrganizationID)
	p.Email = c.GetString(ContextKeyEmail)
	p.AuthMethod = c.GetString(ContextKeyAuthMethod)
	if v, exists := c.Get(ContextKeyRole); exists {
		if r, isRole := v.(auth.Role); isRole {
			p.Role = r
		}
	}
	return p, p.UserID != "" && p.OrganizationID != "" && p.Role != ""
}

// GetRequestID returns the request identifier, or "" outside RequestIDMiddleware
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// LedgerContext copies request correlation fields for a ledger entry
func LedgerContext(c *gin.Context) ledger.RequestContext {
	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = c.Request.URL.Path
	}
	return ledger.RequestContext{
		RequestID: GetRequestID(c),
		Endpoint:  c.Request.Method + " " + endpoint,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// Reject aborts with the gate's JSON error shape
func Reject(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":         false,
		"code":       code,
		"message":    message,
		"request_id": GetRequestID(c),
	})
}
