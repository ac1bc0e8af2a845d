// Package middleware provides the Gin middleware of the ledger service: the
// access policy gate (authentication, read-only enforcement, minimum roles and
// audit scope), rate limiting, request ids, metrics and security headers.
//
// Middleware ordering matters and is enforced in internal/api/router.go:
//
//	RequestID → Metrics → Logger → Security → RateLimit → Auth → RequireAuthContext → ReadOnlyGuard/RequireRole → Handler
//
// Request ids come first so every rejection can carry one. Rate limiting runs
// before auth to block brute-force attempts before any DB work. The role
// checks read the principal that Auth stores on the gin.Context.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riskmate/riskmate/internal/auth"
	"github.com/riskmate/riskmate/internal/config"
	"github.com/riskmate/riskmate/internal/db/models"
	"github.com/riskmate/riskmate/internal/safego"
)

// APIKeyStore looks up API key candidates by their clear-text prefix
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// MembershipStore resolves a user's role in an organization
type MembershipStore interface {
	GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error)
}

// AuthMiddleware verifies the bearer credential (session JWT or organization
// API key) and stores the caller's user, organization and role. It never
// reads the organization from client input.
func AuthMiddleware(cfg *config.AuthConfig, keys APIKeyStore, members MembershipStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			Reject(c, http.StatusUnauthorized, CodeAuthRequired, "Authentication required")
			return
		}

		if cfg != nil && cfg.APIKeys.Enabled && keys != nil && auth.IsAPIKey(token, cfg.APIKeys.Prefix) {
			authenticateKey(c, token, keys, members)
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			Reject(c, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid or expired credentials")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyOrganizationID, claims.OrganizationID)
		c.Set(ContextKeyRole, auth.ParseRole(claims.Role))
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyAuthMethod, "jwt")
		c.Next()
	}
}

// authenticateKey narrows candidates by the stored prefix, then runs the
// bcrypt comparison on those rows only. A key owned by a user takes that
// user's current membership role; a service key uses its own role.
func authenticateKey(c *gin.Context, token string, keys APIKeyStore, members MembershipStore) {
	ctx := c.Request.Context()

	candidates, err := keys.GetAPIKeysByPrefix(ctx, auth.LookupPrefix(token))
	if err != nil {
		Reject(c, http.StatusInternalServerError, CodeAuthUnavailable, "Authentication failed")
		return
	}

	var key *models.APIKey
	for _, k := range candidates {
		if auth.ValidateAPIKey(token, k.KeyHash) {
			key = k
			break
		}
	}
	if key == nil {
		Reject(c, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid or expired credentials")
		return
	}
	if key.IsExpired(time.Now()) {
		Reject(c, http.StatusUnauthorized, CodeInvalidCredentials, "API key expired")
		return
	}

	role := auth.ParseRole(key.Role)
	userID := key.ID
	if key.UserID != nil {
		if members == nil {
			Reject(c, http.StatusInternalServerError, CodeAuthUnavailable, "Authentication failed")
			return
		}
		member, err := members.GetMember(ctx, key.OrganizationID, *key.UserID)
		if err != nil {
			Reject(c, http.StatusInternalServerError, CodeAuthUnavailable, "Authentication failed")
			return
		}
		if member == nil {
			Reject(c, http.StatusUnauthorized, CodeInvalidCredentials, "API key owner is no longer a member")
			return
		}
		role = auth.ParseRole(member.Role)
		userID = *key.UserID
	}

	// last-used tracking is best effort
	keyID := key.ID
	safego.GoNamed("auth.api_key_last_used", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = keys.UpdateLastUsed(ctx, keyID)
	})

	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyOrganizationID, key.OrganizationID)
	c.Set(ContextKeyRole, role)
	c.Set(ContextKeyAuthMethod, "api_key")
	c.Set(ContextKeyAPIKeyID, key.ID)
	c.Next()
}

// RequireAuthContext fails closed when the principal is incomplete
func RequireAuthContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			Reject(c, http.StatusUnauthorized, CodeInvalidContext, "Authentication context is incomplete")
			return
		}
		c.Next()
	}
}
