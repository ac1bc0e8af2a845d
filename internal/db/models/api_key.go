// Package models defines the database model types for the ledger service.
// Each type corresponds to a table; types read through sqlx carry db tags.
// Models are plain data. Classification and policy belong in internal/ledger
// and internal/auth, query logic belongs in the repositories package.
package models

import "time"

// APIKey is an organization-scoped credential for integrations
type APIKey struct {
	ID             string
	OrganizationID string
	UserID         *string // nil for service keys
	Name           string
	KeyHash        string // bcrypt hash of the full key
	KeyPrefix      string // clear-text lookup prefix, e.g. "rm_Ab3dEf7"
	Role           string
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// IsExpired reports whether the key has passed its expiry
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
