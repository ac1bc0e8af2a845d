// Package models - organization.go defines tenants and their membership rows.
package models

import "time"

// Organization is a tenant; every ledger and export row is partitioned by it
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// PendingInvite is an invitation granting a role on acceptance
type PendingInvite struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	InvitedBy      *string   `json:"invited_by"`
	CreatedAt      time.Time `json:"created_at"`
}
