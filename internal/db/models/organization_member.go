// Package models - organization_member.go defines user-to-organization membership.
package models

import "time"

// OrganizationMember binds a user to an organization with one role
type OrganizationMember struct {
	OrganizationID string
	UserID         string
	Role           string
	CreatedAt      time.Time
}

// MemberProfile is the actor snapshot the ledger copies onto each event
type MemberProfile struct {
	UserID string
	Email  string
	Name   string
	Role   string
}
