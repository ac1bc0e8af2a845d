// Package models - audit_event.go defines the immutable ledger row.
package models

import "time"

// AuditEvent is one append-only ledger entry. Actor fields are snapshots taken
// at write time and are never joined live.
type AuditEvent struct {
	ID              string                 `json:"id"`
	OrganizationID  string                 `json:"organization_id"`
	ActorID         *string                `json:"actor_id"`
	ActorEmail      *string                `json:"actor_email"`
	ActorRole       *string                `json:"actor_role"`
	ActorName       *string                `json:"actor_name"`
	EventName       string                 `json:"event_name"`
	Category        string                 `json:"category"`
	Action          string                 `json:"action"`
	Outcome         string                 `json:"outcome"`
	Severity        string                 `json:"severity"`
	TargetType      string                 `json:"target_type"`
	TargetID        *string                `json:"target_id"`
	ResourceType    *string                `json:"resource_type"`
	ResourceID      *string                `json:"resource_id"`
	JobID           *string                `json:"job_id"`
	SiteID          *string                `json:"site_id"`
	Summary         string                 `json:"summary"`
	PolicyStatement *string                `json:"policy_statement"`
	Metadata        map[string]interface{} `json:"metadata"`
	CreatedAt       time.Time              `json:"created_at"`
}
