// Package models - operational.go defines the operational records the
// readiness aggregator and the proof-pack renderers read. They are owned by
// the business services; the ledger service only reads them.
package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Job is a unit of field work
type Job struct {
	ID             string         `db:"id" json:"id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	SiteID         *string        `db:"site_id" json:"site_id"`
	Title          string         `db:"title" json:"title"`
	Status         string         `db:"status" json:"status"`
	RiskScore      *float64       `db:"risk_score" json:"risk_score"`
	Flagged        bool           `db:"flagged" json:"flagged"`
	Metadata       types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// DeficiencyRow is the common projection every readiness query selects into
type DeficiencyRow struct {
	ID        string         `db:"id"`
	Category  string         `db:"category"`
	Kind      string         `db:"kind"`
	Title     string         `db:"title"`
	Status    string         `db:"status"`
	Severity  string         `db:"severity"`
	JobID     *string        `db:"job_id"`
	SiteID    *string        `db:"site_id"`
	DueAt     *time.Time     `db:"due_at"`
	RiskScore *float64       `db:"risk_score"`
	Metadata  types.JSONText `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// EvidenceRequirement is a piece of proof a job must collect
type EvidenceRequirement struct {
	ID        string     `db:"id"`
	JobID     *string    `db:"job_id"`
	SiteID    *string    `db:"site_id"`
	Name      string     `db:"name"`
	Fulfilled bool       `db:"fulfilled"`
	Status    string     `db:"status"`
	DueAt     *time.Time `db:"due_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Control is a safety or compliance control under verification
type Control struct {
	ID         string     `db:"id"`
	JobID      *string    `db:"job_id"`
	SiteID     *string    `db:"site_id"`
	Name       string     `db:"name"`
	Status     string     `db:"status"`
	Severity   string     `db:"severity"`
	DueAt      *time.Time `db:"due_at"`
	VerifiedAt *time.Time `db:"verified_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Attestation is a signed statement requested from a person
type Attestation struct {
	ID          string     `db:"id"`
	JobID       *string    `db:"job_id"`
	SiteID      *string    `db:"site_id"`
	Title       string     `db:"title"`
	SignerEmail *string    `db:"signer_email"`
	Status      string     `db:"status"`
	RequestedAt *time.Time `db:"requested_at"`
	SignedAt    *time.Time `db:"signed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}
