// Package models - export_job.go defines the proof-pack export job row.
package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ExportJob tracks one proof-pack build from request to terminal state
type ExportJob struct {
	ID             string         `db:"id"`
	OrganizationID string         `db:"organization_id"`
	RequestedBy    *string        `db:"requested_by"`
	IdempotencyKey string         `db:"idempotency_key"`
	ExportType     string         `db:"export_type"`
	Filters        types.JSONText `db:"filters"`
	State          string         `db:"state"`
	Progress       int            `db:"progress"`
	StoragePath    *string        `db:"storage_path"`
	StorageBackend *string        `db:"storage_backend"`
	Manifest       types.JSONText `db:"manifest"`
	ManifestHash   *string        `db:"manifest_hash"`
	LedgerEventID  *string        `db:"ledger_event_id"`
	ErrorMessage   *string        `db:"error_message"`
	FailureReason  *string        `db:"failure_reason"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    *time.Time     `db:"completed_at"`
}

// HasManifest reports whether a manifest body has been stored
func (j *ExportJob) HasManifest() bool {
	s := string(j.Manifest)
	return s != "" && s != "{}" && s != "null"
}
