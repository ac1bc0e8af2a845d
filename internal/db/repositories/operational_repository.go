// operational_repository.go implements OperationalRepository on sqlx. It reads
// the operational tables (jobs, evidence, controls, attestations, incidents,
// access reviews) for the readiness aggregator and the proof-pack renderers,
// and carries the few job writes the thin business routes need.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/riskmate/riskmate/internal/db/models"
)

// Readiness categories, in discovery order
const (
	CategoryEvidence     = "evidence"
	CategoryControls     = "controls"
	CategoryAttestations = "attestations"
	CategoryIncidents    = "incidents"
	CategoryAccess       = "access"
)

// DeficiencyCategories lists every readiness category in discovery order
var DeficiencyCategories = []string{
	CategoryEvidence, CategoryControls, CategoryAttestations, CategoryIncidents, CategoryAccess,
}

// OperationalRepository reads operational state
type OperationalRepository struct {
	db *sqlx.DB
}

// NewOperationalRepository creates a new OperationalRepository
func NewOperationalRepository(db *sqlx.DB) *OperationalRepository {
	return &OperationalRepository{db: db}
}

// DeficiencyQuery selects open deficiencies for one organization.
// Empty Categories means all categories. Since bounds creation time.
type DeficiencyQuery struct {
	OrganizationID string
	Categories     []string
	Since          *time.Time
	Now            time.Time
}

func (q DeficiencyQuery) wants(category string) bool {
	if len(q.Categories) == 0 {
		return true
	}
	for _, c := range q.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// deficiencySQL holds one SELECT per source, each projecting onto
// models.DeficiencyRow. $1 is the organization and $2, when present, is the
// evaluation time. The window predicate is appended on sinceColumn.
type deficiencySQL struct {
	category    string
	query       string
	sinceColumn string
}

var deficiencyQueries = []deficiencySQL{
	{CategoryEvidence, `
		SELECT id::text, 'evidence' AS category, 'missing_evidence' AS kind, name AS title,
		       CASE WHEN status IN ('in_progress', 'waived') THEN status ELSE 'open' END AS status,
		       severity, job_id::text AS job_id, site_id, due_at, risk_score, metadata, created_at
		FROM evidence_requirements
		WHERE organization_id = $1 AND fulfilled = FALSE AND status <> 'resolved'`, "created_at"},
	{CategoryControls, `
		SELECT id::text, 'controls' AS category,
		       CASE WHEN status IN ('failing', 'failed') THEN 'failing_control' ELSE 'overdue_control' END AS kind,
		       name AS title,
		       CASE WHEN status IN ('in_progress', 'waived') THEN status ELSE 'open' END AS status,
		       severity, job_id::text AS job_id, site_id, due_at, risk_score, metadata, created_at
		FROM controls
		WHERE organization_id = $1
		  AND (status IN ('failing', 'failed') OR (verified_at IS NULL AND due_at < $2))`, "created_at"},
	{CategoryAttestations, `
		SELECT id::text, 'attestations' AS category, 'unsigned_attestation' AS kind, title,
		       CASE WHEN status IN ('in_progress', 'waived') THEN status ELSE 'open' END AS status,
		       'material' AS severity, job_id::text AS job_id, site_id,
		       requested_at AS due_at, NULL::double precision AS risk_score, metadata, created_at
		FROM attestations
		WHERE organization_id = $1 AND signed_at IS NULL AND status <> 'resolved'`, "created_at"},
	{CategoryIncidents, `
		SELECT id::text, 'incidents' AS category, 'open_corrective_action' AS kind, title,
		       CASE WHEN corrective_action_status = 'in_progress' THEN 'in_progress' ELSE 'open' END AS status,
		       severity, job_id::text AS job_id, site_id,
		       NULL::timestamptz AS due_at, risk_score, metadata, created_at
		FROM incidents
		WHERE organization_id = $1 AND corrective_action_status <> 'closed'`, "created_at"},
	{CategoryIncidents, `
		SELECT f.id::text, 'incidents' AS category, 'flagged_job' AS kind, f.summary AS title,
		       'open' AS status, 'material' AS severity, f.job_id, f.site_id,
		       NULL::timestamptz AS due_at, NULL::double precision AS risk_score, f.metadata, f.created_at
		FROM audit_events f
		WHERE f.organization_id = $1 AND f.event_name = 'job.flagged' AND f.job_id IS NOT NULL
		  AND f.created_at <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM audit_events l
		      WHERE l.organization_id = f.organization_id AND l.job_id = f.job_id
		        AND l.event_name IN ('job.flagged', 'job.unflagged') AND l.created_at > f.created_at)`, "f.created_at"},
	{CategoryAccess, `
		SELECT id::text, 'access' AS category, 'overdue_access_review' AS kind, subject AS title,
		       CASE WHEN status = 'in_progress' THEN 'in_progress' ELSE 'open' END AS status,
		       'material' AS severity, NULL::text AS job_id, site_id, due_at,
		       NULL::double precision AS risk_score, metadata, created_at
		FROM access_reviews
		WHERE organization_id = $1 AND status <> 'completed' AND due_at < $2`, "created_at"},
	{CategoryAccess, `
		SELECT id::text, 'access' AS category, 'role_violation' AS kind, summary AS title,
		       'open' AS status, severity, job_id, site_id,
		       NULL::timestamptz AS due_at, NULL::double precision AS risk_score, metadata, created_at
		FROM audit_events
		WHERE organization_id = $1 AND event_name = 'auth.role_violation' AND created_at <= $2`, "created_at"},
}

// ListDeficiencies returns open deficiencies in discovery order: category
// order first, then creation order within each source.
func (r *OperationalRepository) ListDeficiencies(ctx context.Context, q DeficiencyQuery) ([]models.DeficiencyRow, error) {
	out := make([]models.DeficiencyRow, 0)
	for _, category := range DeficiencyCategories {
		if !q.wants(category) {
			continue
		}
		for _, d := range deficiencyQueries {
			if d.category != category {
				continue
			}
			rows, err := r.selectDeficiencies(ctx, d, q)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}

func (r *OperationalRepository) selectDeficiencies(ctx context.Context, d deficiencySQL, q DeficiencyQuery) ([]models.DeficiencyRow, error) {
	var b strings.Builder
	b.WriteString(d.query)
	args := []interface{}{q.OrganizationID}
	if strings.Contains(d.query, "$2") {
		args = append(args, q.Now)
	}
	if q.Since != nil {
		args = append(args, *q.Since)
		fmt.Fprintf(&b, " AND %s >= $%d", d.sinceColumn, len(args))
	}
	idColumn := "id"
	if strings.HasPrefix(d.sinceColumn, "f.") {
		idColumn = "f.id"
	}
	fmt.Fprintf(&b, " ORDER BY %s ASC, %s ASC", d.sinceColumn, idColumn)

	rows := make([]models.DeficiencyRow, 0)
	if err := r.db.SelectContext(ctx, &rows, b.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to list %s deficiencies: %w", d.category, err)
	}
	return rows, nil
}

// RecordScope narrows operational reads for a proof pack
type RecordScope struct {
	OrganizationID string
	JobID          *string
	SiteID         *string
}

func (s RecordScope) where() (string, []interface{}) {
	clauses := []string{"organization_id = $1"}
	args := []interface{}{s.OrganizationID}
	if s.JobID != nil {
		args = append(args, *s.JobID)
		clauses = append(clauses, fmt.Sprintf("job_id::text = $%d", len(args)))
	}
	if s.SiteID != nil {
		args = append(args, *s.SiteID)
		clauses = append(clauses, fmt.Sprintf("site_id = $%d", len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListEvidence returns evidence requirements in scope, oldest first
func (r *OperationalRepository) ListEvidence(ctx context.Context, s RecordScope) ([]models.EvidenceRequirement, error) {
	where, args := s.where()
	out := make([]models.EvidenceRequirement, 0)
	err := r.db.SelectContext(ctx, &out, `
		SELECT id::text, job_id::text AS job_id, site_id, name, fulfilled, status, due_at, created_at
		FROM evidence_requirements`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	return out, nil
}

// ListControls returns controls in scope, oldest first
func (r *OperationalRepository) ListControls(ctx context.Context, s RecordScope) ([]models.Control, error) {
	where, args := s.where()
	out := make([]models.Control, 0)
	err := r.db.SelectContext(ctx, &out, `
		SELECT id::text, job_id::text AS job_id, site_id, name, status, severity, due_at, verified_at, created_at
		FROM controls`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	return out, nil
}

// ListAttestations returns attestations in scope, oldest first
func (r *OperationalRepository) ListAttestations(ctx context.Context, s RecordScope) ([]models.Attestation, error) {
	where, args := s.where()
	out := make([]models.Attestation, 0)
	err := r.db.SelectContext(ctx, &out, `
		SELECT id::text, job_id::text AS job_id, site_id, title, signer_email, status, requested_at, signed_at, created_at
		FROM attestations`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	return out, nil
}

// CreateJob inserts a job and fills in its ID and timestamps
func (r *OperationalRepository) CreateJob(ctx context.Context, job *models.Job) error {
	job.ID = uuid.New().String()
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = "open"
	}
	if len(job.Metadata) == 0 {
		job.Metadata = []byte("{}")
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO jobs (id, organization_id, site_id, title, status, risk_score, flagged, metadata, created_at, updated_at)
		VALUES (:id, :organization_id, :site_id, :title, :status, :risk_score, :flagged, :metadata, :created_at, :updated_at)`, job)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job within an organization; nil, nil when absent
func (r *OperationalRepository) GetJob(ctx context.Context, orgID, jobID string) (*models.Job, error) {
	job := &models.Job{}
	err := r.db.GetContext(ctx, job, `
		SELECT id::text, organization_id::text, site_id, title, status, risk_score, flagged, metadata, created_at, updated_at
		FROM jobs WHERE organization_id = $1 AND id::text = $2`, orgID, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// SetJobFlag sets the flagged bit on a job. Returns false when no job in the
// organization matched.
func (r *OperationalRepository) SetJobFlag(ctx context.Context, orgID, jobID string, flagged bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET flagged = $1, updated_at = NOW() WHERE organization_id = $2 AND id::text = $3`,
		flagged, orgID, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to flag job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
