// audit_event_repository.go implements AuditEventRepository, the only code path
// that touches the audit_events table. It exposes inserts and reads; there is
// deliberately no update or delete method.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riskmate/riskmate/internal/db/models"
)

// AuditEventRepository handles ledger database operations
type AuditEventRepository struct {
	db *sql.DB
}

// NewAuditEventRepository creates a new AuditEventRepository
func NewAuditEventRepository(db *sql.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// EventFilters narrows ledger reads. OrganizationID is mandatory; every other
// field is optional and nil means unconstrained.
type EventFilters struct {
	OrganizationID    string
	EventName         *string
	EventNameContains *string
	Category          *string
	Severity          *string
	Outcome           *string
	ActorID           *string
	JobID             *string
	SiteID            *string
	TargetType        *string
	TargetID          *string
	Since             *time.Time
	Until             *time.Time
}

const auditEventColumns = `id, organization_id, actor_id, actor_email, actor_role, actor_name,
	event_name, category, action, outcome, severity, target_type, target_id,
	resource_type, resource_id, job_id, site_id, summary, policy_statement, metadata, created_at`

// Insert appends one event to the ledger
func (r *AuditEventRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (` + auditEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = r.db.ExecContext(ctx, query,
		e.ID,
		e.OrganizationID,
		e.ActorID,
		e.ActorEmail,
		e.ActorRole,
		e.ActorName,
		e.EventName,
		e.Category,
		e.Action,
		e.Outcome,
		e.Severity,
		e.TargetType,
		e.TargetID,
		e.ResourceType,
		e.ResourceID,
		e.JobID,
		e.SiteID,
		e.Summary,
		e.PolicyStatement,
		metadataJSON,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern wraps s for a LIKE match with its wildcards taken literally
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// buildWhere renders the filter set as a WHERE clause and its arguments
func (f EventFilters) buildWhere() (string, []interface{}) {
	clauses := []string{"organization_id = $1"}
	args := []interface{}{f.OrganizationID}

	add := func(expr string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if f.EventName != nil {
		add("event_name = $%d", *f.EventName)
	}
	if f.EventNameContains != nil {
		add(`event_name LIKE $%d ESCAPE '\'`, containsPattern(*f.EventNameContains))
	}
	if f.Category != nil {
		add("category = $%d", *f.Category)
	}
	if f.Severity != nil {
		add("severity = $%d", *f.Severity)
	}
	if f.Outcome != nil {
		add("outcome = $%d", *f.Outcome)
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.JobID != nil {
		add("job_id = $%d", *f.JobID)
	}
	if f.SiteID != nil {
		add("site_id = $%d", *f.SiteID)
	}
	if f.TargetType != nil {
		add("target_type = $%d", *f.TargetType)
	}
	if f.TargetID != nil {
		add("target_id = $%d", *f.TargetID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of events, newest first, and the total match count
func (r *AuditEventRepository) List(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	where, args := filters.buildWhere()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := `SELECT ` + auditEventColumns + ` FROM audit_events` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	events, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListAll returns every matching event in insertion order. Export builds use it
// so the rendered ledger reads oldest to newest.
func (r *AuditEventRepository) ListAll(ctx context.Context, filters EventFilters) ([]*models.AuditEvent, error) {
	where, args := filters.buildWhere()
	query := `SELECT ` + auditEventColumns + ` FROM audit_events` + where + ` ORDER BY created_at ASC, seq ASC`
	return r.query(ctx, query, args...)
}

// GetByID retrieves one event within an organization. Returns nil, nil when
// the event does not exist, belongs to another organization, or eventID is
// not a UUID.
func (r *AuditEventRepository) GetByID(ctx context.Context, orgID, eventID string) (*models.AuditEvent, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, nil
	}
	query := `SELECT ` + auditEventColumns + ` FROM audit_events WHERE organization_id = $1 AND id = $2`

	events, err := r.query(ctx, query, orgID, eventID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

func (r *AuditEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		e := &models.AuditEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.OrganizationID,
			&e.ActorID,
			&e.ActorEmail,
			&e.ActorRole,
			&e.ActorName,
			&e.EventName,
			&e.Category,
			&e.Action,
			&e.Outcome,
			&e.Severity,
			&e.TargetType,
			&e.TargetID,
			&e.ResourceType,
			&e.ResourceID,
			&e.JobID,
			&e.SiteID,
			&e.Summary,
			&e.PolicyStatement,
			&metadataJSON,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}
