// export_job_repository.go implements ExportJobRepository on sqlx. State changes
// are guarded in SQL by the expected current state so two workers can never
// move the same job backwards or past a terminal state.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/riskmate/riskmate/internal/db/models"
)

// ErrStaleState is returned when a guarded update finds the job in a different state
var ErrStaleState = errors.New("export job is not in the expected state")

// ExportJobRepository handles export_jobs database operations
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository creates a new ExportJobRepository
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

const exportJobColumns = `id, organization_id, requested_by, idempotency_key, export_type, filters,
	state, progress, storage_path, storage_backend, manifest, manifest_hash, ledger_event_id,
	error_message, failure_reason, created_at, updated_at, completed_at`

// CreateOrGet inserts job unless the organization already has a job with the
// same idempotency key, in which case the existing job is returned and created
// is false.
func (r *ExportJobRepository) CreateOrGet(ctx context.Context, job *models.ExportJob) (existing *models.ExportJob, created bool, err error) {
	query := `
		INSERT INTO export_jobs (id, organization_id, requested_by, idempotency_key, export_type, filters, state, progress, created_at, updated_at)
		VALUES (:id, :organization_id, :requested_by, :idempotency_key, :export_type, :filters, :state, :progress, :created_at, :updated_at)
		ON CONFLICT (organization_id, idempotency_key) DO NOTHING
	`

	res, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create export job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return job, true, nil
	}

	existing, err = r.GetByIdempotencyKey(ctx, job.OrganizationID, job.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("export job conflict for key %q but no row found", job.IdempotencyKey)
	}
	return existing, false, nil
}

// GetByID retrieves a job within an organization; nil, nil when absent or
// when id is not a UUID
func (r *ExportJobRepository) GetByID(ctx context.Context, orgID, id string) (*models.ExportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE organization_id = $1 AND id = $2`, orgID, id)
}

// GetByIdempotencyKey retrieves a job by its creation key; nil, nil when absent
func (r *ExportJobRepository) GetByIdempotencyKey(ctx context.Context, orgID, key string) (*models.ExportJob, error) {
	return r.getOne(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE organization_id = $1 AND idempotency_key = $2`, orgID, key)
}

func (r *ExportJobRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.ExportJob, error) {
	job := &models.ExportJob{}
	if err := r.db.GetContext(ctx, job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return job, nil
}

// ClaimQueued locks up to limit queued jobs with SKIP LOCKED, moves them to
// claimedState and returns them. Jobs locked by another worker are skipped.
func (r *ExportJobRepository) ClaimQueued(ctx context.Context, limit int, claimedState string, progress int) ([]*models.ExportJob, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	jobs := make([]*models.ExportJob, 0)
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs
		WHERE state = 'queued'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`
	if err := tx.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to select queued export jobs: %w", err)
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE export_jobs SET state = $1, progress = $2, updated_at = NOW() WHERE id = ANY($3)`,
		claimedState, progress, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to claim export jobs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	for _, j := range jobs {
		j.State = claimedState
		j.Progress = progress
	}
	return jobs, nil
}

// Transition moves a job from one non-terminal state to the next
func (r *ExportJobRepository) Transition(ctx context.Context, id, from, to string, progress int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET state = $1, progress = $2, updated_at = NOW() WHERE id = $3 AND state = $4`,
		to, progress, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition export job: %w", err)
	}
	return expectOneRow(res)
}

// Completion carries the artifacts recorded when a job becomes ready
type Completion struct {
	StoragePath    string
	StorageBackend string
	Manifest       []byte
	ManifestHash   string
	LedgerEventID  string
}

// Complete records the artifact and manifest and moves the job to ready
func (r *ExportJobRepository) Complete(ctx context.Context, id, from string, c Completion) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET state = 'ready', progress = 100, storage_path = $1, storage_backend = $2,
		    manifest = $3, manifest_hash = $4, ledger_event_id = $5,
		    updated_at = NOW(), completed_at = NOW()
		WHERE id = $6 AND state = $7`,
		c.StoragePath, c.StorageBackend, string(c.Manifest), c.ManifestHash, c.LedgerEventID, id, from)
	if err != nil {
		return fmt.Errorf("failed to complete export job: %w", err)
	}
	return expectOneRow(res)
}

// Fail moves a non-terminal job to failed with an operator message and a stable reason code
func (r *ExportJobRepository) Fail(ctx context.Context, id, message, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET state = 'failed', error_message = $1, failure_reason = $2,
		    updated_at = NOW(), completed_at = NOW()
		WHERE id = $3 AND state NOT IN ('ready', 'failed')`,
		message, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark export job failed: %w", err)
	}
	return expectOneRow(res)
}

// FailStale fails every job that has sat in an in-flight state since before
// cutoff, which happens when a worker dies mid-build. The swept jobs are
// returned with their state before the sweep.
func (r *ExportJobRepository) FailStale(ctx context.Context, cutoff time.Time, message, reason string) ([]*models.ExportJob, error) {
	jobs := make([]*models.ExportJob, 0)
	query := `
		UPDATE export_jobs AS j
		SET state = 'failed', error_message = $1, failure_reason = $2,
		    updated_at = NOW(), completed_at = NOW()
		FROM (
			SELECT id, state FROM export_jobs
			WHERE state IN ('preparing', 'generating', 'uploading') AND updated_at < $3
			FOR UPDATE SKIP LOCKED
		) AS stale
		WHERE j.id = stale.id
		RETURNING j.id, j.organization_id, j.requested_by, stale.state, j.created_at, j.updated_at`
	if err := r.db.SelectContext(ctx, &jobs, query, message, reason, cutoff); err != nil {
		return nil, fmt.Errorf("failed to sweep stale export jobs: %w", err)
	}
	return jobs, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}
