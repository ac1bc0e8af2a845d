// api_key_repository.go implements APIKeyRepository, providing the prefix
// lookup used by the authentication middleware.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riskmate/riskmate/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey stores a new key hash
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	k.ID = uuid.New().String()
	k.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, organization_id, user_id, name, key_hash, key_prefix, role, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		k.ID, k.OrganizationID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.Role, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeysByPrefix returns candidate keys for bcrypt comparison
func (r *APIKeyRepository) GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	query := `
		SELECT id, organization_id, user_id, name, key_hash, key_prefix, role, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE key_prefix = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k := &models.APIKey{}
		err := rows.Scan(
			&k.ID,
			&k.OrganizationID,
			&k.UserID,
			&k.Name,
			&k.KeyHash,
			&k.KeyPrefix,
			&k.Role,
			&k.ExpiresAt,
			&k.LastUsedAt,
			&k.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateLastUsed stamps the key's last use
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now().UTC(), keyID)
	return err
}

// FindExpiringKeys returns keys expiring within the next warningDays days that
// have not yet been flagged. Already-expired keys are excluded.
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	query := `
		SELECT id, organization_id, user_id, name, key_hash, key_prefix, role, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= NOW() + ($1 * INTERVAL '1 day')
		  AND expiry_notified_at IS NULL
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, warningDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k := &models.APIKey{}
		if err := rows.Scan(
			&k.ID, &k.OrganizationID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.Role, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkExpiryNotified records that the expiry warning for a key was emitted
func (r *APIKeyRepository) MarkExpiryNotified(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET expiry_notified_at = $1 WHERE id = $2`, time.Now().UTC(), keyID)
	if err != nil {
		return fmt.Errorf("failed to mark api key expiry notified: %w", err)
	}
	return nil
}
