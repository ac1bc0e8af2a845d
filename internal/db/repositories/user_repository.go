// user_repository.go implements UserRepository, providing user reads and the
// actor profile lookup the ledger snapshots onto each event.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riskmate/riskmate/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUserByID retrieves a user by ID; nil, nil when absent
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, email, name, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetMemberProfile returns the user's current email, name and role within
// orgID. Role is empty when the user is not a member of that organization.
// Returns nil, nil when the user does not exist.
func (r *UserRepository) GetMemberProfile(ctx context.Context, orgID, userID string) (*models.MemberProfile, error) {
	query := `
		SELECT u.id, u.email, u.name, m.role
		FROM users u
		LEFT JOIN organization_members m ON m.user_id = u.id AND m.organization_id = $1
		WHERE u.id = $2
	`

	p := &models.MemberProfile{}
	var role sql.NullString
	err := r.db.QueryRowContext(ctx, query, orgID, userID).Scan(&p.UserID, &p.Email, &p.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member profile: %w", err)
	}
	p.Role = role.String
	return p, nil
}
