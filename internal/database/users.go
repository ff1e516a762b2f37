package database

import (
	"database/sql"
	"fmt"
)

// UserStore handles user rows. Authentication internals live elsewhere;
// this store only serves ownership lookups and admin seeding.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// GetByID retrieves a user by id. Returns nil if not found.
func (s *UserStore) GetByID(id int64) (*User, error) {
	var u User
	err := s.db.QueryRow(`
		SELECT id, email, name, password_hash, role, COALESCE(account_name, ''),
		       is_active, is_email_verified, failed_login_attempts, locked_until,
		       last_login_at, COALESCE(last_login_ip, ''), created_at, updated_at
		FROM users WHERE id = ?`,
		id,
	).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.AccountName,
		&u.IsActive, &u.IsEmailVerified, &u.FailedLoginAttempts, &u.LockedUntil,
		&u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
