package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/google/uuid"
)

const userColumns = "id, username, display_name, email, password_hash, role, status, created_at, updated_at"

// CreateUser inserts a user, assigning ID and timestamps when empty.
// Duplicate usernames or emails return types.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *types.User) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = types.RoleUser
	}
	if u.Status == "" {
		u.Status = types.UserActive
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, role, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.DisplayName, nullString(u.Email), u.PasswordHash, string(u.Role), string(u.Status), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q already exists: %w", u.Username, types.ErrConflict)
		}
		logging.StoreError("Failed to create user %s: %v", u.Username, err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	logging.StoreDebug("Created user id=%s username=%s", u.ID, u.Username)
	return u, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	return u, err
}

// GetUserByUsername returns the user with the given username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", username)
	}
	return u, err
}

// ListUsers returns users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserPassword replaces the password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id, hash string) error {
	return s.updateUser(ctx, id, "password_hash = ?", hash)
}

// UpdateUserProfile replaces display name and email.
func (s *Store) UpdateUserProfile(ctx context.Context, id, displayName, email string) error {
	return s.updateUser(ctx, id, "display_name = ?, email = ?", displayName, nullString(email))
}

// SetUserStatus enables or disables a user.
func (s *Store) SetUserStatus(ctx context.Context, id string, status types.UserStatus) error {
	return s.updateUser(ctx, id, "status = ?", string(status))
}

func (s *Store) updateUser(ctx context.Context, id, set string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, s.now(), id)
	res, err := s.db.ExecContext(ctx, "UPDATE users SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update user %s: %w", id, types.ErrConflict)
		}
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("user", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(r rowScanner) (*types.User, error) {
	var u types.User
	var email sql.NullString
	var role, status string
	if err := r.Scan(&u.ID, &u.Username, &u.DisplayName, &email, &u.PasswordHash, &role, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Role = types.Role(role)
	u.Status = types.UserStatus(status)
	return &u, nil
}
