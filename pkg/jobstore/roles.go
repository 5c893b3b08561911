package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRole maps a chat user to a credential role.
type UserRole struct {
	UserID    int64
	Role      string
	UpdatedAt time.Time
}

// SetUserRole assigns role to userID, replacing any previous role.
func (s *Store) SetUserRole(ctx context.Context, userID int64, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("role is required")
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO user_roles (user_id, role, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   role = excluded.role,
		   updated_at = excluded.updated_at`),
		userID, role, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

// GetUserRole returns the role of userID, or ErrNotFound.
func (s *Store) GetUserRole(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT role FROM user_roles WHERE user_id = ?`), userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role of user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get user role: %w", err)
	}
	return role, nil
}

// DeleteUserRole removes the role of userID.
func (s *Store) DeleteUserRole(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM user_roles WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("delete user role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role of user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// ListUserRoles returns every role assignment ordered by user id.
func (s *Store) ListUserRoles(ctx context.Context) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role, updated_at FROM user_roles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var (
			r       UserRole
			updated string
		)
		if err := rows.Scan(&r.UserID, &r.Role, &updated); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		if t, err := parseTime(updated); err == nil {
			r.UpdatedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return out, nil
}
