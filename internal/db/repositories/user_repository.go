// Package repositories implements the data access layer (repository pattern) for the package index.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly — all database access goes through this layer, which makes query logic testable in isolation.
//
// Queries use $N placeholders in strictly increasing textual order: lib/pq binds
// them by number while the sqlite driver binds by first occurrence, so the two
// agree only when the order matches.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pratikychavan/PyPI-clone/internal/db/models"
)

// userColumns is the canonical column list for users queries. Keep it in sync
// with scanUser: the scan destinations are positional.
const userColumns = `id, username, email, password_hash, is_admin, active, last_login_at, created_at, updated_at`

// rowScanner is the part of *sql.Row and *sql.Rows that scanUser needs.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsAdmin,
		&u.Active,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserRepository issues all SQL touching the users table.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new account. The caller fills Username, Email,
// PasswordHash, IsAdmin, and Active; ID and the timestamps are stamped here.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_admin, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.IsAdmin, user.Active, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// getUser fetches a single user by an arbitrary single-argument predicate.
// A missing row is reported as (nil, nil), not an error; every caller treats
// "no such user" as a normal outcome.
func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getUser(ctx, `id = $1`, userID)
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUser(ctx, `username = $1`, username)
}

// UpdateUser persists the mutable account fields. Username is immutable and
// deliberately absent from the SET list.
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $1, password_hash = $2, is_admin = $3, active = $4, updated_at = $5 WHERE id = $6`,
		user.Email, user.PasswordHash, user.IsAdmin, user.Active, user.UpdatedAt, user.ID,
	)
	return err
}

// SetActive enables or disables a user account. Deactivation leaves the row
// and its tokens in place but makes every authentication path reject them.
func (r *UserRepository) SetActive(ctx context.Context, userID string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now(), userID,
	)
	return err
}

// UpdateLastLogin stamps last_login_at. Failures are ignored by callers; the
// timestamp is advisory.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`,
		time.Now(), userID,
	)
	return err
}

// DeleteUser removes the account; the tokens table cascades on user_id.
func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// ListUsers returns one page of accounts, newest first, plus the total count
// so handlers can report pagination metadata.
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// CountUsers returns the total number of users. Used at startup to decide
// whether the bootstrap admin account must be created.
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	return total, err
}
