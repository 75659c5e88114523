package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

// Store implements userstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New wires the store onto a shared SQLite handle (see internal/store) and
// ensures the users table exists.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user',
	points INTEGER NOT NULL DEFAULT 0 CHECK(points >= 0),
	password_hash TEXT NOT NULL,
	reset_token_sum TEXT,
	reset_expires TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply users schema: %w", err)
	}
	return nil
}

// Close is a no-op; the shared handle is owned by the caller.
func (s *Store) Close() error { return nil }

const userColumns = `id, email, role, points, password_hash, COALESCE(reset_token_sum, ''), reset_expires, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*userstore.User, error) {
	var u userstore.User
	var resetExpires sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.Points, &u.PasswordHash, &u.ResetTokenSum, &resetExpires, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if resetExpires.Valid {
		t := resetExpires.Time
		u.ResetExpires = &t
	}
	return &u, nil
}

// CreateUser registers a new account with the signup grant already applied.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, initialPoints int64) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, errors.New("email required")
	}
	if initialPoints < 0 {
		initialPoints = 0
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email, role, points, password_hash) VALUES(?, ?, ?, ?)`,
		email, userstore.RoleUser, initialPoints, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, userstore.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrNotFound
	}
	return u, err
}

// FindByEmail loads a user by lowercased email, or nil when absent.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all non-admin accounts ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]userstore.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role != ? ORDER BY created_at ASC`, userstore.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []userstore.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Debit subtracts amount conditionally on the stored balance. The predicate
// runs inside the UPDATE itself, so concurrent debits can never jointly
// overdraw a stale balance.
func (s *Store) Debit(ctx context.Context, id int64, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative debit amount %d", amount)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET points = points - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND points >= ?`,
		amount, id, amount)
	if err != nil {
		return 0, fmt.Errorf("debit user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		if _, err := s.GetUser(ctx, id); err != nil {
			return 0, err
		}
		return 0, userstore.ErrInsufficientPoints
	}
	return s.currentPoints(ctx, id)
}

// Credit adds amount unconditionally.
func (s *Store) Credit(ctx context.Context, id int64, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative credit amount %d", amount)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET points = points + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, id)
	if err != nil {
		return 0, fmt.Errorf("credit user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, userstore.ErrNotFound
	}
	return s.currentPoints(ctx, id)
}

// SetPoints overwrites the balance outright.
func (s *Store) SetPoints(ctx context.Context, id int64, points int64) (int64, error) {
	if points < 0 {
		return 0, apperr.New(apperr.Conflict, "points balance cannot be negative")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET points = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, points, id)
	if err != nil {
		return 0, fmt.Errorf("set points for user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, userstore.ErrNotFound
	}
	return points, nil
}

func (s *Store) currentPoints(ctx context.Context, id int64) (int64, error) {
	var points int64
	if err := s.db.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, id).Scan(&points); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, userstore.ErrNotFound
		}
		return 0, err
	}
	return points, nil
}

// UpdatePassword rewrites the password hash.
func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password for user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return userstore.ErrNotFound
	}
	return nil
}

// SetResetToken stores the hashed reset token and its expiry.
func (s *Store) SetResetToken(ctx context.Context, id int64, tokenSum string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token_sum = ?, reset_expires = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		tokenSum, expires.UTC(), id)
	if err != nil {
		return fmt.Errorf("set reset token for user %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return userstore.ErrNotFound
	}
	return nil
}

// ConsumeResetToken redeems a live reset token and installs the new password
// hash in the same statement, so a token can only ever be used once.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenSum, passwordHash string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reset_expires FROM users WHERE reset_token_sum = ?`, tokenSum)
	var id int64
	var expires sql.NullTime
	if err := row.Scan(&id, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userstore.ErrResetTokenInvalid
		}
		return nil, err
	}
	if !expires.Valid || time.Now().After(expires.Time) {
		return nil, userstore.ErrResetTokenInvalid
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, reset_token_sum = NULL, reset_expires = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND reset_token_sum = ?`,
		passwordHash, id, tokenSum)
	if err != nil {
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// raced with another redemption of the same token
		return nil, userstore.ErrResetTokenInvalid
	}
	return s.GetUser(ctx, id)
}
