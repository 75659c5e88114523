// Package postgres provides the PostgreSQL implementation of userstore.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

// Store implements userstore.Store for PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New opens a PostgreSQL-backed user store using the provided DSN.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user',
	points BIGINT NOT NULL DEFAULT 0 CHECK(points >= 0),
	password_hash TEXT NOT NULL,
	reset_token_sum TEXT,
	reset_expires TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply users schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
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
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users(email, role, points, password_hash)
VALUES($1, $2, $3, $4)
RETURNING `+userColumns, email, userstore.RoleUser, initialPoints, passwordHash)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, userstore.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrNotFound
	}
	return u, err
}

// FindByEmail loads a user by lowercased email, or nil when absent.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all non-admin accounts ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]userstore.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role != $1 ORDER BY created_at ASC`, userstore.RoleAdmin)
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

// Debit subtracts amount conditionally on the stored balance.
func (s *Store) Debit(ctx context.Context, id int64, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative debit amount %d", amount)
	}
	var points int64
	err := s.db.QueryRowContext(ctx, `
UPDATE users SET points = points - $1, updated_at = NOW()
WHERE id = $2 AND points >= $1
RETURNING points`, amount, id).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.GetUser(ctx, id); gerr != nil {
			return 0, gerr
		}
		return 0, userstore.ErrInsufficientPoints
	}
	if err != nil {
		return 0, fmt.Errorf("debit user %d: %w", id, err)
	}
	return points, nil
}

// Credit adds amount unconditionally.
func (s *Store) Credit(ctx context.Context, id int64, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative credit amount %d", amount)
	}
	var points int64
	err := s.db.QueryRowContext(ctx, `
UPDATE users SET points = points + $1, updated_at = NOW()
WHERE id = $2
RETURNING points`, amount, id).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, userstore.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit user %d: %w", id, err)
	}
	return points, nil
}

// SetPoints overwrites the balance outright.
func (s *Store) SetPoints(ctx context.Context, id int64, points int64) (int64, error) {
	if points < 0 {
		return 0, apperr.New(apperr.Conflict, "points balance cannot be negative")
	}
	var out int64
	err := s.db.QueryRowContext(ctx, `
UPDATE users SET points = $1, updated_at = NOW()
WHERE id = $2
RETURNING points`, points, id).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, userstore.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("set points for user %d: %w", id, err)
	}
	return out, nil
}

// UpdatePassword rewrites the password hash.
func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, passwordHash, id)
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
		`UPDATE users SET reset_token_sum = $1, reset_expires = $2, updated_at = NOW() WHERE id = $3`,
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
// hash in a single statement.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenSum, passwordHash string) (*userstore.User, error) {
	row := s.db.QueryRowContext(ctx, `
UPDATE users SET password_hash = $1, reset_token_sum = NULL, reset_expires = NULL, updated_at = NOW()
WHERE reset_token_sum = $2 AND reset_expires > NOW()
RETURNING `+userColumns, passwordHash, tokenSum)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userstore.ErrResetTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return u, nil
}
