package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/modulpintar/modulpintar-server/internal/billing"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

// Store implements billing.Store backed by PostgreSQL. It points at the same
// database as the user store so Confirm can commit the balance credit and
// the status flip together.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed transaction store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle int, lifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
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
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id),
	package_id TEXT NOT NULL,
	points BIGINT NOT NULL,
	price BIGINT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('PENDING','COMPLETED','FAILED')),
	provider TEXT NOT NULL,
	provider_ref TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply transactions schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error { return s.db.Close() }

const txColumns = `id, user_id, package_id, points, price, status, provider, provider_ref, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*billing.Transaction, error) {
	var t billing.Transaction
	if err := row.Scan(&t.ID, &t.UserID, &t.PackageID, &t.Points, &t.Price, &t.Status, &t.Provider, &t.ProviderRef, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create opens a PENDING transaction snapshotting the package.
func (s *Store) Create(ctx context.Context, userID int64, pkg pricing.Package, provider string) (*billing.Transaction, error) {
	if userID == 0 {
		return nil, errors.New("transaction requires user id")
	}
	row := s.db.QueryRowContext(ctx, `
INSERT INTO transactions(id, user_id, package_id, points, price, status, provider, provider_ref)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+txColumns,
		uuid.NewString(), userID, pkg.ID, pkg.Points, pkg.Price, billing.StatusPending, provider, uuid.NewString())
	t, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// Get loads a transaction, enforcing ownership.
func (s *Store) Get(ctx context.Context, id string, callerID int64) (*billing.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.UserID != callerID {
		return nil, billing.ErrNotOwner
	}
	return t, nil
}

// Confirm credits the owner and flips the status atomically. The row lock
// taken by FOR UPDATE serializes concurrent confirmations of the same
// transaction; the loser of the race observes COMPLETED.
func (s *Store) Confirm(ctx context.Context, id string, callerID int64) (billing.ConfirmResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT user_id, points, status FROM transactions WHERE id = $1 FOR UPDATE`, id)
	var ownerID, points int64
	var status billing.Status
	if err := row.Scan(&ownerID, &points, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return billing.ConfirmResult{}, billing.ErrNotFound
		}
		return billing.ConfirmResult{}, err
	}
	if ownerID != callerID {
		return billing.ConfirmResult{}, billing.ErrNotOwner
	}

	switch status {
	case billing.StatusCompleted:
		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = $1`, ownerID).Scan(&balance); err != nil {
			return billing.ConfirmResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return billing.ConfirmResult{}, err
		}
		return billing.ConfirmResult{Status: billing.StatusCompleted, Points: balance, AlreadyCompleted: true}, nil
	case billing.StatusPending:
		// fall through to credit+flip below
	default:
		return billing.ConfirmResult{}, billing.ErrNotConfirmable
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
UPDATE users SET points = points + $1, updated_at = NOW() WHERE id = $2
RETURNING points`, points, ownerID).Scan(&balance); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("credit purchase: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2`, billing.StatusCompleted, id); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("complete transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("commit confirm tx: %w", err)
	}
	return billing.ConfirmResult{Status: billing.StatusCompleted, Points: balance}, nil
}
