package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/modulpintar/modulpintar-server/internal/billing"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

// Store implements billing.Store backed by SQLite.
//
// It shares its handle with the user store: Confirm updates the users table
// and the transactions table inside one database transaction.
type Store struct {
	db *sql.DB
}

// New wires the store onto the shared SQLite handle. The users table must
// already exist (the user store initializes it).
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id),
	package_id TEXT NOT NULL,
	points INTEGER NOT NULL,
	price INTEGER NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('PENDING','COMPLETED','FAILED')),
	provider TEXT NOT NULL,
	provider_ref TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply transactions schema: %w", err)
	}
	return nil
}

// Close is a no-op; the shared handle is owned by the caller.
func (s *Store) Close() error { return nil }

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
	id := uuid.NewString()
	ref := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transactions(id, user_id, package_id, points, price, status, provider, provider_ref)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, pkg.ID, pkg.Points, pkg.Price, billing.StatusPending, provider, ref)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// Get loads a transaction, enforcing ownership.
func (s *Store) Get(ctx context.Context, id string, callerID int64) (*billing.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
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

// Confirm credits the owner and flips the status atomically. Duplicate
// confirmations observe COMPLETED and credit nothing.
func (s *Store) Confirm(ctx context.Context, id string, callerID int64) (billing.ConfirmResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT user_id, points, status FROM transactions WHERE id = ?`, id)
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
		if err := tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, ownerID).Scan(&balance); err != nil {
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

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET points = points + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, points, ownerID); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("credit purchase: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, billing.StatusCompleted, id); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("complete transaction: %w", err)
	}
	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, ownerID).Scan(&balance); err != nil {
		return billing.ConfirmResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return billing.ConfirmResult{}, fmt.Errorf("commit confirm tx: %w", err)
	}
	return billing.ConfirmResult{Status: billing.StatusCompleted, Points: balance}, nil
}
