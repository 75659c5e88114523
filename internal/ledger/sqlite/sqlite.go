package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New wires the store onto a shared SQLite handle.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS point_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	points INTEGER NOT NULL,
	direction TEXT NOT NULL CHECK(direction IN ('debit','credit')),
	reason TEXT NOT NULL,
	request_id TEXT,
	memo TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_point_entries_user_created ON point_entries(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// Close is a no-op; the shared handle is owned by the caller.
func (s *Store) Close() error { return nil }

// Record appends a new point movement.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.UserID == 0 {
		return errors.New("ledger record requires user id")
	}
	if entry.Direction != ledger.DirectionDebit && entry.Direction != ledger.DirectionCredit {
		return fmt.Errorf("invalid direction %q", entry.Direction)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO point_entries(user_id, points, direction, reason, request_id, memo, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.Points,
		string(entry.Direction),
		string(entry.Reason),
		entry.RequestID,
		entry.Memo,
		created,
	)
	return err
}

// Summary returns aggregated point movements for the given user.
func (s *Store) Summary(ctx context.Context, userID int64) (ledger.Summary, error) {
	if userID == 0 {
		return ledger.Summary{}, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT
	COALESCE(SUM(CASE WHEN direction='debit' THEN points ELSE 0 END), 0) AS debited,
	COALESCE(SUM(CASE WHEN direction='credit' THEN points ELSE 0 END), 0) AS credited
FROM point_entries
WHERE user_id = ?`, userID)

	var debited, credited sql.NullInt64
	if err := row.Scan(&debited, &credited); err != nil {
		return ledger.Summary{}, err
	}
	summary := ledger.Summary{
		DebitedPoints:  debited.Int64,
		CreditedPoints: credited.Int64,
	}
	summary.NetPoints = summary.CreditedPoints - summary.DebitedPoints
	return summary, nil
}

// ListRecent returns the latest entries for a user.
func (s *Store) ListRecent(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	if userID == 0 {
		return nil, errors.New("user id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, points, direction, reason, COALESCE(request_id, ''), COALESCE(memo, ''), created_at
FROM point_entries
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var direction, reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Points, &direction, &reason, &e.RequestID, &e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Direction = ledger.Direction(direction)
		e.Reason = ledger.Reason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
