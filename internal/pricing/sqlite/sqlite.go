package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

// singletonKey pins the config to one well-known row.
const singletonKey = 1

// Store implements pricing.Store backed by SQLite.
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
CREATE TABLE IF NOT EXISTS pricing_config (
	id INTEGER PRIMARY KEY CHECK(id = 1),
	config TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply pricing schema: %w", err)
	}
	return nil
}

// Close is a no-op; the shared handle is owned by the caller.
func (s *Store) Close() error { return nil }

// Load returns the persisted config, or nil when none has been saved.
func (s *Store) Load(ctx context.Context) (*pricing.Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM pricing_config WHERE id = ?`, singletonKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pricing config: %w", err)
	}
	var cfg pricing.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode pricing config: %w", err)
	}
	return &cfg, nil
}

// Save replaces the singleton wholesale.
func (s *Store) Save(ctx context.Context, cfg pricing.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode pricing config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO pricing_config(id, config, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = CURRENT_TIMESTAMP`,
		singletonKey, string(raw))
	if err != nil {
		return fmt.Errorf("save pricing config: %w", err)
	}
	return nil
}
