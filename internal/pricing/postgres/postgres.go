package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

const singletonKey = 1

// Store implements pricing.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed pricing store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
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
CREATE TABLE IF NOT EXISTS pricing_config (
	id INTEGER PRIMARY KEY CHECK(id = 1),
	config JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply pricing schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the persisted config, or nil when none has been saved.
func (s *Store) Load(ctx context.Context) (*pricing.Config, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM pricing_config WHERE id = $1`, singletonKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pricing config: %w", err)
	}
	var cfg pricing.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
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
INSERT INTO pricing_config(id, config, updated_at) VALUES($1, $2, NOW())
ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = NOW()`,
		singletonKey, raw)
	if err != nil {
		return fmt.Errorf("save pricing config: %w", err)
	}
	return nil
}
