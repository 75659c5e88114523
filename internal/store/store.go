// Package store owns database connection bootstrap. Individual stores
// (userstore, billing, pricing, ledger) receive handles or DSNs from here
// instead of reaching into process-global state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// register sqlite driver
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the SQLite database at path and applies the
// pragmas every store relies on. All SQLite-backed stores share the returned
// handle so the billing confirmation transaction can span tables.
// Transactions take the write lock up front (_txlock=immediate) so two
// concurrent confirmations queue on busy_timeout instead of one failing
// with a deferred-transaction snapshot error.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_txlock=immediate"
	} else {
		dsn += "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", p, err)
		}
	}
	return db, nil
}

// IsPostgres reports whether target looks like a PostgreSQL DSN rather than
// a SQLite file path.
func IsPostgres(target string) bool {
	target = strings.TrimSpace(strings.ToLower(target))
	return strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://")
}

// DefaultPath returns the fallback SQLite location under the user's home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "modulpintar.db"
	}
	return filepath.Join(home, ".modulpintar", "modulpintar.db")
}
