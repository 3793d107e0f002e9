// Package storedb opens per-module SQLite databases and applies their
// versioned schema migrations.
package storedb

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/snarelabs/snare/internal/errx"
)

// Migration is one schema step. Versions are applied in ascending order
// and recorded per module, so several modules can share one database
// file without stepping on each other's schema history.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Path is the database file. Parent directories are created.
	Path string
	// Module namespaces the migration history.
	Module string
	// Migrations are applied in ascending Version order.
	Migrations []Migration
}

// Open opens the database at opts.Path and brings opts.Module's schema
// up to date. The returned handle is ready for queries.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, errx.With(ErrOpenDatabase, ": empty path")
	}
	if opts.Module == "" {
		return nil, errx.With(ErrOpenDatabase, ": empty module")
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errx.Wrap(ErrOpenDatabase, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+opts.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errx.Wrap(ErrOpenDatabase, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errx.Wrap(ErrOpenDatabase, err)
	}
	if err := migrate(db, opts.Module, opts.Migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB, module string, migrations []Migration) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  PRIMARY KEY (module, version)
);`)
	if err != nil {
		return errx.With(ErrMigrate, ": create migrations table: %w", err)
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE module = ?`, module)
	if err := row.Scan(&current); err != nil {
		return errx.With(ErrMigrate, ": read migration state: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, module, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, module string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errx.With(ErrMigrate, ": begin %s/%d: %w", module, m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return errx.With(ErrMigrate, ": apply %s/%d %s: %w", module, m.Version, m.Name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations(module, version, name) VALUES (?, ?, ?)`,
		module, m.Version, m.Name,
	); err != nil {
		return errx.With(ErrMigrate, ": record %s/%d: %w", module, m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return errx.With(ErrMigrate, ": commit %s/%d: %w", module, m.Version, err)
	}
	return nil
}
