package storedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_things",
			SQL:     `CREATE TABLE things (id TEXT PRIMARY KEY, label TEXT NOT NULL);`,
		},
		{
			Version: 2,
			Name:    "add_things_rank",
			SQL:     `ALTER TABLE things ADD COLUMN rank INTEGER NOT NULL DEFAULT 0;`,
		},
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	db, err := Open(OpenOptions{Path: path, Module: "things", Migrations: testMigrations()})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO things(id, label, rank) VALUES (?, ?, ?)`, "a", "first", 3)
	require.NoError(t, err)

	var rank int
	require.NoError(t, db.QueryRow(`SELECT rank FROM things WHERE id = ?`, "a").Scan(&rank))
	assert.Equal(t, 3, rank)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")

	db, err := Open(OpenOptions{Path: path, Module: "things", Migrations: testMigrations()})
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO things(id, label) VALUES (?, ?)`, "a", "survives reopen")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening replays nothing and keeps the data.
	db, err = Open(OpenOptions{Path: path, Module: "things", Migrations: testMigrations()})
	require.NoError(t, err)
	defer db.Close()

	var label string
	require.NoError(t, db.QueryRow(`SELECT label FROM things WHERE id = ?`, "a").Scan(&label))
	assert.Equal(t, "survives reopen", label)

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE module = ?`, "things").Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestOpenModulesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	db, err := Open(OpenOptions{Path: path, Module: "alpha", Migrations: []Migration{
		{Version: 1, Name: "create_alpha", SQL: `CREATE TABLE alpha (id TEXT);`},
	}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(OpenOptions{Path: path, Module: "beta", Migrations: []Migration{
		{Version: 1, Name: "create_beta", SQL: `CREATE TABLE beta (id TEXT);`},
	}})
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "meta.db")

	db, err := Open(OpenOptions{Path: path, Module: "things", Migrations: testMigrations()})
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenRejectsEmptyOptions(t *testing.T) {
	_, err := Open(OpenOptions{Module: "m"})
	assert.ErrorIs(t, err, ErrOpenDatabase)

	_, err = Open(OpenOptions{Path: "x.db"})
	assert.ErrorIs(t, err, ErrOpenDatabase)
}
