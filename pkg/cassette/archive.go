package cassette

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/recorder"
	"github.com/snarelabs/snare/pkg/storedb"
)

const archiveModule = "cassette"

// Archive accumulates recorded exchanges in a SQLite database, grouped
// by session, so captures from many runs can be merged into one
// cassette later.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (and if needed creates) the archive at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       path,
		Module:     archiveModule,
		Migrations: archiveMigrations(),
	})
	if err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func archiveMigrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_exchanges",
			SQL: `
CREATE TABLE IF NOT EXISTS exchanges (
  id TEXT PRIMARY KEY,
  session TEXT NOT NULL,
  scope TEXT NOT NULL,
  method TEXT NOT NULL,
  path TEXT NOT NULL,
  status INTEGER NOT NULL,
  record_json TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session, created_at);
CREATE INDEX IF NOT EXISTS idx_exchanges_scope ON exchanges(scope, path);
`,
		},
	}
}

// Insert stores one record under the named session and returns the
// generated record id.
func (a *Archive) Insert(session string, rec recorder.Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", errx.With(ErrArchiveSave, ": marshal record: %w", err)
	}
	id := uuid.New().String()
	_, err = a.db.Exec(
		`INSERT INTO exchanges(id, session, scope, method, path, status, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, session, rec.Scope, rec.Method, rec.Path, rec.Status,
		string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", errx.With(ErrArchiveSave, ": insert exchange: %w", err)
	}
	return id, nil
}

// InsertAll stores all records under the named session in one
// transaction.
func (a *Archive) InsertAll(session string, recs []recorder.Record) error {
	tx, err := a.db.Begin()
	if err != nil {
		return errx.With(ErrArchiveSave, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO exchanges(id, session, scope, method, path, status, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errx.With(ErrArchiveSave, ": prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return errx.With(ErrArchiveSave, ": marshal record %d: %w", i, err)
		}
		if _, err := stmt.Exec(uuid.New().String(), session, rec.Scope, rec.Method,
			rec.Path, rec.Status, string(data), now); err != nil {
			return errx.With(ErrArchiveSave, ": insert exchange %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errx.With(ErrArchiveSave, ": commit: %w", err)
	}
	return nil
}

// List returns the session's records in insertion order. An empty
// session name returns every record in the archive.
func (a *Archive) List(session string) ([]recorder.Record, error) {
	query := `SELECT record_json FROM exchanges ORDER BY rowid`
	args := []any{}
	if session != "" {
		query = `SELECT record_json FROM exchanges WHERE session = ? ORDER BY rowid`
		args = append(args, session)
	}
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errx.With(ErrArchiveRead, ": query exchanges: %w", err)
	}
	defer rows.Close()

	var recs []recorder.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errx.With(ErrArchiveRead, ": scan exchange: %w", err)
		}
		var rec recorder.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errx.With(ErrArchiveRead, ": decode exchange: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrArchiveRead, ": iterate exchanges: %w", err)
	}
	return recs, nil
}

// Sessions lists the distinct session names in the archive.
func (a *Archive) Sessions() ([]string, error) {
	rows, err := a.db.Query(`SELECT DISTINCT session FROM exchanges ORDER BY session`)
	if err != nil {
		return nil, errx.With(ErrArchiveRead, ": query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errx.With(ErrArchiveRead, ": scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrArchiveRead, ": iterate sessions: %w", err)
	}
	return sessions, nil
}

// Cassette builds a cassette from the session's records.
func (a *Archive) Cassette(session string) (*Cassette, error) {
	recs, err := a.List(session)
	if err != nil {
		return nil, err
	}
	return New(recs...), nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
