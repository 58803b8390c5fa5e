// Package sqlite implements the repository interfaces on SQLite.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 needs CGo and a C compiler. modernc.org/sqlite is a pure
// Go translation of SQLite, so the server cross-compiles like any Go binary.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB:   a connection pool, not a single connection
//   - sql.Row:  a single result row
//   - sql.Rows: multiple result rows, which must be closed
//
// All timestamps are written in UTC. Reset-token expiry is stored as unix
// milliseconds so "still valid" is a plain integer comparison in SQL.
package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite's built-in LOWER() only folds ASCII. unicode_lower folds the way
// strings.ToLower does, so search terms and columns compare on equal terms.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("unicode_lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// DB wraps a sql.DB connection pool. It implements both
// repository.UserRepository and repository.ApplicationRepository, and its
// lifecycle is explicit: New opens it at startup, Close releases it at
// shutdown.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/jobtracker.db" → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" gets its own empty database, so
	// the pool must never hold more than one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// sql.Open is lazy; Ping surfaces a bad path or permissions problem now
	// instead of on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	// Foreign keys are OFF by default in SQLite.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /health.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
func (db *DB) migrate() error {
	// google_id is nullable and UNIQUE: NULLs never collide, so any number of
	// password-only accounts can exist.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                     TEXT PRIMARY KEY,
			google_id              TEXT UNIQUE,
			display_name           TEXT NOT NULL,
			email                  TEXT NOT NULL UNIQUE COLLATE NOCASE,
			photo                  TEXT NOT NULL DEFAULT '',
			password_hash          TEXT NOT NULL DEFAULT '',
			reset_password_token   TEXT,
			reset_password_expires INTEGER,
			created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_password_token);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS job_applications (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			job_title    TEXT NOT NULL,
			company      TEXT NOT NULL,
			description  TEXT NOT NULL,
			date_applied TEXT NOT NULL,
			status       TEXT NOT NULL,
			job_platform TEXT NOT NULL,
			job_url      TEXT NOT NULL,
			resume_url   TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_job_applications_user_created
			ON job_applications(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating job_applications table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure,
// and on which column ("users.email", "users.google_id", ...).
func isUniqueViolation(err error) (column string, ok bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return "", false
	}
	// Message format: "UNIQUE constraint failed: users.email (2067)"
	msg := sqliteErr.Error()
	if _, after, found := strings.Cut(msg, "failed: "); found {
		column, _, _ = strings.Cut(after, " ")
	}
	return column, true
}

// nullIfEmpty maps "" to SQL NULL for nullable UNIQUE columns.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
