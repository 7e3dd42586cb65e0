package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultPath is the default database location
const DefaultPath = "/var/lib/ephemeral/history.db"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// New opens or creates the SQLite database at the given path
func New(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// migrate runs the database schema migrations
func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "migration v%d failed", v)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the initial schema
const migrationV1 = `
-- One row per detection run
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY,
    run_uuid TEXT UNIQUE NOT NULL,
    cloud TEXT NOT NULL,
    hypervisor TEXT NOT NULL,
    strict INTEGER DEFAULT 0,
    inventory_source TEXT,
    device_count INTEGER DEFAULT 0,
    error TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_cloud ON runs(cloud);

-- Devices detected in a run and what reconciliation made of them
CREATE TABLE IF NOT EXISTS run_devices (
    id INTEGER PRIMARY KEY,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    original_path TEXT NOT NULL,
    final_path TEXT,
    outcome TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_devices_run ON run_devices(run_id);
`

// Run represents a recorded detection run
type Run struct {
	ID              int64        `json:"id"`
	UUID            string       `json:"uuid"`
	Cloud           string       `json:"cloud"`
	Hypervisor      string       `json:"hypervisor"`
	Strict          bool         `json:"strict"`
	InventorySource string       `json:"inventory_source,omitempty"`
	DeviceCount     int          `json:"device_count"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Devices         []*RunDevice `json:"devices,omitempty"`
}

// RunDevice is one detected device within a run
type RunDevice struct {
	Position     int    `json:"position"`
	OriginalPath string `json:"original_path"`
	FinalPath    string `json:"final_path,omitempty"`
	Outcome      string `json:"outcome"`
}

// Device outcomes when no reconciliation took place
const (
	OutcomeDetected = "detected"
)

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
