// Package db holds the sqlite run journal: one row per executor job, kept so
// that history survives restarts and crashed runs can be detected.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the journal database file inside the base directory.
const FileName = "journal.db"

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	stmts   string
}

var migrations = []migration{
	{
		version: 1,
		name:    "runs",
		stmts: `
		CREATE TABLE IF NOT EXISTS runs (
		  id            TEXT PRIMARY KEY,
		  op            TEXT NOT NULL,
		  target        TEXT NOT NULL,
		  status        TEXT NOT NULL,
		  error_code    TEXT,
		  error_message TEXT,
		  started_at    INTEGER NOT NULL,
		  finished_at   INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target, started_at DESC);
		`,
	},
}

// CurrentSchemaVersion is the version Init migrates to.
var CurrentSchemaVersion = migrations[len(migrations)-1].version

// Path returns the journal location under baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, FileName)
}

// Init opens the journal under baseDir, creating the directory and applying
// pending migrations. A journal written by a newer build is refused.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	path := Path(baseDir)
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := verifyWALMode(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return conn, nil
}

// migrate applies every migration above the stored user_version, each in its
// own transaction.
func migrate(conn *sql.DB) error {
	have, err := GetUserVersion(conn)
	if err != nil {
		return err
	}
	if have > CurrentSchemaVersion {
		return fmt.Errorf("journal schema v%d is newer than this build (v%d)", have, CurrentSchemaVersion)
	}
	for _, m := range migrations {
		if m.version <= have {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(m.stmts); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func verifyWALMode(conn *sql.DB) error {
	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the stored schema version.
func GetUserVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow("PRAGMA user_version;").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return v, nil
}

// SetUserVersion overwrites the stored schema version.
func SetUserVersion(conn *sql.DB, version int) error {
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
