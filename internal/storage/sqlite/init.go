package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the resolutions table
// if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Concurrent writers share a single connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS resolutions (
		fingerprint TEXT PRIMARY KEY,
		name TEXT,
		file_id TEXT,
		root_kind TEXT,
		root_id TEXT,
		resolved_at TEXT NOT NULL,
		deleted_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create resolutions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_resolutions_live ON resolutions (deleted_at, resolved_at)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create resolutions index: %w", err)
	}

	return db, nil
}
