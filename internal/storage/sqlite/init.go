package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the kv table if it doesn't exist.
// Use ":memory:" for an ephemeral database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps read-modify-write sequences on a collection ordered
	// and makes ":memory:" databases behave as a single database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (collection, key)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return db, nil
}
