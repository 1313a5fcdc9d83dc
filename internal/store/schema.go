package store

import (
	"context"
	"database/sql"
	"fmt"
)

const scansTableDDL = `
CREATE TABLE IF NOT EXISTS scans (
    root TEXT PRIMARY KEY,
    scanned_at INTEGER NOT NULL,
    total_size INTEGER NOT NULL,
    total_items INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    max_depth INTEGER NOT NULL
);
`

const itemsTableDDL = `
CREATE TABLE IF NOT EXISTS items (
    root TEXT NOT NULL,
    seq INTEGER NOT NULL,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    size INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    depth INTEGER NOT NULL,
    collapsed INTEGER NOT NULL,
    PRIMARY KEY (root, seq)
);
`

const scansAgeIndexDDL = `CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at);`

// initSchema creates the tables and applies connection pragmas.
func initSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		scansTableDDL,
		itemsTableDDL,
		scansAgeIndexDDL,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize cache schema: %w", err)
		}
	}
	return nil
}
