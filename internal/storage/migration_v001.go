package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the visitors table. page_url carries the UNIQUE
// constraint the upsert conflicts on. Every statement uses IF NOT EXISTS.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS visitors (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			page_url     TEXT NOT NULL UNIQUE,
			visit_count  INTEGER NOT NULL DEFAULT 1 CHECK (visit_count >= 1),
			last_visited DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_visitors_last_visited ON visitors(last_visited)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
