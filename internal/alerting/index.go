package alerting

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Index is the alert suppression index. It remembers which dedup keys
// have already been raised, so a daily run never pages twice for the same
// entity, severity, and day.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the SQLite suppression index.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("alerting: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("alerting: open index: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS raised_alerts (
	dedup_key  TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	severity   TEXT NOT NULL,
	raised_at  TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("alerting: create schema: %w", err)
	}
	return &Index{db: db}, nil
}

// ShouldRaise atomically records the event's dedup key and reports
// whether it was new. A repeat key returns false without modifying the
// index.
func (ix *Index) ShouldRaise(e Event) (bool, error) {
	res, err := ix.db.Exec(
		`INSERT OR IGNORE INTO raised_alerts (dedup_key, entity_id, severity, raised_at) VALUES (?, ?, ?, ?)`,
		e.DedupKey(), e.EntityID, string(e.Severity), e.RaisedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("alerting: record dedup key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("alerting: rows affected: %w", err)
	}
	return n == 1, nil
}

// Prune drops suppression records older than the retention window.
func (ix *Index) Prune(olderThan time.Time) (int64, error) {
	res, err := ix.db.Exec(`DELETE FROM raised_alerts WHERE raised_at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("alerting: prune index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("alerting: rows affected: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
