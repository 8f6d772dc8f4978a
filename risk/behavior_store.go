package risk

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/glebarez/sqlite"
)

const behaviorSchema = `
CREATE TABLE IF NOT EXISTS behavior_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_behavior_subject ON behavior_events(subject_id);
CREATE INDEX IF NOT EXISTS idx_behavior_timestamp ON behavior_events(timestamp_ms);
`

// BehaviorStore is the persistent sliding-window counter described in
// §4.4 "Behavior store": a table of (subject_id, timestamp_ms) rows, pruned
// lazily whenever a subject's count is requested.
type BehaviorStore struct {
	db *sql.DB
}

// OpenBehaviorStore opens (creating if necessary) the SQLite-backed
// behavior event store at path, mirroring the teacher's
// services/swapd/storage.Open pattern: a plain database/sql handle over the
// pure-Go sqlite driver with WAL enabled for concurrent writers.
func OpenBehaviorStore(path string) (*BehaviorStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("risk: behavior store path must be configured")
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("risk: open behavior store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("risk: enable WAL: %w", err)
	}
	if _, err := db.Exec(behaviorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("risk: apply schema: %w", err)
	}
	return &BehaviorStore{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BehaviorStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Record inserts a high-risk behavior event for subjectID at timestampMs.
func (b *BehaviorStore) Record(subjectID string, timestampMs int64) error {
	_, err := b.db.Exec(`INSERT INTO behavior_events (subject_id, timestamp_ms) VALUES (?, ?)`, subjectID, timestampMs)
	if err != nil {
		return fmt.Errorf("risk: record behavior event: %w", err)
	}
	return nil
}

// Count first deletes every row for subjectID with timestamp_ms <= cutoffMs
// (lazy pruning), then returns the remaining row count for that subject —
// exactly the two-step contract in §4.4.
func (b *BehaviorStore) Count(subjectID string, cutoffMs int64) (int, error) {
	tx, err := b.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("risk: begin count tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM behavior_events WHERE subject_id = ? AND timestamp_ms <= ?`, subjectID, cutoffMs); err != nil {
		return 0, fmt.Errorf("risk: prune behavior events: %w", err)
	}
	var count int
	row := tx.QueryRow(`SELECT COUNT(*) FROM behavior_events WHERE subject_id = ?`, subjectID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("risk: count behavior events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("risk: commit count tx: %w", err)
	}
	return count, nil
}
