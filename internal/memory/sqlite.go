package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// SQLiteStore is a Store backed by an SQLite database file.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns the memory database location under XDG_DATA_HOME.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "dragonscale", "memory.db")
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &SQLiteStore{conn: conn, path: path}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Memories},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// last_updated holds unix nanoseconds so ordering survives sub-second writes.
const migrationV1Memories = `
CREATE TABLE IF NOT EXISTS memories (
	actor_id INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	PRIMARY KEY (actor_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_memories_actor_updated ON memories(actor_id, last_updated);
`

func (s *SQLiteStore) Recent(ctx context.Context, actorID int, excludeSession string, limit int) ([]dragonscale.MemoryRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, summary, last_updated
		FROM memories
		WHERE actor_id = ? AND session_id != ?
		ORDER BY last_updated DESC, session_id ASC
		LIMIT ?`, actorID, excludeSession, limit)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var records []dragonscale.MemoryRecord
	for rows.Next() {
		var (
			record  dragonscale.MemoryRecord
			updated int64
		)
		if err := rows.Scan(&record.SessionID, &record.Summary, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		record.LastUpdated = time.Unix(0, updated).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, actorID int, record dragonscale.MemoryRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO memories (actor_id, session_id, summary, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(actor_id, session_id) DO UPDATE SET
			summary = excluded.summary,
			last_updated = excluded.last_updated`,
		actorID, record.SessionID, record.Summary, record.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}
