// Package memory is the long-term memory layer: a store interface with a
// local SQLite FTS5 implementation, and a manager that extracts durable
// facts from each exchange and retrieves relevant ones for new turns.
// Vector-store backends (chroma, qdrant, pgvector) are external
// collaborators; the SQLite store is the local-first default.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the pluggable memory backend.
type Store interface {
	Add(ctx context.Context, sessionID, content string, metadata map[string]string) error
	Search(ctx context.Context, sessionID, query string, limit int) ([]string, error)
	Close() error
}

// SQLiteStore keeps memories in a local SQLite database with an FTS5 index
// for keyword retrieval.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("memory: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("memory: wal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

// Add stores one memory string.
func (s *SQLiteStore) Add(ctx context.Context, sessionID, content string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta strings.Builder
	for k, v := range metadata {
		fmt.Fprintf(&meta, "%s=%s;", k, v)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (session_id, content, metadata, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, content, meta.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("memory: insert: %w", err)
	}
	return nil
}

var ftsTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// ftsQuery turns free text into an OR query of sanitized tokens so FTS5
// never sees its operator syntax.
func ftsQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, 12)
	if len(tokens) == 0 {
		return ""
	}
	for i, t := range tokens {
		tokens[i] = `"` + t + `"`
	}
	return strings.Join(tokens, " OR ")
}

// Search returns up to limit memories relevant to the query, best first.
func (s *SQLiteStore) Search(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content
		FROM memories_fts f
		JOIN memories m ON m.id = f.rowid
		WHERE memories_fts MATCH ? AND m.session_id = ?
		ORDER BY rank
		LIMIT ?`, match, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// Count returns the number of stored memories for a session.
func (s *SQLiteStore) Count(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
