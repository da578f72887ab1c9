package docsrag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Index is the documentation cache: fetched pages stored per library with an
// FTS5 index for retrieval.
type Index struct {
	db       *sql.DB
	maxPages int
	logger   *slog.Logger
	mu       sync.Mutex
}

// Status summarizes the cache contents.
type Status struct {
	Libraries map[string]int // library → page count
	Pages     int
}

// Open creates or opens the docs cache under cacheDir.
func Open(cacheDir string, maxPagesPerLibrary int, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(cacheDir, 0750); err != nil {
		return nil, fmt.Errorf("docsrag: create cache dir: %w", err)
	}
	if maxPagesPerLibrary <= 0 {
		maxPagesPerLibrary = 50
	}

	db, err := sql.Open("sqlite", filepath.Join(cacheDir, "docs.db"))
	if err != nil {
		return nil, fmt.Errorf("docsrag: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("docsrag: wal mode: %w", err)
	}

	idx := &Index{db: db, maxPages: maxPagesPerLibrary, logger: logger.With("component", "docsrag")}
	if err := idx.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return idx, nil
}

func (i *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			library    TEXT NOT NULL,
			url        TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			UNIQUE(library, url)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS pages_fts USING fts5(
			title, content,
			content='pages',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS pages_ai AFTER INSERT ON pages BEGIN
			INSERT INTO pages_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS pages_ad AFTER DELETE ON pages BEGIN
			INSERT INTO pages_fts(pages_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := i.db.Exec(stmt); err != nil {
			return fmt.Errorf("docsrag: migrate: %w", err)
		}
	}
	return nil
}

// AddPage stores one documentation page, honoring the per-library page cap.
func (i *Index) AddPage(ctx context.Context, library, url, title, content string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var count int
	if err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE library = ?`, library).Scan(&count); err != nil {
		return fmt.Errorf("docsrag: count: %w", err)
	}
	if count >= i.maxPages {
		i.logger.Debug("page cap reached", "library", library)
		return nil
	}

	_, err := i.db.ExecContext(ctx, `
		INSERT INTO pages (library, url, title, content, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(library, url) DO NOTHING`,
		library, url, title, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("docsrag: insert: %w", err)
	}
	return nil
}

// Hit is one search result from the cache.
type Hit struct {
	Library string
	URL     string
	Title   string
	Snippet string
}

var docsTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Search queries the cache, best matches first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tokens := docsTokenPattern.FindAllString(query, 12)
	if len(tokens) == 0 {
		return nil, nil
	}
	for j, t := range tokens {
		tokens[j] = `"` + t + `"`
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT p.library, p.url, p.title, snippet(pages_fts, 1, '', '', '...', 24)
		FROM pages_fts f
		JOIN pages p ON p.id = f.rowid
		WHERE pages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, strings.Join(tokens, " OR "), limit)
	if err != nil {
		return nil, fmt.Errorf("docsrag: search: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Library, &h.URL, &h.Title, &h.Snippet); err != nil {
			return nil, fmt.Errorf("docsrag: scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Status reports per-library page counts.
func (i *Index) Status(ctx context.Context) (*Status, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	rows, err := i.db.QueryContext(ctx,
		`SELECT library, COUNT(*) FROM pages GROUP BY library`)
	if err != nil {
		return nil, fmt.Errorf("docsrag: status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	st := &Status{Libraries: map[string]int{}}
	for rows.Next() {
		var lib string
		var n int
		if err := rows.Scan(&lib, &n); err != nil {
			return nil, err
		}
		st.Libraries[lib] = n
		st.Pages += n
	}
	return st, rows.Err()
}

// Clear drops every cached page.
func (i *Index) Clear(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, err := i.db.ExecContext(ctx, `DELETE FROM pages`)
	return err
}

// Cleanup removes pages older than maxAge and returns how many were dropped.
func (i *Index) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := i.db.ExecContext(ctx, `DELETE FROM pages WHERE indexed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("docsrag: cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		i.logger.Info("docs cache cleaned", "removed", n)
	}
	return int(n), nil
}

// Close releases the database handle.
func (i *Index) Close() error {
	return i.db.Close()
}
