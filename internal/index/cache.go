package index

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/errclass"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS files (
	category TEXT NOT NULL,
	path     TEXT NOT NULL,
	size     INTEGER NOT NULL,
	mtime    INTEGER NOT NULL,
	sha256   TEXT NOT NULL,
	blake3   TEXT NOT NULL,
	PRIMARY KEY (category, path)
);
CREATE TABLE IF NOT EXISTS integrity (
	changelog_file     TEXT PRIMARY KEY,
	sha256             TEXT NOT NULL,
	blake3             TEXT NOT NULL,
	signature_file     TEXT,
	verified           INTEGER NOT NULL DEFAULT 0,
	verified_timestamp TEXT
);
`

// Cache is the derived SQLite cache under db/cache.db. Purely a query
// accelerator for status; the log command reads the change logs directly
// and does not use it. Deleting it loses nothing.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the cache database.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errclass.ErrIndexCorrupt.WithMessagef("open cache: %v", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, errclass.ErrIndexCorrupt.WithMessagef("init cache schema: %v", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Refresh replaces the cached file table with st and records the closing
// chain's per-log digests in the integrity table.
func (c *Cache) Refresh(st state.State, chain []state.ClosingLink) error {
	tx, err := c.db.Begin()
	if err != nil {
		return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files`); err != nil {
		return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
	}
	ins, err := tx.Prepare(`INSERT INTO files (category, path, size, mtime, sha256, blake3) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
	}
	defer ins.Close()
	for cat, files := range st {
		for p, fs := range files {
			if _, err := ins.Exec(cat, p, fs.Size, fs.MTime, fs.SHA256, fs.BLAKE3); err != nil {
				return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, link := range chain {
		verified := 0
		if link.Signed {
			verified = 1
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO integrity
			(changelog_file, sha256, blake3, signature_file, verified, verified_timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			link.Log, link.SHA256, link.BLAKE3, link.Log+".sig", verified, now)
		if err != nil {
			return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errclass.ErrIndexCorrupt.WithMessagef("cache refresh: %v", err)
	}
	return nil
}

// CategoryStats summarizes one category's live files.
type CategoryStats struct {
	Files     int64
	TotalSize int64
}

// Stats returns per-category file counts and sizes from the cache.
func (c *Cache) Stats() (map[string]CategoryStats, error) {
	rows, err := c.db.Query(`SELECT category, COUNT(*), COALESCE(SUM(size), 0) FROM files GROUP BY category`)
	if err != nil {
		return nil, errclass.ErrIndexCorrupt.WithMessagef("cache stats: %v", err)
	}
	defer rows.Close()

	out := make(map[string]CategoryStats)
	for rows.Next() {
		var cat string
		var s CategoryStats
		if err := rows.Scan(&cat, &s.Files, &s.TotalSize); err != nil {
			return nil, errclass.ErrIndexCorrupt.WithMessagef("cache stats: %v", err)
		}
		out[cat] = s
	}
	return out, rows.Err()
}
