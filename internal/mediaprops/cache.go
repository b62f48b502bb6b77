// Package mediaprops is the persistent, content-hash keyed cache of media
// probe results. Builds read and insert concurrently from their workers;
// inserts reach SQLite only when Commit is called, once per build.
package mediaprops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// ProbeVersion is stored with every row. Rows written by another version are
// ignored on load, so a prober upgrade re-probes everything once.
const ProbeVersion = 1

// Cache maps content hashes to probed media properties.
type Cache struct {
	db *sql.DB

	mu      sync.RWMutex
	entries map[pak.ContentHash]pak.MediaProps
	pending map[pak.ContentHash]pak.MediaProps
}

// Open loads the cache stored at path, creating the database if needed.
func Open(ctx context.Context, path string) (*Cache, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "missing media props database path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "creating state directory", err).WithPath(p)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "opening media props database", err).WithPath(p)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.NewIOError(errors.ErrCodeWriteFailed, "initializing media props schema", err).WithPath(p)
	}

	c := NewEphemeral()
	c.db = db
	if err := c.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

// NewEphemeral returns a cache with no backing database; Commit is a no-op.
func NewEphemeral() *Cache {
	return &Cache{
		entries: make(map[pak.ContentHash]pak.MediaProps),
		pending: make(map[pak.ContentHash]pak.MediaProps),
	}
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=3000;`); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS media_props (
	hash        TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	density     INTEGER NOT NULL,
	codec       TEXT NOT NULL,
	container   TEXT NOT NULL DEFAULT '',
	audio_codec TEXT NOT NULL DEFAULT '',
	duration    REAL NOT NULL DEFAULT 0
)`)

	return err
}

func (c *Cache) load(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `
SELECT hash, kind, width, height, density, codec, container, audio_codec, duration
FROM media_props
WHERE version = ?`, ProbeVersion)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeReadFailed, "loading media props", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var (
			hash string
			kind string
			mp   pak.MediaProps
		)
		if err := rows.Scan(&hash, &kind, &mp.Width, &mp.Height, &mp.Density, &mp.Codec, &mp.Container, &mp.AudioCodec, &mp.Duration); err != nil {
			return errors.NewIOError(errors.ErrCodeReadFailed, "scanning media props", err)
		}
		mp.Kind = pak.MediaKind(kind)
		c.entries[pak.ContentHash(hash)] = mp
	}
	if err := rows.Err(); err != nil {
		return errors.NewIOError(errors.ErrCodeReadFailed, "loading media props", err)
	}

	return nil
}

// Get returns the cached properties for hash.
func (c *Cache) Get(hash pak.ContentHash) (pak.MediaProps, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mp, ok := c.entries[hash]

	return mp, ok
}

// Insert records props for hash. It is visible to Get immediately and
// persisted by the next Commit.
func (c *Cache) Insert(hash pak.ContentHash, mp pak.MediaProps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = mp
	c.pending[hash] = mp
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Commit writes pending inserts in one transaction.
func (c *Cache) Commit(ctx context.Context) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[pak.ContentHash]pak.MediaProps)
	c.mu.Unlock()

	if c.db == nil || len(pending) == 0 {
		return nil
	}

	if err := c.write(ctx, pending); err != nil {
		// Put them back so a later commit can retry.
		c.mu.Lock()
		for h, mp := range pending {
			if _, ok := c.pending[h]; !ok {
				c.pending[h] = mp
			}
		}
		c.mu.Unlock()
		return err
	}

	return nil
}

func (c *Cache) write(ctx context.Context, pending map[pak.ContentHash]pak.MediaProps) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "begin media props commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO media_props
	(hash, version, kind, width, height, density, codec, container, audio_codec, duration)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "prepare media props insert", err)
	}
	defer stmt.Close()

	for h, mp := range pending {
		if _, err := stmt.ExecContext(ctx, string(h), ProbeVersion, string(mp.Kind),
			mp.Width, mp.Height, mp.Density, mp.Codec, mp.Container, mp.AudioCodec, mp.Duration); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "insert media props", err).WithPath(string(h))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "commit media props", err)
	}

	return nil
}

// Close closes the backing database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	return c.db.Close()
}
