package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/models"
)

// SQLiteCache is the default persistent cache backend: a single-file sqlite
// database shared by every pipeline run on the machine. Safe for concurrent
// use through the database/sql pool plus a busy timeout.
type SQLiteCache struct {
	db *sql.DB
}

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	text       TEXT NOT NULL,
	model      TEXT NOT NULL,
	vector     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (text, model)
);`

// NewSQLiteCache opens (creating if needed) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path cannot be empty")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := db.Exec(sqliteCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite cache schema: %w", err)
	}
	log.Debugf("sqlite embedding cache ready at %s", path)
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, text, model string) ([]float64, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embedding_cache WHERE text = ? AND model = ?`,
		NormalizeKey(text), model).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", models.ErrCacheUnavailable, err)
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		// A corrupt row is treated as a miss; the re-fetch overwrites it.
		log.Warnf("corrupt cache entry for model %s, treating as miss: %v", model, err)
		return nil, false, nil
	}
	return vec, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, text, model string, vector []float64) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode cache vector: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (text, model, vector) VALUES (?, ?, ?)`,
		NormalizeKey(text), model, string(raw))
	if err != nil {
		return fmt.Errorf("%w: put: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

// Count returns the number of cached entries, for diagnostics.
func (c *SQLiteCache) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", models.ErrCacheUnavailable, err)
	}
	return n, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

var _ Cache = (*SQLiteCache)(nil)
