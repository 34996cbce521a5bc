// Package sqlite implements the pipeline's storage interfaces on a local
// sqlite database. Production deployments plug in their own TargetStore; this
// implementation makes the CLI usable end to end and backs the tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"semgroup/internal/models"
	"semgroup/internal/store"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS keywords (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	scope  INTEGER NOT NULL,
	text   TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_keywords_scope ON keywords(scope, id);

CREATE TABLE IF NOT EXISTS categories (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	scope INTEGER NOT NULL,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS type_samples (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	scope INTEGER NOT NULL,
	label TEXT NOT NULL,
	text  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	keyword_id INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	cluster_id TEXT NOT NULL DEFAULT '',
	similarity REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (keyword_id, kind)
);

CREATE TABLE IF NOT EXISTS ai_usage_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	provider_name TEXT NOT NULL,
	model_name    TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	text_count    INTEGER NOT NULL
);`

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func (s *Store) CountTargets(ctx context.Context, scope int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keywords WHERE scope = ?`, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count targets: %w", err)
	}
	return n, nil
}

func (s *Store) PageKeywords(ctx context.Context, scope, afterID int64, limit int) ([]*models.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source FROM keywords WHERE scope = ? AND id > ? ORDER BY id LIMIT ?`,
		scope, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("page keywords: %w", err)
	}
	defer rows.Close()

	var out []*models.Keyword
	for rows.Next() {
		kw := &models.Keyword{}
		if err := rows.Scan(&kw.ID, &kw.Text, &kw.Source); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		out = append(out, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListCategories(ctx context.Context, scope int64) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label FROM categories WHERE scope = ? ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []*models.Category
	for rows.Next() {
		c := &models.Category{}
		if err := rows.Scan(&c.ID, &c.Label); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListTypeSamples(ctx context.Context, scope int64) ([]*models.TypeSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, text FROM type_samples WHERE scope = ? ORDER BY id`, scope)
	if err != nil {
		return nil, fmt.Errorf("list type samples: %w", err)
	}
	defer rows.Close()

	var out []*models.TypeSample
	for rows.Next() {
		ts := &models.TypeSample{}
		if err := rows.Scan(&ts.ID, &ts.Label, &ts.Text); err != nil {
			return nil, fmt.Errorf("scan type sample row: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *Store) ClearPriorResults(ctx context.Context, scope int64, kind models.JobKind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE kind = ? AND keyword_id IN (SELECT id FROM keywords WHERE scope = ?)`,
		string(kind), scope)
	if err != nil {
		return fmt.Errorf("clear prior results: %w", err)
	}
	return nil
}

func (s *Store) WriteAssignment(ctx context.Context, a *models.Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assignments (keyword_id, kind, label, cluster_id, similarity) VALUES (?, ?, ?, ?, ?)`,
		a.KeywordID, string(a.Kind), a.Label, a.ClusterID, a.Similarity)
	if err != nil {
		return fmt.Errorf("write assignment: %w", err)
	}
	return nil
}

// --- Import helpers (used by the import command and tests) ---

func (s *Store) AddKeyword(ctx context.Context, scope int64, text, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (scope, text, source) VALUES (?, ?, ?)`, scope, text, source)
	if err != nil {
		return 0, fmt.Errorf("add keyword: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) AddCategory(ctx context.Context, scope int64, label string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (scope, label) VALUES (?, ?)`, scope, label)
	if err != nil {
		return 0, fmt.Errorf("add category: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) AddTypeSample(ctx context.Context, scope int64, label, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO type_samples (scope, label, text) VALUES (?, ?, ?)`, scope, label, text)
	if err != nil {
		return 0, fmt.Errorf("add type sample: %w", err)
	}
	return res.LastInsertId()
}

// ListAssignments returns the stored assignments for a scope and kind,
// ordered by keyword id. Used by the CLI to render results.
func (s *Store) ListAssignments(ctx context.Context, scope int64, kind models.JobKind) ([]*models.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.keyword_id, a.kind, a.label, a.cluster_id, a.similarity
		 FROM assignments a JOIN keywords k ON k.id = a.keyword_id
		 WHERE k.scope = ? AND a.kind = ? ORDER BY a.keyword_id`,
		scope, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		a := &models.Assignment{}
		var kind string
		if err := rows.Scan(&a.KeywordID, &kind, &a.Label, &a.ClusterID, &a.Similarity); err != nil {
			return nil, fmt.Errorf("scan assignment row: %w", err)
		}
		a.Kind = models.JobKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Usage log ---

func (s *Store) RecordUsage(ctx context.Context, entry *models.AIUsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_usage_log (timestamp, provider_name, model_name, input_tokens, text_count)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ProviderName, entry.ModelName, entry.InputTokens, entry.TextCount)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *Store) GetUsageSummary(ctx context.Context) (totalTokens, totalCalls int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COUNT(*) FROM ai_usage_log`).
		Scan(&totalTokens, &totalCalls)
	if err != nil {
		err = fmt.Errorf("usage summary: %w", err)
	}
	return
}

var (
	_ store.TargetStore = (*Store)(nil)
	_ store.UsageStore  = (*Store)(nil)
)
