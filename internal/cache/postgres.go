package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/models"
)

// PostgresCache stores embeddings in a pgvector column so several worker
// machines can share one cache. The table must exist:
//
//	CREATE TABLE embedding_cache (
//	    text   TEXT NOT NULL,
//	    model  TEXT NOT NULL,
//	    vector vector NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (text, model)
//	);
type PostgresCache struct {
	db *pgxpool.Pool
}

// NewPostgresCache connects to the shared cache database.
func NewPostgresCache(ctx context.Context, dsn string) (*PostgresCache, error) {
	if dsn == "" {
		return nil, errors.New("postgres cache DSN cannot be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres cache DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres cache: %w", err)
	}
	log.Infof("connected to shared PostgreSQL embedding cache")
	return &PostgresCache{db: pool}, nil
}

func (c *PostgresCache) Get(ctx context.Context, text, model string) ([]float64, bool, error) {
	var vec pgvector.Vector
	err := c.db.QueryRow(ctx,
		`SELECT vector FROM embedding_cache WHERE text = $1 AND model = $2`,
		NormalizeKey(text), model).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", models.ErrCacheUnavailable, err)
	}
	f32 := vec.Slice()
	out := make([]float64, len(f32))
	for i, x := range f32 {
		out[i] = float64(x)
	}
	return out, true, nil
}

func (c *PostgresCache) Put(ctx context.Context, text, model string, vector []float64) error {
	f32 := make([]float32, len(vector))
	for i, x := range vector {
		f32[i] = float32(x)
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO embedding_cache (text, model, vector) VALUES ($1, $2, $3)
		 ON CONFLICT (text, model) DO UPDATE SET vector = EXCLUDED.vector`,
		NormalizeKey(text), model, pgvector.NewVector(f32))
	if err != nil {
		return fmt.Errorf("%w: put: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *PostgresCache) Close() error {
	c.db.Close()
	return nil
}

var _ Cache = (*PostgresCache)(nil)
