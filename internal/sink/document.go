// Package sink persists parsed products to the document store and the
// line-delimited output file.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pulscan/catalog-crawler/internal/model"
	"github.com/pulscan/catalog-crawler/internal/telemetry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DocumentStoreConfig controls the Postgres connection pool and the
// per-write retry policy.
type DocumentStoreConfig struct {
	DSN         string
	Table       string
	MaxConns    int32
	MaxRetries  int
	BackoffBase time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// DocumentStore upserts product documents keyed by their source URL, so a
// repeated crawl of the same URL replaces the prior record instead of
// duplicating it.
type DocumentStore struct {
	pool        execCloser
	table       string
	maxRetries  int
	backoffBase time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDocumentStore connects a pool to the configured database. A connection
// failure here is fatal for the whole run.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig, logger *zap.Logger) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newDocumentStore(pool, cfg, logger)
}

// NewDocumentStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewDocumentStoreWithPool(pool execCloser, cfg DocumentStoreConfig, logger *zap.Logger) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newDocumentStore(pool, cfg, logger)
}

func newDocumentStore(pool execCloser, cfg DocumentStoreConfig, logger *zap.Logger) (*DocumentStore, error) {
	table := cfg.Table
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{
		pool:        pool,
		table:       table,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
		sleep:       sleepContext,
	}, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the product table if it does not exist yet.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	doc JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// Upsert writes the product keyed by its URL, replacing any prior record.
// Transient failures are retried with linear backoff before the write is
// treated as terminal for this product.
func (s *DocumentStore) Upsert(ctx context.Context, p model.Product) error {
	if p.URL == "" {
		return fmt.Errorf("product url is required")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product %s: %w", p.URL, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, doc, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (url) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, s.table)

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if _, err := s.pool.Exec(ctx, query, p.URL, doc); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if ctx.Err() != nil || attempt == s.maxRetries {
			break
		}
		telemetry.StoreRetries.Inc()
		s.logger.Warn("document upsert failed, retrying",
			zap.String("url", p.URL),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.maxRetries),
			zap.Error(lastErr),
		)
		if serr := s.sleep(ctx, s.backoffBase*time.Duration(attempt)); serr != nil {
			lastErr = serr
			break
		}
	}
	return fmt.Errorf("upsert %s after %d attempts: %w", p.URL, s.maxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("store backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
