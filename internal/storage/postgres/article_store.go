// Package postgres stores harvested articles in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/article-harvester/internal/crawler"
)

const defaultTable = "articles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArticleStore writes one row per article and one summary row per run.
type ArticleStore struct {
	pool   execCloser
	table  string
	runID  string
	hasher crawler.Hasher
	clock  crawler.Clock
}

// NewArticleStore connects to Postgres using cfg.
func NewArticleStore(ctx context.Context, cfg Config, runID string, hasher crawler.Hasher, clock crawler.Clock) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(pool, table, runID, hasher, clock)
}

// NewArticleStoreWithPool builds a store on an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool execCloser, table, runID string, hasher crawler.Hasher, clock crawler.Clock) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newStore(pool, name, runID, hasher, clock)
}

func newStore(pool execCloser, table, runID string, hasher crawler.Hasher, clock crawler.Clock) (*ArticleStore, error) {
	if runID == "" {
		pool.Close()
		return nil, fmt.Errorf("run id is required")
	}
	if hasher == nil || clock == nil {
		pool.Close()
		return nil, fmt.Errorf("hasher and clock are required")
	}
	return &ArticleStore{pool: pool, table: table, runID: runID, hasher: hasher, clock: clock}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the article and run tables when they are missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	articles := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       TEXT        NOT NULL,
	seq          INTEGER     NOT NULL,
	url          TEXT        NOT NULL,
	title        TEXT        NOT NULL,
	publish_time TEXT        NOT NULL DEFAULT '',
	publish_unit TEXT        NOT NULL DEFAULT '',
	content      TEXT        NOT NULL,
	content_hash TEXT        NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, seq)
)`, s.table)
	if _, err := s.pool.Exec(ctx, articles); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_runs (
	run_id         TEXT        PRIMARY KEY,
	submitted      INTEGER     NOT NULL,
	succeeded      INTEGER     NOT NULL,
	failed         INTEGER     NOT NULL,
	persist_failed INTEGER     NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create %s_runs table: %w", s.table, err)
	}
	return nil
}

// Save implements crawler.RecordSink. Re-saving the same run and sequence
// replaces the earlier row.
func (s *ArticleStore) Save(ctx context.Context, seq int, record crawler.ArticleRecord) error {
	digest, err := s.hasher.Hash([]byte(record.Content))
	if err != nil {
		return &crawler.PersistenceError{Path: s.table, Err: fmt.Errorf("hash content: %w", err)}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	seq,
	url,
	title,
	publish_time,
	publish_unit,
	content,
	content_hash,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (run_id, seq) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	publish_time = EXCLUDED.publish_time,
	publish_unit = EXCLUDED.publish_unit,
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		s.runID,
		seq,
		record.URL,
		record.Title,
		record.PublishTime,
		record.PublishUnit,
		record.Content,
		digest,
		s.clock.Now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return &crawler.PersistenceError{Path: s.table, Err: fmt.Errorf("insert article: %w", err)}
	}
	return nil
}

// Finish implements crawler.BatchFinisher by upserting the run summary.
func (s *ArticleStore) Finish(ctx context.Context, summary crawler.Summary) error {
	query := fmt.Sprintf(`
INSERT INTO %s_runs (run_id, submitted, succeeded, failed, persist_failed, finished_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id) DO UPDATE SET
	submitted = EXCLUDED.submitted,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	persist_failed = EXCLUDED.persist_failed,
	finished_at = EXCLUDED.finished_at`, s.table)
	_, err := s.pool.Exec(ctx, query,
		s.runID,
		summary.Submitted,
		summary.Succeeded,
		summary.Failed,
		summary.PersistFailed,
		s.clock.Now(),
	)
	if err != nil {
		return &crawler.PersistenceError{Path: s.table + "_runs", Err: fmt.Errorf("upsert run: %w", err)}
	}
	return nil
}
