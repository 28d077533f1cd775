// Package postgres records pipeline runs in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for the run ledger.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RunStore writes one row per pipeline run.
type RunStore struct {
	pool  pool
	table string
}

var _ pipeline.Ledger = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
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
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pipeline_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table and its lookup index when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id            TEXT PRIMARY KEY,
	variant           TEXT NOT NULL,
	success           BOOLEAN NOT NULL,
	records_written   INTEGER NOT NULL,
	pages_attempted   INTEGER NOT NULL,
	pages_fetched     INTEGER NOT NULL,
	pages_failed      INTEGER NOT NULL,
	merged            INTEGER NOT NULL,
	expired           INTEGER NOT NULL,
	baseline_injected INTEGER NOT NULL,
	candidates        JSONB NOT NULL,
	discarded         JSONB NOT NULL,
	location          TEXT,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ NOT NULL,
	error_message     TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_variant_started_idx ON %[1]s (variant, started_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create run ledger: %w", err)
	}
	return nil
}

// RecordRun upserts the run's summary row.
func (s *RunStore) RecordRun(ctx context.Context, r pipeline.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if r.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	candidates, err := json.Marshal(counts(r.Candidates))
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	discarded, err := json.Marshal(counts(r.Discarded))
	if err != nil {
		return fmt.Errorf("marshal discarded: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	variant,
	success,
	records_written,
	pages_attempted,
	pages_fetched,
	pages_failed,
	merged,
	expired,
	baseline_injected,
	candidates,
	discarded,
	location,
	started_at,
	finished_at,
	error_message
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (run_id) DO UPDATE SET
	success = EXCLUDED.success,
	records_written = EXCLUDED.records_written,
	finished_at = EXCLUDED.finished_at,
	error_message = EXCLUDED.error_message`, s.table)

	args := []any{
		r.RunID,
		string(r.Variant),
		r.Success,
		r.RecordsWritten,
		r.PagesAttempted,
		r.PagesFetched,
		r.PagesFailed,
		r.Merged,
		r.Expired,
		r.BaselineInjected,
		candidates,
		discarded,
		nullable(r.Location),
		r.StartedAt,
		r.FinishedAt,
		nullable(r.Error),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns recorded runs newest first. An empty variant lists every variant.
func (s *RunStore) ListRuns(ctx context.Context, variant pipeline.Variant, limit, offset int) ([]pipeline.Result, error) {
	query := fmt.Sprintf(`
SELECT run_id, variant, success, records_written, pages_attempted, pages_fetched, pages_failed,
	merged, expired, baseline_injected, candidates, discarded, location, started_at, finished_at, error_message
FROM %s
WHERE ($1 = '' OR variant = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.table)

	rows, err := s.pool.Query(ctx, query, string(variant), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []pipeline.Result{}
	for rows.Next() {
		var (
			r                     pipeline.Result
			variantName           string
			candidates, discarded []byte
			location, errMsg      *string
		)
		err := rows.Scan(
			&r.RunID,
			&variantName,
			&r.Success,
			&r.RecordsWritten,
			&r.PagesAttempted,
			&r.PagesFetched,
			&r.PagesFailed,
			&r.Merged,
			&r.Expired,
			&r.BaselineInjected,
			&candidates,
			&discarded,
			&location,
			&r.StartedAt,
			&r.FinishedAt,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Variant = pipeline.Variant(variantName)
		if err := json.Unmarshal(candidates, &r.Candidates); err != nil {
			return nil, fmt.Errorf("decode candidates for run %s: %w", r.RunID, err)
		}
		if err := json.Unmarshal(discarded, &r.Discarded); err != nil {
			return nil, fmt.Errorf("decode discarded for run %s: %w", r.RunID, err)
		}
		if location != nil {
			r.Location = *location
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func counts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
