// Package postgres keeps cache entry metadata in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/waybacker/internal/archive"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "wayback_entries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for entry rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Backend stores one row per normalized URL.
type Backend struct {
	pool  pgxPool
	table string
}

// Open connects to Postgres and creates the entry table when it is missing.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
	b, err := NewWithPool(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewWithPool constructs a backend from an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, pool pgxPool, table string) (*Backend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	b := &Backend{pool: pool, table: table}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func (b *Backend) ensureSchema(ctx context.Context) error {
	var exists bool
	err := b.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_name = $1
)`, b.table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check entry table: %w", err)
	}
	if exists {
		return nil
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	success BOOLEAN NOT NULL,
	mime_kind TEXT,
	blob_file_name TEXT,
	snapshot_available BOOLEAN,
	snapshot_status INT,
	snapshot_url TEXT,
	snapshot_timestamp TEXT,
	collected_at TIMESTAMPTZ NOT NULL,
	error_kind TEXT,
	error TEXT,
	content_hash TEXT
)`, b.table)
	if _, err := b.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create entry table: %w", err)
	}
	return nil
}

func (b *Backend) selectQuery(where string) string {
	return fmt.Sprintf(`
SELECT
	url,
	success,
	COALESCE(mime_kind, ''),
	COALESCE(blob_file_name, ''),
	snapshot_available IS NOT NULL,
	COALESCE(snapshot_available, false),
	COALESCE(snapshot_status, 0),
	COALESCE(snapshot_url, ''),
	COALESCE(snapshot_timestamp, ''),
	collected_at,
	COALESCE(error_kind, ''),
	COALESCE(error, ''),
	COALESCE(content_hash, '')
FROM %s%s`, b.table, where)
}

// Lookup returns every row stored for url.
func (b *Backend) Lookup(ctx context.Context, url string) ([]archive.CacheEntry, error) {
	rows, err := b.pool.Query(ctx, b.selectQuery(" WHERE url = $1"), url)
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	defer rows.Close()

	var entries []archive.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read entry rows: %w", err)
	}
	return entries, nil
}

// Upsert inserts or replaces the row keyed by entry.URL.
func (b *Backend) Upsert(ctx context.Context, entry archive.CacheEntry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	success,
	mime_kind,
	blob_file_name,
	snapshot_available,
	snapshot_status,
	snapshot_url,
	snapshot_timestamp,
	collected_at,
	error_kind,
	error,
	content_hash
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (url) DO UPDATE SET
	success = EXCLUDED.success,
	mime_kind = EXCLUDED.mime_kind,
	blob_file_name = EXCLUDED.blob_file_name,
	snapshot_available = EXCLUDED.snapshot_available,
	snapshot_status = EXCLUDED.snapshot_status,
	snapshot_url = EXCLUDED.snapshot_url,
	snapshot_timestamp = EXCLUDED.snapshot_timestamp,
	collected_at = EXCLUDED.collected_at,
	error_kind = EXCLUDED.error_kind,
	error = EXCLUDED.error,
	content_hash = EXCLUDED.content_hash`, b.table)

	if _, err := b.pool.Exec(ctx, query, upsertArgs(entry)...); err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// Scan enumerates every row. Each call runs a new query.
func (b *Backend) Scan(ctx context.Context) iter.Seq2[archive.CacheEntry, error] {
	return func(yield func(archive.CacheEntry, error) bool) {
		rows, err := b.pool.Query(ctx, b.selectQuery(""))
		if err != nil {
			yield(archive.CacheEntry{}, fmt.Errorf("query entries: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				yield(archive.CacheEntry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(archive.CacheEntry{}, fmt.Errorf("read entry rows: %w", err))
		}
	}
}

// Close releases the underlying pool resources.
func (b *Backend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}

func upsertArgs(entry archive.CacheEntry) []any {
	var (
		available any
		status    any
		snapURL   any
		timestamp any
	)
	if entry.Snapshot != nil {
		available = entry.Snapshot.Available
		status = entry.Snapshot.Status
		snapURL = entry.Snapshot.SnapshotURL
		timestamp = entry.Snapshot.Timestamp
	}
	return []any{
		entry.URL,
		entry.Success,
		nullable(string(entry.MimeKind)),
		nullable(entry.BlobFileName),
		available,
		status,
		snapURL,
		timestamp,
		entry.CollectedAt,
		nullable(string(entry.ErrorKind)),
		nullable(entry.Error),
		nullable(entry.ContentHash),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanEntry(rows pgx.Rows) (archive.CacheEntry, error) {
	var (
		entry       archive.CacheEntry
		mimeKind    string
		errorKind   string
		hasSnapshot bool
		snap        archive.SnapshotReference
	)
	err := rows.Scan(
		&entry.URL,
		&entry.Success,
		&mimeKind,
		&entry.BlobFileName,
		&hasSnapshot,
		&snap.Available,
		&snap.Status,
		&snap.SnapshotURL,
		&snap.Timestamp,
		&entry.CollectedAt,
		&errorKind,
		&entry.Error,
		&entry.ContentHash,
	)
	if err != nil {
		return archive.CacheEntry{}, fmt.Errorf("scan entry row: %w", err)
	}
	entry.MimeKind = archive.MimeKind(mimeKind)
	entry.ErrorKind = archive.ErrorKind(errorKind)
	entry.CollectedAt = entry.CollectedAt.UTC()
	if hasSnapshot {
		entry.Snapshot = &snap
	}
	return entry, nil
}
