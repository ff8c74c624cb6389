// Package postgres persists session results in a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/storage"
)

const defaultTable = "patent_sessions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for session rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SessionStore keeps one row per session key holding the latest records as
// JSONB.
type SessionStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewSessionStore connects to Postgres using cfg.
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{pool: p, table: table, now: time.Now}, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(p pool, table string) (*SessionStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: p, table: table, now: time.Now}, nil
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
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping round-trips a trivial query; it backs the readiness probe.
func (s *SessionStore) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the session table when it does not exist.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	session_key TEXT PRIMARY KEY,
	records JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// PutResults upserts the session row; the latest run wins.
func (s *SessionStore) PutResults(ctx context.Context, sessionKey string, records []crawler.PatentRecord) error {
	if sessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	data, err := storage.Encode(records)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (session_key, records, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_key) DO UPDATE
SET records = EXCLUDED.records, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, sessionKey, data, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetResults loads the session's records.
func (s *SessionStore) GetResults(ctx context.Context, sessionKey string) ([]crawler.PatentRecord, error) {
	query := fmt.Sprintf(`SELECT records FROM %s WHERE session_key = $1`, s.table)
	var raw []byte
	err := s.pool.QueryRow(ctx, query, sessionKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return storage.Decode(raw)
}
