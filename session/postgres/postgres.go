// Package postgres provides a PostgreSQL-backed session ledger store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgf-fleet/pgfgate/session"
)

const sweepTimeout = 30 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pgfgate_sessions (
	key        TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pgfgate_sessions_expires_at ON pgfgate_sessions (expires_at);
`

// EnsureSchema creates the sessions table and its index if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Store implements session.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ session.Store   = (*Store)(nil)
	_ session.Sweeper = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN connects to PostgreSQL, ensures the schema and returns a
// Store that owns the pool.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (session.Record, bool) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM pgfgate_sessions WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)
	if err != nil {
		return session.Record{}, false
	}
	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return session.Record{}, false
	}
	if rec.Expired(time.Now()) {
		return session.Record{}, false
	}
	return rec, true
}

func (s *Store) Put(ctx context.Context, key string, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pgfgate_sessions (key, record, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`,
		key, data, rec.ExpiresAt,
	)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pgfgate_sessions WHERE key = $1`, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return nil
}

// Sweep deletes every record that expired before now and returns how many
// rows went away. Errors count as zero removed.
func (s *Store) Sweep(now time.Time) int {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM pgfgate_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0
	}
	return int(tag.RowsAffected())
}
