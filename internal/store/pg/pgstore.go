// Package pg is the Postgres store backend on database/sql with the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"restgen.dev/internal/store"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

var _ store.Store = (*Store)(nil)

// PoolConfig tunes the connection pool. Zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(orDefault(pool.MaxOpenConns, 50))
	db.SetMaxIdleConns(orDefault(pool.MaxIdleConns, 25))
	db.SetConnMaxLifetime(orDefault(pool.ConnMaxLifetime, 15*time.Minute))
	db.SetConnMaxIdleTime(orDefault(pool.ConnMaxIdleTime, 5*time.Minute))
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Records() store.RecordStore { return records{s} }

func (s *Store) Directory() store.Directory { return directory{s} }

func (s *Store) Audit() store.AuditStore { return auditLog{s} }

// Writer exposes directory creation for seeding.
func (s *Store) Writer() store.DirectoryWriter { return directory{s} }

// WithinTx runs fn in a transaction. A nested call joins the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}
