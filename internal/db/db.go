// Package db implements the PostgreSQL persistence layer: agents, rounds,
// judgments, verdicts, score events, flip cards and the meta singleton.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/config"
)

// Pool is the subset of pgxpool.Pool the repositories use. It allows tests to
// substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Common sentinel errors surfaced by repositories.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// DB wraps the PostgreSQL connection pool together with retention limits.
type DB struct {
	pool      Pool
	retention config.RetentionConfig
	closeFn   func()
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg config.DatabaseConfig, retention config.RetentionConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.PoolSize)
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 10
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created successfully")

	return &DB{pool: pool, retention: retention, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool Pool, retention config.RetentionConfig) *DB {
	return &DB{pool: pool, retention: retention}
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.closeFn != nil {
		db.closeFn()
		log.Info().Msg("Database connection pool closed")
	}
}

// Ping checks database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.QueryRow(ctx, "SELECT 1").Scan(new(int))
}

// isUniqueViolation reports whether err is a primary-key/unique conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
