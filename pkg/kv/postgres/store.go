// Package postgres stores kv hashes as rows of a single table, one row per
// (namespace, field).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a Postgres-backed implementation of the kv.Store interface
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, applies pending migrations and returns the store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, kv.Wrap("ping", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := Migrate(db); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate brings the schema up to date.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return goose.Down(db, "migrations")
}

// MigrationStatus prints the migration state through goose's logger.
func MigrationStatus(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return goose.Status(db, "migrations")
}

// globToLike turns a Redis glob into a LIKE pattern.
func globToLike(pattern string) string {
	if pattern == "" {
		return "%"
	}
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key operations

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT namespace) FROM kv_hash WHERE namespace = ANY($1)`, keys).Scan(&n)
	return n, kv.Wrap("exists", err)
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT namespace FROM kv_hash WHERE namespace LIKE $1 ORDER BY namespace`, globToLike(pattern))
	if err != nil {
		return nil, kv.Wrap("keys", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, kv.Wrap("keys", err)
	}
	return keys, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`WITH d AS (DELETE FROM kv_hash WHERE namespace = ANY($1) RETURNING namespace)
		 SELECT count(DISTINCT namespace) FROM d`, keys).Scan(&n)
	return n, kv.Wrap("del", err)
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_hash (namespace, field, value, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, field) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, field, value, time.Now().UTC())
	return kv.Wrap("hset", err)
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_hash WHERE namespace = $1 AND field = $2`, key, field).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, kv.Wrap("hget", err)
	}
	return value, nil
}

func (s *Store) HExists(ctx context.Context, key string, field string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kv_hash WHERE namespace = $1 AND field = $2)`, key, field).Scan(&ok)
	return ok, kv.Wrap("hexists", err)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kv_hash WHERE namespace = $1 AND field = ANY($2)`, key, fields)
	if err != nil {
		return 0, kv.Wrap("hdel", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value FROM kv_hash WHERE namespace = $1`, key)
	if err != nil {
		return nil, kv.Wrap("hgetall", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var field string
		var value []byte
		if err := rows.Scan(&field, &value); err != nil {
			return nil, kv.Wrap("hgetall", err)
		}
		result[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, kv.Wrap("hgetall", err)
	}
	if len(result) == 0 {
		return nil, kv.ErrNotFound
	}
	return result, nil
}

// Ping checks if Postgres is reachable
func (s *Store) Ping(ctx context.Context) error {
	return kv.Wrap("ping", s.pool.Ping(ctx))
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
