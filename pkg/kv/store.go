package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key or field is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable matches every failure talking to a remote backend
var ErrBackendUnavailable = errors.New("backend unavailable")

// Store defines the hash-oriented subset of Redis that records are kept in.
// A key is a namespace; each field inside it holds one serialized record.
type Store interface {
	// Key operations
	Exists(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)

	// Hash operations
	HSet(ctx context.Context, key string, field string, value []byte) error
	HGet(ctx context.Context, key string, field string) ([]byte, error)
	HExists(ctx context.Context, key string, field string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
