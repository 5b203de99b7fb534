package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed implementation of the kv.Store interface
type Store struct {
	client *redis.Client
}

// Options configures a Redis connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	ClientName string
	// HealthCheckInterval is how long an idle pooled connection may be
	// reused before go-redis discards it.
	HealthCheckInterval time.Duration
	DialTimeout         time.Duration
}

func (o Options) redisOptions() *redis.Options {
	opt := &redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		ClientName:   o.ClientName,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	}
	if o.HealthCheckInterval > 0 {
		opt.ConnMaxIdleTime = o.HealthCheckInterval
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	return opt
}

// New creates a Redis-backed store and verifies the connection.
func New(o Options) (*Store, error) {
	return connect(redis.NewClient(o.redisOptions()))
}

// NewFromURL creates a store from a redis:// URL.
func NewFromURL(redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return connect(redis.NewClient(opt))
}

// NewLazy creates a Redis-backed store without contacting the server.
// The first command dials.
func NewLazy(o Options) *Store {
	return NewWithClient(redis.NewClient(o.redisOptions()))
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func connect(client *redis.Client) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, kv.Wrap("ping", err)
	}
	return &Store{client: client}, nil
}

// IsConnectionError checks if an error is a network failure
func IsConnectionError(err error) bool {
	return err != nil && !errors.Is(err, redis.Nil) && kv.Classify(err) == kv.KindNetwork
}

// wrap converts redis.Nil to kv.ErrNotFound and classifies everything else.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return kv.ErrNotFound
	}
	return kv.Wrap(op, err)
}

// Key operations

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, wrap("exists", err)
}

// Keys walks the keyspace with SCAN rather than the blocking KEYS command.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", err)
	}
	return keys, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap("del", err)
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	return wrap("hset", s.client.HSet(ctx, key, field, value).Err())
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	result, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return nil, wrap("hget", err)
	}
	return result, nil
}

func (s *Store) HExists(ctx context.Context, key string, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	return ok, wrap("hexists", err)
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := s.client.HDel(ctx, key, fields...).Result()
	return n, wrap("hdel", err)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}

	// Redis reports a missing key as an empty hash
	if len(result) == 0 {
		return nil, kv.ErrNotFound
	}

	byteMap := make(map[string][]byte, len(result))
	for field, value := range result {
		byteMap[field] = []byte(value)
	}
	return byteMap, nil
}

// Ping checks if Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
