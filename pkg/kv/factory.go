package kv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
	// BackendPostgres keeps hashes in a Postgres table
	BackendPostgres Backend = "postgres"
)

// LogFunc is a function type for structured logging
type LogFunc func(msg string, fields ...any)

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// RedisURL takes precedence over the discrete Redis fields when set.
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// ClientName is sent with CLIENT SETNAME on every connection
	ClientName string
	// HealthCheckInterval bounds how long an idle connection is reused
	// before it is checked again. Default: 1000 seconds
	HealthCheckInterval time.Duration
	DialTimeout         time.Duration

	// PostgresDSN is required when Backend is "postgres"
	PostgresDSN string

	// StartupProbeTimeout controls how long to wait for the backend at startup
	// Default: 2 seconds
	StartupProbeTimeout time.Duration
	// SkipStartupProbe returns the store without contacting the backend.
	// Connections are then made on first use, so a store can be built while
	// the backend is down. Backends that must migrate at startup ignore it.
	SkipStartupProbe bool

	// Logger is used for logging backend events. If nil, no logging occurs.
	Logger LogFunc
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Backend]StoreFactory)
)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backend] = factory
}

func lookup(backend Backend) (StoreFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[backend]
	return f, ok
}

// NewStoreFromConfig creates a new Store instance based on the provided
// configuration and verifies the backend answers a ping.
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 1000 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(msg string, fields ...any) {}
	}

	switch cfg.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis, BackendPostgres)
	}

	factory, ok := lookup(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", cfg.Backend)
	}

	store, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Backend, err)
	}

	if cfg.SkipStartupProbe {
		cfg.Logger("Store created without startup probe", "backend", string(cfg.Backend))
		return store, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s health check failed at startup: %w", cfg.Backend, err)
	}

	cfg.Logger("Store connected", "backend", string(cfg.Backend))
	return store, nil
}
