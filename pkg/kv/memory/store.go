package memory

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/leafsii/redisdb/pkg/kv"
)

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu     sync.RWMutex
	hashes map[string]map[string][]byte
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		hashes: make(map[string]map[string][]byte),
	}
}

// Key operations

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int64
	for _, key := range keys {
		if _, found := s.hashes[key]; found {
			exists++
		}
	}
	return exists, nil
}

// Keys matches with glob semantics close to Redis KEYS.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pattern == "" {
		pattern = "*"
	}
	keys := make([]string, 0, len(s.hashes))
	for key := range s.hashes {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if _, exists := s.hashes[key]; exists {
			delete(s.hashes, key)
			deleted++
		}
	}
	return deleted, nil
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashes[key] == nil {
		s.hashes[key] = make(map[string][]byte)
	}
	// Copy so callers can reuse their buffer.
	s.hashes[key][field] = append([]byte(nil), value...)
	return nil
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, exists := s.hashes[key]
	if !exists {
		return nil, kv.ErrNotFound
	}
	value, fieldExists := hash[field]
	if !fieldExists {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *Store) HExists(ctx context.Context, key string, field string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.hashes[key][field]
	return exists, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, exists := s.hashes[key]
	if !exists {
		return 0, nil
	}

	var deleted int64
	for _, field := range fields {
		if _, fieldExists := hash[field]; fieldExists {
			delete(hash, field)
			deleted++
		}
	}

	// Remove key if hash is empty
	if len(hash) == 0 {
		delete(s.hashes, key)
	}
	return deleted, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, exists := s.hashes[key]
	if !exists {
		return nil, kv.ErrNotFound
	}

	result := make(map[string][]byte, len(hash))
	for field, value := range hash {
		result[field] = append([]byte(nil), value...)
	}
	return result, nil
}

// Ping always returns nil for the in-memory store (always available)
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close drops all data
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hashes = make(map[string]map[string][]byte)
	return nil
}
