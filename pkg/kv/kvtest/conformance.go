// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/leafsii/redisdb/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	t.Run("KeyOperations", func(t *testing.T) {
		testKeyOperations(t, factory)
	})
	t.Run("HashOperations", func(t *testing.T) {
		testHashOperations(t, factory)
	})
	t.Run("HealthCheck", func(t *testing.T) {
		testHealthCheck(t, factory)
	})
}

func run(t *testing.T, factory StoreFactory, tests []struct {
	name string
	test func(t *testing.T, store kv.Store)
}) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testKeyOperations(t *testing.T, factory StoreFactory) {
	run(t, factory, []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"Exists", testExists},
		{"Keys", testKeys},
		{"Del", testDel},
	})
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	count, err := store.Exists(ctx, "test:exists")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 for missing key, got %d", count)
	}

	if err := store.HSet(ctx, "test:exists", "f", []byte("{}")); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	count, err = store.Exists(ctx, "test:exists", "test:exists-missing")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1, got %d", count)
	}
}

func testKeys(t *testing.T, store kv.Store) {
	ctx := context.Background()

	store.HSet(ctx, "test:keys:a", "f", []byte("1"))
	store.HSet(ctx, "test:keys:b", "f", []byte("2"))
	store.HSet(ctx, "other:keys", "f", []byte("3"))

	keys, err := store.Keys(ctx, "test:keys:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}

	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["test:keys:a"] || !found["test:keys:b"] || found["other:keys"] {
		t.Fatalf("Unexpected key listing: %v", keys)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()

	store.HSet(ctx, "test:del", "f", []byte("1"))

	deleted, err := store.Del(ctx, "test:del", "test:del-missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	if _, err := store.HGet(ctx, "test:del", "f"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after Del, got %v", err)
	}
}

func testHashOperations(t *testing.T, factory StoreFactory) {
	run(t, factory, []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"HSetGet", testHSetGet},
		{"HSetOverwrite", testHSetOverwrite},
		{"HExists", testHExists},
		{"HGetAll", testHGetAll},
		{"HDel", testHDel},
	})
}

func testHSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash"
	field := "field1"
	value := []byte(`{"count":1}`)

	if err := store.HSet(ctx, key, field, value); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	result, err := store.HGet(ctx, key, field)
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %s, got %s", value, result)
	}

	if _, err := store.HGet(ctx, key, "nonexistent"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent field, got %v", err)
	}
	if _, err := store.HGet(ctx, "test:hash-missing", field); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}
}

func testHSetOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-overwrite"

	store.HSet(ctx, key, "f", []byte(`{"count":1}`))
	store.HSet(ctx, key, "f", []byte(`{"count":2}`))

	result, err := store.HGet(ctx, key, "f")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(result) != `{"count":2}` {
		t.Fatalf("Expected last write to win, got %s", result)
	}
}

func testHExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-exists"

	ok, err := store.HExists(ctx, key, "f")
	if err != nil {
		t.Fatalf("HExists failed: %v", err)
	}
	if ok {
		t.Fatalf("Expected missing field on missing key")
	}

	store.HSet(ctx, key, "f", []byte("{}"))

	ok, err = store.HExists(ctx, key, "f")
	if err != nil {
		t.Fatalf("HExists failed: %v", err)
	}
	if !ok {
		t.Fatalf("Expected field to exist")
	}

	ok, err = store.HExists(ctx, key, "g")
	if err != nil {
		t.Fatalf("HExists failed: %v", err)
	}
	if ok {
		t.Fatalf("Expected other field to be missing")
	}
}

func testHGetAll(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-all"

	store.HSet(ctx, key, "field1", []byte("value1"))
	store.HSet(ctx, key, "field2", []byte("value2"))

	result, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}

	expected := map[string][]byte{
		"field1": []byte("value1"),
		"field2": []byte("value2"),
	}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("Expected %v, got %v", expected, result)
	}

	if _, err := store.HGetAll(ctx, "nonexistent"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}
}

func testHDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-del"

	store.HSet(ctx, key, "field1", []byte("value1"))
	store.HSet(ctx, key, "field2", []byte("value2"))

	deleted, err := store.HDel(ctx, key, "field1")
	if err != nil {
		t.Fatalf("HDel failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	if _, err := store.HGet(ctx, key, "field1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected field1 to be deleted")
	}
	if _, err := store.HGet(ctx, key, "field2"); err != nil {
		t.Fatalf("Expected field2 to remain: %v", err)
	}
}

func testHealthCheck(t *testing.T, factory StoreFactory) {
	store := factory(t)
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
