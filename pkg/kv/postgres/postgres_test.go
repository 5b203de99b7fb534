package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/leafsii/redisdb/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping Postgres tests")
	}

	factory := func(t *testing.T) kv.Store {
		ctx := context.Background()
		store, err := New(ctx, dsn)
		if err != nil {
			t.Fatalf("Failed to create Postgres store: %v", err)
		}
		if _, err := store.pool.Exec(ctx, `TRUNCATE kv_hash`); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		return store
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestGlobToLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "%"},
		{"*", "%"},
		{"test:*", "test:%"},
		{"a?c", "a_c"},
		{"50%_off", `50\%\_off`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, globToLike(tt.in))
		})
	}
}
